package handler

import (
	"log/slog"
	"net/http"

	"github.com/yourorg/identsync/internal/broadcast"
	"github.com/yourorg/identsync/internal/worker"
)

// OpsHandler exposes the operational endpoints: manual view refresh and
// dead-letter inspection.
type OpsHandler struct {
	scheduler   *worker.ViewRefreshScheduler
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger
}

// NewOpsHandler creates a new ops handler
func NewOpsHandler(scheduler *worker.ViewRefreshScheduler, broadcaster *broadcast.Broadcaster, logger *slog.Logger) *OpsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsHandler{
		scheduler:   scheduler,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// TriggerRefresh handles POST /api/ops/refresh-views. The response says
// whether this request started a run or rode along with a pending one.
func (h *OpsHandler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	queued := h.scheduler.TriggerRefresh()

	message := "REFRESH_SCHEDULED"
	if !queued {
		message = "REFRESH_ALREADY_PENDING"
	}
	writeSuccess(w, http.StatusAccepted, message, map[string]bool{"queued": queued})
}

// DeadLetters handles GET /api/ops/dead-letters
func (h *OpsHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "DEAD_LETTERS_FOUND", h.broadcaster.DeadLetters())
}
