package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/yourorg/identsync/internal/domain"
	"github.com/yourorg/identsync/internal/observability/metrics"
	"github.com/yourorg/identsync/internal/reliability/retry"
)

// ViewRefreshScheduler rebuilds the materialized views on a fixed interval
// and on demand. At most one refresh runs at a time; triggers that arrive
// while one is in flight coalesce into a single pending run.
type ViewRefreshScheduler struct {
	refresher domain.ViewRefresher
	logger    *slog.Logger
	interval  time.Duration

	// buffered(1): one refresh in flight plus at most one pending.
	trigger chan string

	// manualOnly suppresses the periodic ticker; TriggerRefresh still works.
	manualOnly bool
}

const defaultRefreshInterval = 9 * time.Minute

// NewViewRefreshScheduler creates a new view refresh scheduler
func NewViewRefreshScheduler(refresher domain.ViewRefresher, interval time.Duration, logger *slog.Logger) *ViewRefreshScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	// time.NewTicker panics on a non-positive interval.
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &ViewRefreshScheduler{
		refresher: refresher,
		logger:    logger,
		interval:  interval,
		trigger:   make(chan string, 1),
	}
}

// SetManualOnly suppresses the periodic ticker. Call before Start.
func (s *ViewRefreshScheduler) SetManualOnly(manualOnly bool) {
	s.manualOnly = manualOnly
}

// Start begins the refresh loop. It runs until ctx is cancelled.
func (s *ViewRefreshScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	if s.manualOnly {
		ticker.Stop()
		s.logger.Info("view refresh scheduler started in manual-only mode")
	} else {
		s.logger.Info("view refresh scheduler started", slog.Duration("interval", s.interval))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("view refresh scheduler stopped")
			return
		case <-ticker.C:
			s.enqueue("interval")
		case source := <-s.trigger:
			s.refresh(ctx, source)
		}
	}
}

// TriggerRefresh requests an immediate refresh. Returns false when a run is
// already pending, in which case the caller's request rides along with it.
func (s *ViewRefreshScheduler) TriggerRefresh() bool {
	return s.enqueue("manual")
}

func (s *ViewRefreshScheduler) enqueue(source string) bool {
	select {
	case s.trigger <- source:
		return true
	default:
		s.logger.Debug("refresh already pending, coalescing", slog.String("source", source))
		return false
	}
}

func (s *ViewRefreshScheduler) refresh(ctx context.Context, source string) {
	start := time.Now()

	err := retry.Err(ctx, &retry.Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}, s.logger, "refresh_views", s.refresher.Refresh)
	if err != nil {
		s.logger.Error("view refresh failed",
			slog.String("trigger", source),
			slog.String("error", err.Error()),
		)
		metrics.ObserveViewRefresh(source, "error", time.Since(start))
		return
	}

	s.logger.Info("views refreshed",
		slog.String("trigger", source),
		slog.Duration("took", time.Since(start)),
	)
	metrics.ObserveViewRefresh(source, "success", time.Since(start))
}
