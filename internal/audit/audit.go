package audit

import (
	"context"
	"log/slog"
	"time"
)

// Logger emits operator-facing audit records for administrative mutations.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

// LogAction records a single administrative action against an entity.
func (al *Logger) LogAction(ctx context.Context, actorID int64, action, entity string, entityID int64, status, details string) {
	al.logger.Info("audit",
		slog.String("action", action),
		slog.String("entity", entity),
		slog.Int64("entity_id", entityID),
		slog.Int64("actor_id", actorID),
		slog.String("status", status),
		slog.String("details", details),
		slog.Time("timestamp", time.Now()),
	)
}

func (al *Logger) LogAdminAssignment(ctx context.Context, actorID, userID int64, status, details string) {
	al.LogAction(ctx, actorID, "assign_org_admin", "user", userID, status, details)
}

func (al *Logger) LogDeactivation(ctx context.Context, actorID int64, entity string, entityID int64, status, details string) {
	al.LogAction(ctx, actorID, "deactivate", entity, entityID, status, details)
}

func (al *Logger) LogDeletion(ctx context.Context, actorID, userID int64, status, details string) {
	al.LogAction(ctx, actorID, "delete", "user", userID, status, details)
}
