package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

// PostgresViewRefresher rebuilds the downstream materialized views. The
// refresh runs CONCURRENTLY so readers keep serving the previous build.
type PostgresViewRefresher struct {
	db     *sql.DB
	views  []string
	logger *slog.Logger
}

// NewPostgresViewRefresher creates a refresher for the given views.
func NewPostgresViewRefresher(db *sql.DB, views []string, logger *slog.Logger) *PostgresViewRefresher {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresViewRefresher{
		db:     db,
		views:  views,
		logger: logger,
	}
}

// Refresh rebuilds every configured view in order.
func (r *PostgresViewRefresher) Refresh(ctx context.Context) error {
	for _, view := range r.views {
		query := fmt.Sprintf("REFRESH MATERIALIZED VIEW CONCURRENTLY %s", pq.QuoteIdentifier(view))
		if _, err := r.db.ExecContext(ctx, query); err != nil {
			r.logger.Error("failed to refresh materialized view",
				slog.String("view", view),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("failed to refresh view %s: %w", view, err)
		}
		r.logger.Debug("materialized view refreshed", slog.String("view", view))
	}
	return nil
}
