package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourorg/identsync/internal/domain"
)

// PostgresFormRepository implements domain.FormRepository using PostgreSQL
type PostgresFormRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresFormRepository creates a new form repository
func NewPostgresFormRepository(db *sql.DB, logger *slog.Logger) *PostgresFormRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresFormRepository{
		db:     db,
		logger: logger,
	}
}

// FindOne retrieves a form by id or by (type, sub_type), scoped to an
// organization.
func (r *PostgresFormRepository) FindOne(ctx context.Context, filter domain.FormFilter) (*domain.Form, error) {
	var row *sql.Row
	if filter.ID != 0 {
		query := `
			SELECT id, type, sub_type, org_id, data, version, created_at, updated_at
			FROM forms
			WHERE id = $1 AND org_id = $2
		`
		row = r.db.QueryRowContext(ctx, query, filter.ID, filter.OrgID)
	} else {
		query := `
			SELECT id, type, sub_type, org_id, data, version, created_at, updated_at
			FROM forms
			WHERE type = $1 AND sub_type = $2 AND org_id = $3
		`
		row = r.db.QueryRowContext(ctx, query, filter.Type, filter.SubType, filter.OrgID)
	}

	form := &domain.Form{}
	err := row.Scan(
		&form.ID,
		&form.Type,
		&form.SubType,
		&form.OrgID,
		&form.Data,
		&form.Version,
		&form.CreatedAt,
		&form.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find form: %w", err)
	}

	return form, nil
}

// Create creates a new form at version 1
func (r *PostgresFormRepository) Create(ctx context.Context, form *domain.Form) error {
	query := `
		INSERT INTO forms (type, sub_type, org_id, data, version)
		VALUES ($1, $2, $3, $4, 1)
		RETURNING id, version, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, form.Type, form.SubType, form.OrgID, form.Data).Scan(
		&form.ID,
		&form.Version,
		&form.CreatedAt,
		&form.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create form",
			slog.String("type", form.Type),
			slog.Int64("org_id", form.OrgID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create form: %w", err)
	}

	return nil
}

// Update replaces the form data, bumping the version. Returns affected
// rows so callers can report FORM_NOT_FOUND on zero.
func (r *PostgresFormRepository) Update(ctx context.Context, filter domain.FormFilter, data json.RawMessage) (int64, error) {
	var result sql.Result
	var err error

	if filter.ID != 0 {
		query := `
			UPDATE forms
			SET data = $1, version = version + 1, updated_at = now()
			WHERE id = $2 AND org_id = $3
		`
		result, err = r.db.ExecContext(ctx, query, data, filter.ID, filter.OrgID)
	} else {
		query := `
			UPDATE forms
			SET data = $1, version = version + 1, updated_at = now()
			WHERE type = $2 AND sub_type = $3 AND org_id = $4
		`
		result, err = r.db.ExecContext(ctx, query, data, filter.Type, filter.SubType, filter.OrgID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update form: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows, nil
}

// ListVersions returns every form's version keyed by organization and then
// by "<type>:<sub_type>".
func (r *PostgresFormRepository) ListVersions(ctx context.Context) (map[int64]map[string]int64, error) {
	query := `
		SELECT org_id, type, sub_type, version
		FROM forms
		ORDER BY org_id, type, sub_type
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list form versions: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]map[string]int64)
	for rows.Next() {
		var orgID, version int64
		var formType, subType string
		if err := rows.Scan(&orgID, &formType, &subType, &version); err != nil {
			return nil, fmt.Errorf("failed to scan form version: %w", err)
		}
		if out[orgID] == nil {
			out[orgID] = make(map[string]int64)
		}
		out[orgID][formType+":"+subType] = version
	}

	return out, rows.Err()
}
