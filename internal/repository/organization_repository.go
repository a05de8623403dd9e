package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/yourorg/identsync/internal/domain"
)

// PostgresOrganizationRepository implements domain.OrganizationRepository
// using PostgreSQL
type PostgresOrganizationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresOrganizationRepository creates a new organization repository
func NewPostgresOrganizationRepository(db *sql.DB, logger *slog.Logger) *PostgresOrganizationRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresOrganizationRepository{
		db:     db,
		logger: logger,
	}
}

const orgColumns = `id, name, code, description, org_admin, status, created_by, updated_by, created_at, updated_at`

func scanOrganization(scan func(dest ...any) error) (*domain.Organization, error) {
	org := &domain.Organization{}
	var admins pq.Int64Array

	err := scan(
		&org.ID,
		&org.Name,
		&org.Code,
		&org.Description,
		&admins,
		&org.Status,
		&org.CreatedBy,
		&org.UpdatedBy,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	org.OrgAdmin = domain.NewIDSet(admins...)
	return org, nil
}

// GetByID retrieves an organization by ID
func (r *PostgresOrganizationRepository) GetByID(ctx context.Context, id int64) (*domain.Organization, error) {
	query := `
		SELECT ` + orgColumns + `
		FROM organizations
		WHERE id = $1
	`

	org, err := scanOrganization(r.db.QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("failed to get organization by id",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return org, nil
}

// GetByCode retrieves an organization by its unique code
func (r *PostgresOrganizationRepository) GetByCode(ctx context.Context, code string) (*domain.Organization, error) {
	query := `
		SELECT ` + orgColumns + `
		FROM organizations
		WHERE code = $1
	`

	org, err := scanOrganization(r.db.QueryRowContext(ctx, query, code).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization by code: %w", err)
	}

	return org, nil
}

// Create creates a new organization
func (r *PostgresOrganizationRepository) Create(ctx context.Context, org *domain.Organization) error {
	query := `
		INSERT INTO organizations (name, code, description, org_admin, status, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		org.Name,
		org.Code,
		org.Description,
		pq.Array(org.OrgAdmin.Int64s()),
		org.Status,
		org.CreatedBy,
		org.UpdatedBy,
	).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create organization",
			slog.String("code", org.Code),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create organization: %w", err)
	}

	return nil
}

// Update writes mutable organization fields and returns the committed
// updated_at for event versioning. Code is immutable and never part of
// the update.
func (r *PostgresOrganizationRepository) Update(ctx context.Context, org *domain.Organization) (time.Time, error) {
	query := `
		UPDATE organizations
		SET name = $1, description = $2, updated_by = $3, updated_at = now()
		WHERE id = $4
		RETURNING updated_at
	`

	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, query, org.Name, org.Description, org.UpdatedBy, org.ID).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("failed to update organization: %w", err)
	}

	return updatedAt, nil
}

// MergeOrgAdmin unions the user into org_admin. The union happens inside
// the UPDATE itself, against the current row value, so two concurrent
// assignments on the same organization both land in the final set no
// matter which commits first. ErrNotFound means the organization vanished
// between read and write; callers treat that as a conflict, not a crash.
func (r *PostgresOrganizationRepository) MergeOrgAdmin(ctx context.Context, orgID, userID, actorID int64) (time.Time, error) {
	query := `
		UPDATE organizations
		SET org_admin = (
			SELECT coalesce(array_agg(DISTINCT a ORDER BY a), '{}')
			FROM unnest(org_admin || $1::bigint) AS a
		), updated_by = $2, updated_at = now()
		WHERE id = $3
		RETURNING updated_at
	`

	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, query, userID, actorID, orgID).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("failed to merge org admins: %w", err)
	}

	return updatedAt, nil
}

// SetStatus updates the organization status and returns affected rows.
func (r *PostgresOrganizationRepository) SetStatus(ctx context.Context, orgID int64, status string, actorID int64) (int64, error) {
	query := `
		UPDATE organizations
		SET status = $1, updated_by = $2, updated_at = now()
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, status, actorID, orgID)
	if err != nil {
		return 0, fmt.Errorf("failed to update organization status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows, nil
}

// ListByIDs retrieves active organizations by id
func (r *PostgresOrganizationRepository) ListByIDs(ctx context.Context, ids []int64) ([]*domain.Organization, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + orgColumns + `
		FROM organizations
		WHERE id = ANY($1) AND status = $2
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids), domain.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	return collectOrganizations(rows)
}

// Search lists organizations page by page, optionally filtered by a name
// or code substring.
func (r *PostgresOrganizationRepository) Search(ctx context.Context, page, pageSize int, searchText string) ([]*domain.Organization, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 100
	}

	query := `
		SELECT ` + orgColumns + `
		FROM organizations
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR code ILIKE '%' || $1 || '%')
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, searchText, pageSize, (page-1)*pageSize)
	if err != nil {
		r.logger.Error("failed to search organizations",
			slog.String("search", searchText),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to search organizations: %w", err)
	}
	defer rows.Close()

	return collectOrganizations(rows)
}

func collectOrganizations(rows *sql.Rows) ([]*domain.Organization, error) {
	var orgs []*domain.Organization
	for rows.Next() {
		org, err := scanOrganization(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}
