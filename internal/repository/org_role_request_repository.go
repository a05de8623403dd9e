package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourorg/identsync/internal/domain"
)

// PostgresOrgRoleRequestRepository implements
// domain.OrgRoleRequestRepository using PostgreSQL
type PostgresOrgRoleRequestRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresOrgRoleRequestRepository creates a new role request repository
func NewPostgresOrgRoleRequestRepository(db *sql.DB, logger *slog.Logger) *PostgresOrgRoleRequestRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresOrgRoleRequestRepository{
		db:     db,
		logger: logger,
	}
}

// FindRequested returns the open REQUESTED row for (requester, role).
func (r *PostgresOrgRoleRequestRepository) FindRequested(ctx context.Context, requesterID, roleID int64) (*domain.OrgRoleRequest, error) {
	query := `
		SELECT id, requester_id, role_id, organization_id, status, meta, created_at
		FROM org_role_requests
		WHERE requester_id = $1 AND role_id = $2 AND status = $3
	`

	req := &domain.OrgRoleRequest{}
	err := r.db.QueryRowContext(ctx, query, requesterID, roleID, domain.RequestStatusRequested).Scan(
		&req.ID,
		&req.RequesterID,
		&req.RoleID,
		&req.OrganizationID,
		&req.Status,
		&req.Meta,
		&req.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find role request: %w", err)
	}

	return req, nil
}

// Create creates a new role request in REQUESTED status
func (r *PostgresOrgRoleRequestRepository) Create(ctx context.Context, req *domain.OrgRoleRequest) error {
	query := `
		INSERT INTO org_role_requests (requester_id, role_id, organization_id, status, meta)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		req.RequesterID,
		req.RoleID,
		req.OrganizationID,
		domain.RequestStatusRequested,
		req.Meta,
	).Scan(&req.ID, &req.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create role request",
			slog.Int64("requester_id", req.RequesterID),
			slog.Int64("role_id", req.RoleID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create role request: %w", err)
	}

	req.Status = domain.RequestStatusRequested
	return nil
}
