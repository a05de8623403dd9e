package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/yourorg/identsync/internal/domain"
)

// PostgresRoleRepository implements domain.RoleRepository using PostgreSQL.
// Roles are seeded reference data; this repository is read-only.
type PostgresRoleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRoleRepository creates a new role repository
func NewPostgresRoleRepository(db *sql.DB, logger *slog.Logger) *PostgresRoleRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresRoleRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a role by ID
func (r *PostgresRoleRepository) GetByID(ctx context.Context, id int64) (*domain.Role, error) {
	query := `
		SELECT id, title, user_type, status
		FROM roles
		WHERE id = $1
	`

	role := &domain.Role{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&role.ID, &role.Title, &role.UserType, &role.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return role, nil
}

// GetByTitle retrieves a role by its title
func (r *PostgresRoleRepository) GetByTitle(ctx context.Context, title string) (*domain.Role, error) {
	query := `
		SELECT id, title, user_type, status
		FROM roles
		WHERE title = $1
	`

	role := &domain.Role{}
	err := r.db.QueryRowContext(ctx, query, title).Scan(&role.ID, &role.Title, &role.UserType, &role.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get role by title: %w", err)
	}

	return role, nil
}

// ListByIDs retrieves the active roles in the given set
func (r *PostgresRoleRepository) ListByIDs(ctx context.Context, ids domain.IDSet) ([]*domain.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, title, user_type, status
		FROM roles
		WHERE id = ANY($1) AND status = $2
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids.Int64s()), domain.StatusActive)
	if err != nil {
		r.logger.Error("failed to list roles",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*domain.Role
	for rows.Next() {
		role := &domain.Role{}
		if err := rows.Scan(&role.ID, &role.Title, &role.UserType, &role.Status); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}
