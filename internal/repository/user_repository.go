package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/yourorg/identsync/internal/domain"
)

// PostgresUserRepository implements domain.UserRepository using PostgreSQL
type PostgresUserRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresUserRepository creates a new user repository
func NewPostgresUserRepository(db *sql.DB, logger *slog.Logger) *PostgresUserRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresUserRepository{
		db:     db,
		logger: logger,
	}
}

const userColumns = `id, name, email, password_hash, organization_id, roles, status, updated_by, created_at, updated_at, deleted_at`

func scanUser(row *sql.Row) (*domain.User, error) {
	user := &domain.User{}
	var roles pq.Int64Array
	var deletedAt sql.NullTime

	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.OrganizationID,
		&roles,
		&user.Status,
		&user.UpdatedBy,
		&user.CreatedAt,
		&user.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Roles = domain.NewIDSet(roles...)
	if deletedAt.Valid {
		t := deletedAt.Time
		user.DeletedAt = &t
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1
	`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("failed to get user by id",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByEmail retrieves a non-deleted user by email
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE lower(email) = lower($1) AND status <> $2
	`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, email, domain.StatusDeleted))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// Create creates a new user
func (r *PostgresUserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (name, email, password_hash, organization_id, roles, status, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.OrganizationID,
		pq.Array(user.Roles.Int64s()),
		user.Status,
		user.UpdatedBy,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create user",
			slog.String("email", user.Email),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// UpdateRoles writes the merged role set and organization assignment and
// returns the new updated_at for event versioning.
func (r *PostgresUserRepository) UpdateRoles(ctx context.Context, id int64, roles domain.IDSet, orgID int64) (time.Time, error) {
	query := `
		UPDATE users
		SET roles = $1, organization_id = $2, updated_at = now()
		WHERE id = $3 AND status <> $4
		RETURNING updated_at
	`

	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, query, pq.Array(roles.Int64s()), orgID, id, domain.StatusDeleted).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("failed to update user roles: %w", err)
	}

	return updatedAt, nil
}

// DeactivateByOrganization bulk-sets INACTIVE on every non-deleted user in
// the organization. Setting INACTIVE twice is a no-op, so the bulk update
// is safe to repeat after a partial failure.
func (r *PostgresUserRepository) DeactivateByOrganization(ctx context.Context, orgID, actorID int64) ([]int64, error) {
	query := `
		UPDATE users
		SET status = $1, updated_by = $2, updated_at = now()
		WHERE organization_id = $3 AND status <> $4
		RETURNING id
	`

	rows, err := r.db.QueryContext(ctx, query, domain.StatusInactive, actorID, orgID, domain.StatusDeleted)
	if err != nil {
		r.logger.Error("failed to deactivate users by organization",
			slog.Int64("organization_id", orgID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to deactivate users: %w", err)
	}
	defer rows.Close()

	return collectIDs(rows)
}

// DeactivateByFilter bulk-sets INACTIVE on users matched by ids or emails.
// The affected ids come from the update itself, not a follow-up read, so
// the caller emits session-deactivation events for exactly the rows it
// touched.
func (r *PostgresUserRepository) DeactivateByFilter(ctx context.Context, filter domain.UserFilter, actorID int64) ([]int64, error) {
	var query string
	var selector any

	switch {
	case len(filter.IDs) > 0:
		query = `
			UPDATE users
			SET status = $1, updated_by = $2, updated_at = now()
			WHERE id = ANY($3) AND status <> $4
			RETURNING id
		`
		selector = pq.Array(filter.IDs)
	case len(filter.Emails) > 0:
		query = `
			UPDATE users
			SET status = $1, updated_by = $2, updated_at = now()
			WHERE lower(email) = ANY($3) AND status <> $4
			RETURNING id
		`
		lowered := make([]string, len(filter.Emails))
		for i, e := range filter.Emails {
			lowered[i] = strings.ToLower(e)
		}
		selector = pq.Array(lowered)
	default:
		return nil, fmt.Errorf("empty user filter")
	}

	rows, err := r.db.QueryContext(ctx, query, domain.StatusInactive, actorID, selector, domain.StatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate users: %w", err)
	}
	defer rows.Close()

	return collectIDs(rows)
}

// Anonymize soft-deletes a user. Already-deleted users are untouched;
// status never leaves DELETED.
func (r *PostgresUserRepository) Anonymize(ctx context.Context, id int64, scrubbedEmail string) (int64, error) {
	query := `
		UPDATE users
		SET status = $1, name = 'Anonymous User', email = $2, password_hash = '',
		    roles = '{}', deleted_at = now(), updated_at = now()
		WHERE id = $3 AND status <> $1
	`

	result, err := r.db.ExecContext(ctx, query, domain.StatusDeleted, scrubbedEmail, id)
	if err != nil {
		return 0, fmt.Errorf("failed to anonymize user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows, nil
}

func collectIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
