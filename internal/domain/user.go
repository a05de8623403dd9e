package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

// Entity statuses. User status transitions are monotone toward DELETED;
// a deleted user is never resurrected.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
	StatusDeleted  = "DELETED"
)

// User represents a platform user
type User struct {
	ID             int64
	Name           string
	Email          string
	PasswordHash   string
	OrganizationID int64
	Roles          IDSet // deduplicated role ids
	Status         string
	UpdatedBy      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// UserFilter selects users for bulk deactivation. Exactly one of IDs or
// Emails must be non-empty; emails are matched case-insensitively.
type UserFilter struct {
	IDs    []int64
	Emails []string
}

// Empty reports whether the filter selects nothing.
func (f UserFilter) Empty() bool {
	return len(f.IDs) == 0 && len(f.Emails) == 0
}

// UserRepository defines data access for users. Mutations report the
// repository's updated_at so callers can version downstream events.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, user *User) error
	// UpdateRoles writes the merged role set and organization assignment.
	UpdateRoles(ctx context.Context, id int64, roles IDSet, orgID int64) (time.Time, error)
	// DeactivateByOrganization bulk-sets INACTIVE on every non-deleted user
	// in the organization and returns the affected user ids.
	DeactivateByOrganization(ctx context.Context, orgID, actorID int64) ([]int64, error)
	// DeactivateByFilter bulk-sets INACTIVE on users matched by the filter
	// and returns the affected user ids.
	DeactivateByFilter(ctx context.Context, filter UserFilter, actorID int64) ([]int64, error)
	// Anonymize soft-deletes a user: DELETED status, scrubbed identity
	// fields, deleted_at stamped. A no-op on already-deleted users.
	Anonymize(ctx context.Context, id int64, scrubbedEmail string) (int64, error)
}
