package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Organization represents a tenant organization. Code is globally unique
// and immutable after creation.
type Organization struct {
	ID          int64
	Name        string
	Code        string
	Description string
	OrgAdmin    IDSet // deduplicated admin user ids
	Status      string
	CreatedBy   int64
	UpdatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrgDomain is an email domain registered to an organization.
type OrgDomain struct {
	ID             int64
	Domain         string
	OrganizationID int64
	CreatedBy      int64
	CreatedAt      time.Time
}

// Org role request statuses.
const (
	RequestStatusRequested = "REQUESTED"
	RequestStatusApproved  = "APPROVED"
	RequestStatusRejected  = "REJECTED"
)

// OrgRoleRequest is a user's pending request for an elevated role. At most
// one REQUESTED row exists per (requester, role); a repeated request
// returns the existing one.
type OrgRoleRequest struct {
	ID             int64
	RequesterID    int64
	RoleID         int64
	OrganizationID int64
	Status         string
	Meta           json.RawMessage
	CreatedAt      time.Time
}

// OrganizationRepository defines data access for organizations.
type OrganizationRepository interface {
	GetByID(ctx context.Context, id int64) (*Organization, error)
	GetByCode(ctx context.Context, code string) (*Organization, error)
	Create(ctx context.Context, org *Organization) error
	// Update writes mutable organization fields and returns the committed
	// updated_at. Returns ErrNotFound when the organization does not exist.
	Update(ctx context.Context, org *Organization) (time.Time, error)
	// MergeOrgAdmin unions the user into org_admin inside a single row
	// update, so concurrent assignments never overwrite each other's
	// admins. Returns ErrNotFound when the organization vanished between
	// read and write.
	MergeOrgAdmin(ctx context.Context, orgID, userID, actorID int64) (time.Time, error)
	// SetStatus updates the organization status and returns affected rows.
	SetStatus(ctx context.Context, orgID int64, status string, actorID int64) (int64, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*Organization, error)
	Search(ctx context.Context, page, pageSize int, searchText string) ([]*Organization, error)
}

// OrgDomainRepository defines data access for organization email domains.
type OrgDomainRepository interface {
	Create(ctx context.Context, d *OrgDomain) error
	ListByOrganization(ctx context.Context, orgID int64, domains []string) ([]*OrgDomain, error)
}

// OrgRoleRequestRepository defines data access for role requests.
type OrgRoleRequestRepository interface {
	// FindRequested returns the open request for (requester, role), or
	// ErrNotFound when none is pending.
	FindRequested(ctx context.Context, requesterID, roleID int64) (*OrgRoleRequest, error)
	Create(ctx context.Context, req *OrgRoleRequest) error
}
