package domain

import "context"

// Well-known role titles seeded as reference data.
const (
	RoleAdmin    = "admin"
	RoleOrgAdmin = "org_admin"
	RoleUser     = "user"
)

// RoleTypeSystem flags roles managed by the platform rather than tenants.
const RoleTypeSystem = 1

// Role is immutable reference data after seeding.
type Role struct {
	ID       int64
	Title    string
	UserType int
	Status   string
}

// RoleRepository defines read access to role reference data.
type RoleRepository interface {
	GetByID(ctx context.Context, id int64) (*Role, error)
	GetByTitle(ctx context.Context, title string) (*Role, error)
	ListByIDs(ctx context.Context, ids IDSet) ([]*Role, error)
}
