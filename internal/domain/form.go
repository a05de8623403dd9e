package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Form is a tenant-scoped form schema. Mutating any form bumps the shared
// schema version identifier cached under the formVersion key.
type Form struct {
	ID        int64
	Type      string
	SubType   string
	OrgID     int64
	Data      json.RawMessage
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FormFilter selects a form by id or by (type, sub_type), always scoped to
// an organization.
type FormFilter struct {
	ID      int64
	Type    string
	SubType string
	OrgID   int64
}

// FormRepository defines data access for form schemas.
type FormRepository interface {
	FindOne(ctx context.Context, filter FormFilter) (*Form, error)
	Create(ctx context.Context, form *Form) error
	Update(ctx context.Context, filter FormFilter, data json.RawMessage) (int64, error)
	// ListVersions returns every form's version keyed by organization and
	// then by "<type>:<sub_type>".
	ListVersions(ctx context.Context) (map[int64]map[string]int64, error)
}
