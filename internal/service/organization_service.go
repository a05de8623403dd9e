package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/yourorg/identsync/internal/domain"
	"github.com/yourorg/identsync/internal/response"
)

// OrganizationService handles organization lifecycle and reads. Reads are
// cache-aside against the shared org_ namespace; writes invalidate before
// the response is returned.
type OrganizationService struct {
	orgs       domain.OrganizationRepository
	orgDomains domain.OrgDomainRepository
	requests   domain.OrgRoleRequestRepository
	roles      domain.RoleRepository
	cache      domain.Cache
	events     domain.EventSink
	logger     *slog.Logger
}

// NewOrganizationService creates a new organization service
func NewOrganizationService(
	orgs domain.OrganizationRepository,
	orgDomains domain.OrgDomainRepository,
	requests domain.OrgRoleRequestRepository,
	roles domain.RoleRepository,
	cache domain.Cache,
	events domain.EventSink,
	logger *slog.Logger,
) *OrganizationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrganizationService{
		orgs:       orgs,
		orgDomains: orgDomains,
		requests:   requests,
		roles:      roles,
		cache:      cache,
		events:     events,
		logger:     logger,
	}
}

// CreateOrganizationRequest carries the fields for organization creation.
type CreateOrganizationRequest struct {
	Name        string   `json:"name"`
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Domains     []string `json:"domains"`
}

// OrganizationView is the read model returned to callers and stored in the
// cache.
type OrganizationView struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Code        string   `json:"code"`
	Description string   `json:"description"`
	OrgAdmin    []int64  `json:"org_admin"`
	Status      string   `json:"status"`
	Domains     []string `json:"domains,omitempty"`
}

// Create creates an organization and registers its email domains. The code
// must be globally unique.
func (s *OrganizationService) Create(ctx context.Context, req CreateOrganizationRequest, actorID int64) (*OrganizationView, error) {
	if _, err := s.orgs.GetByCode(ctx, req.Code); err == nil {
		return nil, response.ClientError(http.StatusNotAcceptable, "ORGANIZATION_ALREADY_EXISTS")
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("create organization: %w", err)
	}

	org := &domain.Organization{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
		Status:      domain.StatusActive,
		CreatedBy:   actorID,
		UpdatedBy:   actorID,
	}
	if err := s.orgs.Create(ctx, org); err != nil {
		return nil, fmt.Errorf("create organization: %w", err)
	}

	for _, d := range req.Domains {
		od := &domain.OrgDomain{
			Domain:         d,
			OrganizationID: org.ID,
			CreatedBy:      actorID,
		}
		if err := s.orgDomains.Create(ctx, od); err != nil {
			// Organization row is committed; domain registration can be
			// repaired by re-submitting the domain.
			s.logger.Error("failed to register org domain",
				slog.String("domain", d),
				slog.Int64("organization_id", org.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return viewOf(org, req.Domains), nil
}

// UpdateOrganizationRequest carries the mutable organization fields. Code
// is immutable and absent on purpose.
type UpdateOrganizationRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Domains     []string `json:"domains,omitempty"`
}

// Update mutates name and description, registers any email domains not
// seen before, invalidates the cached snapshot, and emits an
// updateOrganization event.
func (s *OrganizationService) Update(ctx context.Context, orgID int64, req UpdateOrganizationRequest, actorID int64) (*OrganizationView, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, response.ClientError(http.StatusNotAcceptable, "ORGANIZATION_NOT_FOUND")
		}
		return nil, fmt.Errorf("update organization: %w", err)
	}

	org.Name = req.Name
	org.Description = req.Description
	org.UpdatedBy = actorID

	updatedAt, err := s.orgs.Update(ctx, org)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, response.ClientError(http.StatusBadRequest, "STATUS_UPDATE_FAILED")
		}
		return nil, fmt.Errorf("update organization: %w", err)
	}
	// The event version must come from the committed write, not the
	// pre-mutation read, or consumers deduping on version drop the newer
	// state.
	org.UpdatedAt = updatedAt

	dctx := context.WithoutCancel(ctx)

	// Domains are append-only: only names not registered yet are inserted.
	// Registration failures are logged, not fatal; the organization write
	// already committed and invalidation below must still happen.
	if len(req.Domains) > 0 {
		s.registerNewDomains(dctx, orgID, req.Domains, actorID)
	}

	s.cache.Delete(dctx, domain.OrgCacheKey(orgID))

	s.events.Publish(dctx, domain.TopicUpdateOrganization, domain.EntityOrganization, orgID, org.UpdatedAt.UnixMilli(), viewOf(org, nil))

	return viewOf(org, nil), nil
}

// Read returns the organization snapshot, serving from cache when a fresh
// entry exists.
func (s *OrganizationService) Read(ctx context.Context, orgID int64) (*OrganizationView, error) {
	var cached OrganizationView
	if s.cache.Get(ctx, domain.OrgCacheKey(orgID), &cached) {
		return &cached, nil
	}

	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, response.ClientError(http.StatusNotAcceptable, "ORGANIZATION_NOT_FOUND")
		}
		return nil, fmt.Errorf("read organization: %w", err)
	}

	domains, err := s.orgDomains.ListByOrganization(ctx, orgID, nil)
	if err != nil {
		return nil, fmt.Errorf("read organization: %w", err)
	}
	names := make([]string, 0, len(domains))
	for _, d := range domains {
		names = append(names, d.Domain)
	}

	view := viewOf(org, names)
	s.cache.Set(ctx, domain.OrgCacheKey(orgID), view)
	return view, nil
}

// ReadByCode resolves the organization code and serves the same cached
// snapshot as Read.
func (s *OrganizationService) ReadByCode(ctx context.Context, code string) (*OrganizationView, error) {
	org, err := s.orgs.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, response.ClientError(http.StatusNotAcceptable, "ORGANIZATION_NOT_FOUND")
		}
		return nil, fmt.Errorf("read organization: %w", err)
	}
	return s.Read(ctx, org.ID)
}

// ListByIDs returns snapshots for the given ids: cache hits are served
// directly, the misses are fetched in one repository call and repopulated.
// Ids that resolve to nothing are silently absent from the result.
func (s *OrganizationService) ListByIDs(ctx context.Context, ids []int64) ([]*OrganizationView, error) {
	views := make(map[int64]*OrganizationView, len(ids))
	var misses []int64
	for _, id := range ids {
		var cached OrganizationView
		if s.cache.Get(ctx, domain.OrgCacheKey(id), &cached) {
			views[id] = &cached
			continue
		}
		misses = append(misses, id)
	}

	if len(misses) > 0 {
		orgs, err := s.orgs.ListByIDs(ctx, misses)
		if err != nil {
			return nil, fmt.Errorf("list organizations by ids: %w", err)
		}
		for _, org := range orgs {
			view := viewOf(org, nil)
			s.cache.Set(ctx, domain.OrgCacheKey(org.ID), view)
			views[org.ID] = view
		}
	}

	out := make([]*OrganizationView, 0, len(views))
	for _, id := range ids {
		if v, ok := views[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// List returns a page of active organizations matching the search text.
func (s *OrganizationService) List(ctx context.Context, page, pageSize int, searchText string) ([]*OrganizationView, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	orgs, err := s.orgs.Search(ctx, page, pageSize, searchText)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}

	out := make([]*OrganizationView, 0, len(orgs))
	for _, org := range orgs {
		out = append(out, viewOf(org, nil))
	}
	return out, nil
}

// RequestOrgRole records a user's request for an elevated role. Requesting
// the same role twice returns the already-open request instead of creating
// a duplicate.
func (s *OrganizationService) RequestOrgRole(ctx context.Context, requesterID, orgID int64, roleTitle string, meta json.RawMessage) (*domain.OrgRoleRequest, error) {
	role, err := s.roles.GetByTitle(ctx, roleTitle)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, response.ClientError(http.StatusNotAcceptable, "ROLE_NOT_FOUND")
		}
		return nil, fmt.Errorf("request org role: %w", err)
	}

	if existing, err := s.requests.FindRequested(ctx, requesterID, role.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("request org role: %w", err)
	}

	req := &domain.OrgRoleRequest{
		RequesterID:    requesterID,
		RoleID:         role.ID,
		OrganizationID: orgID,
		Status:         domain.RequestStatusRequested,
		Meta:           meta,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("request org role: %w", err)
	}
	return req, nil
}

func (s *OrganizationService) registerNewDomains(ctx context.Context, orgID int64, names []string, actorID int64) {
	existing, err := s.orgDomains.ListByOrganization(ctx, orgID, names)
	if err != nil {
		s.logger.Error("failed to list org domains",
			slog.Int64("organization_id", orgID),
			slog.String("error", err.Error()),
		)
		return
	}
	known := make(map[string]bool, len(existing))
	for _, d := range existing {
		known[d.Domain] = true
	}
	for _, name := range names {
		if known[name] {
			continue
		}
		od := &domain.OrgDomain{Domain: name, OrganizationID: orgID, CreatedBy: actorID}
		if err := s.orgDomains.Create(ctx, od); err != nil {
			s.logger.Error("failed to register org domain",
				slog.String("domain", name),
				slog.Int64("organization_id", orgID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func viewOf(org *domain.Organization, domains []string) *OrganizationView {
	return &OrganizationView{
		ID:          org.ID,
		Name:        org.Name,
		Code:        org.Code,
		Description: org.Description,
		OrgAdmin:    org.OrgAdmin.Int64s(),
		Status:      org.Status,
		Domains:     domains,
	}
}
