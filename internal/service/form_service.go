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

// FormService handles tenant-scoped form schemas. Every mutation bumps the
// per-form version, invalidates the shared formVersion cache entry, and
// tells downstream services to drop their in-process copies.
type FormService struct {
	forms          domain.FormRepository
	orgs           domain.OrganizationRepository
	cache          domain.Cache
	events         domain.EventSink
	logger         *slog.Logger
	defaultOrgCode string
}

// NewFormService creates a new form service
func NewFormService(forms domain.FormRepository, orgs domain.OrganizationRepository, cache domain.Cache, events domain.EventSink, logger *slog.Logger, defaultOrgCode string) *FormService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FormService{
		forms:          forms,
		orgs:           orgs,
		cache:          cache,
		events:         events,
		logger:         logger,
		defaultOrgCode: defaultOrgCode,
	}
}

type clearCachePayload struct {
	Key string `json:"key"`
}

// Create creates a form at version 1 for the organization. A form with the
// same (type, sub_type) must not already exist in that organization.
func (s *FormService) Create(ctx context.Context, form *domain.Form) (*domain.Form, error) {
	filter := domain.FormFilter{Type: form.Type, SubType: form.SubType, OrgID: form.OrgID}
	if _, err := s.forms.FindOne(ctx, filter); err == nil {
		return nil, response.ClientError(http.StatusNotAcceptable, "FORM_ALREADY_EXISTS")
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("create form: %w", err)
	}

	if err := s.forms.Create(ctx, form); err != nil {
		return nil, fmt.Errorf("create form: %w", err)
	}

	s.invalidate(ctx, form.ID, form.Version)
	return form, nil
}

// Update replaces the form data and bumps the version.
func (s *FormService) Update(ctx context.Context, filter domain.FormFilter, data json.RawMessage) (*domain.Form, error) {
	rows, err := s.forms.Update(ctx, filter, data)
	if err != nil {
		return nil, fmt.Errorf("update form: %w", err)
	}
	if rows == 0 {
		return nil, response.ClientError(http.StatusBadRequest, "FORM_NOT_FOUND")
	}

	form, err := s.forms.FindOne(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("update form: %w", err)
	}

	s.invalidate(ctx, form.ID, form.Version)
	return form, nil
}

// Read returns a form by id or (type, sub_type) within the organization.
// When the organization has no form of that (type, sub_type), the default
// organization's form is served instead, so tenants inherit the stock
// schemas until they customize them.
func (s *FormService) Read(ctx context.Context, filter domain.FormFilter) (*domain.Form, error) {
	form, err := s.forms.FindOne(ctx, filter)
	if err == nil {
		return form, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("read form: %w", err)
	}

	if filter.ID == 0 && filter.OrgID != 0 {
		if fallback, ok := s.defaultOrgForm(ctx, filter); ok {
			return fallback, nil
		}
	}
	return nil, response.ClientError(http.StatusBadRequest, "FORM_NOT_FOUND")
}

func (s *FormService) defaultOrgForm(ctx context.Context, filter domain.FormFilter) (*domain.Form, bool) {
	org, err := s.orgs.GetByCode(ctx, s.defaultOrgCode)
	if err != nil || org.ID == filter.OrgID {
		return nil, false
	}

	filter.OrgID = org.ID
	form, err := s.forms.FindOne(ctx, filter)
	if err != nil {
		return nil, false
	}
	return form, true
}

// Versions returns the version of every form per organization, keyed
// "<type>:<sub_type>". Serves from the shared formVersion cache entry when
// one exists.
func (s *FormService) Versions(ctx context.Context, orgID int64) (map[string]int64, error) {
	var cached map[int64]map[string]int64
	if s.cache.Get(ctx, domain.CacheFormVersionKey, &cached) {
		if v, ok := cached[orgID]; ok {
			return v, nil
		}
	}

	all, err := s.forms.ListVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list form versions: %w", err)
	}

	s.cache.Set(ctx, domain.CacheFormVersionKey, all)

	v, ok := all[orgID]
	if !ok {
		return map[string]int64{}, nil
	}
	return v, nil
}

// invalidate drops the shared version entry and notifies downstream
// services, detached from the caller since the write already committed.
func (s *FormService) invalidate(ctx context.Context, formID, version int64) {
	dctx := context.WithoutCancel(ctx)
	s.cache.Delete(dctx, domain.CacheFormVersionKey)
	s.events.Publish(dctx, domain.TopicClearInternalCache, domain.EntityForm, formID, version, clearCachePayload{
		Key: domain.CacheFormVersionKey,
	})
}
