package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yourorg/identsync/internal/domain"
)

func jsonMarshal(v any) ([]byte, bool) {
	raw, err := json.Marshal(v)
	return raw, err == nil
}

func jsonUnmarshal(raw []byte, dest any) bool {
	return json.Unmarshal(raw, dest) == nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedTime = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

type fakeUserRepo struct {
	users map[int64]*domain.User
}

func newFakeUserRepo(users ...*domain.User) *fakeUserRepo {
	r := &fakeUserRepo{users: map[int64]*domain.User{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) && u.Status != domain.StatusDeleted {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeUserRepo) Create(ctx context.Context, user *domain.User) error {
	user.ID = int64(len(r.users) + 1000)
	user.CreatedAt = fixedTime
	user.UpdatedAt = fixedTime
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) UpdateRoles(ctx context.Context, id int64, roles domain.IDSet, orgID int64) (time.Time, error) {
	u, ok := r.users[id]
	if !ok || u.Status == domain.StatusDeleted {
		return time.Time{}, domain.ErrNotFound
	}
	u.Roles = roles
	u.OrganizationID = orgID
	u.UpdatedAt = fixedTime
	return fixedTime, nil
}

func (r *fakeUserRepo) DeactivateByOrganization(ctx context.Context, orgID, actorID int64) ([]int64, error) {
	var ids []int64
	for _, u := range r.users {
		if u.OrganizationID == orgID && u.Status != domain.StatusDeleted {
			u.Status = domain.StatusInactive
			u.UpdatedBy = actorID
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

func (r *fakeUserRepo) DeactivateByFilter(ctx context.Context, filter domain.UserFilter, actorID int64) ([]int64, error) {
	var ids []int64
	for _, u := range r.users {
		if u.Status == domain.StatusDeleted {
			continue
		}
		matched := false
		for _, id := range filter.IDs {
			if u.ID == id {
				matched = true
			}
		}
		for _, email := range filter.Emails {
			if strings.EqualFold(u.Email, email) {
				matched = true
			}
		}
		if matched {
			u.Status = domain.StatusInactive
			u.UpdatedBy = actorID
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

func (r *fakeUserRepo) Anonymize(ctx context.Context, id int64, scrubbedEmail string) (int64, error) {
	u, ok := r.users[id]
	if !ok || u.Status == domain.StatusDeleted {
		return 0, nil
	}
	u.Status = domain.StatusDeleted
	u.Email = scrubbedEmail
	u.Name = "Anonymous User"
	u.Roles = nil
	now := fixedTime
	u.DeletedAt = &now
	return 1, nil
}

type fakeOrgRepo struct {
	mu       sync.Mutex
	orgs     map[int64]*domain.Organization
	mergeErr error

	// beforeMerge runs ahead of the merge's row update, letting tests hold
	// writes until every caller has done its reads.
	beforeMerge func()
}

func newFakeOrgRepo(orgs ...*domain.Organization) *fakeOrgRepo {
	r := &fakeOrgRepo{orgs: map[int64]*domain.Organization{}}
	for _, o := range orgs {
		r.orgs[o.ID] = o
	}
	return r
}

func (r *fakeOrgRepo) GetByID(ctx context.Context, id int64) (*domain.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeOrgRepo) GetByCode(ctx context.Context, code string) (*domain.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orgs {
		if o.Code == code {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeOrgRepo) Create(ctx context.Context, org *domain.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	org.ID = int64(len(r.orgs) + 100)
	org.CreatedAt = fixedTime
	org.UpdatedAt = fixedTime
	cp := *org
	r.orgs[org.ID] = &cp
	return nil
}

func (r *fakeOrgRepo) Update(ctx context.Context, org *domain.Organization) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.orgs[org.ID]
	if !ok {
		return time.Time{}, domain.ErrNotFound
	}
	existing.Name = org.Name
	existing.Description = org.Description
	existing.UpdatedBy = org.UpdatedBy
	existing.UpdatedAt = fixedTime.Add(time.Minute)
	return existing.UpdatedAt, nil
}

// MergeOrgAdmin unions against the current row value, same as the SQL
// merge, so interleaved assignments never lose an admin.
func (r *fakeOrgRepo) MergeOrgAdmin(ctx context.Context, orgID, userID, actorID int64) (time.Time, error) {
	if r.beforeMerge != nil {
		r.beforeMerge()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mergeErr != nil {
		return time.Time{}, r.mergeErr
	}
	o, ok := r.orgs[orgID]
	if !ok {
		return time.Time{}, domain.ErrNotFound
	}
	o.OrgAdmin = o.OrgAdmin.Union(userID)
	o.UpdatedBy = actorID
	o.UpdatedAt = fixedTime
	return fixedTime, nil
}

func (r *fakeOrgRepo) SetStatus(ctx context.Context, orgID int64, status string, actorID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[orgID]
	if !ok {
		return 0, nil
	}
	o.Status = status
	o.UpdatedBy = actorID
	return 1, nil
}

func (r *fakeOrgRepo) ListByIDs(ctx context.Context, ids []int64) ([]*domain.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Organization
	for _, id := range ids {
		if o, ok := r.orgs[id]; ok {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeOrgRepo) Search(ctx context.Context, page, pageSize int, searchText string) ([]*domain.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Organization
	for _, o := range r.orgs {
		if o.Status != domain.StatusActive {
			continue
		}
		if searchText != "" && !strings.Contains(strings.ToLower(o.Name), strings.ToLower(searchText)) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

type fakeRoleRepo struct {
	roles map[string]*domain.Role
}

func newFakeRoleRepo(roles ...*domain.Role) *fakeRoleRepo {
	r := &fakeRoleRepo{roles: map[string]*domain.Role{}}
	for _, role := range roles {
		r.roles[role.Title] = role
	}
	return r
}

func (r *fakeRoleRepo) GetByID(ctx context.Context, id int64) (*domain.Role, error) {
	for _, role := range r.roles {
		if role.ID == id {
			return role, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeRoleRepo) GetByTitle(ctx context.Context, title string) (*domain.Role, error) {
	role, ok := r.roles[title]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return role, nil
}

func (r *fakeRoleRepo) ListByIDs(ctx context.Context, ids domain.IDSet) ([]*domain.Role, error) {
	var out []*domain.Role
	for _, role := range r.roles {
		if ids.Contains(role.ID) {
			out = append(out, role)
		}
	}
	return out, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
	sets    []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (c *fakeCache) Get(ctx context.Context, key string, dest any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false
	}
	return jsonUnmarshal(raw, dest)
}

func (c *fakeCache) Set(ctx context.Context, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if raw, ok := jsonMarshal(value); ok {
		c.entries[key] = raw
		c.sets = append(c.sets, key)
	}
}

func (c *fakeCache) Delete(ctx context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.deleted = append(c.deleted, k)
	}
}

func (c *fakeCache) deletedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.deleted))
	copy(out, c.deleted)
	return out
}

type publishedEvent struct {
	topic      string
	entityType string
	entityID   int64
	version    int64
	payload    any
}

type fakeSink struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (s *fakeSink) Publish(ctx context.Context, topic, entityType string, entityID, version int64, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, publishedEvent{
		topic:      topic,
		entityType: entityType,
		entityID:   entityID,
		version:    version,
		payload:    payload,
	})
}

func (s *fakeSink) published() []publishedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]publishedEvent, len(s.events))
	copy(out, s.events)
	return out
}
