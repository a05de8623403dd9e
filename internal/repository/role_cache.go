package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/yourorg/identsync/internal/domain"
	"github.com/yourorg/identsync/pkg/cache"
)

// CachingRoleRepository memoizes role lookups in process memory. Roles are
// immutable reference data after seeding, so a short TTL is plenty and no
// cross-instance invalidation is needed.
type CachingRoleRepository struct {
	inner domain.RoleRepository
	byKey *cache.Cache[*domain.Role]
	ttl   time.Duration
}

// NewCachingRoleRepository wraps a role repository with memoization.
func NewCachingRoleRepository(inner domain.RoleRepository, ttl time.Duration) *CachingRoleRepository {
	return &CachingRoleRepository{
		inner: inner,
		byKey: cache.New[*domain.Role](),
		ttl:   ttl,
	}
}

func (r *CachingRoleRepository) GetByID(ctx context.Context, id int64) (*domain.Role, error) {
	key := fmt.Sprintf("id:%d", id)
	if role, ok := r.byKey.Get(key); ok {
		return role, nil
	}

	role, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(role)
	return role, nil
}

func (r *CachingRoleRepository) GetByTitle(ctx context.Context, title string) (*domain.Role, error) {
	if role, ok := r.byKey.Get("title:" + title); ok {
		return role, nil
	}

	role, err := r.inner.GetByTitle(ctx, title)
	if err != nil {
		return nil, err
	}
	r.store(role)
	return role, nil
}

// ListByIDs serves entirely from memory when every id is cached, otherwise
// falls through to the database for the whole set.
func (r *CachingRoleRepository) ListByIDs(ctx context.Context, ids domain.IDSet) ([]*domain.Role, error) {
	out := make([]*domain.Role, 0, len(ids))
	for _, id := range ids.Int64s() {
		role, ok := r.byKey.Get(fmt.Sprintf("id:%d", id))
		if !ok {
			out = nil
			break
		}
		out = append(out, role)
	}
	if out != nil {
		return out, nil
	}

	roles, err := r.inner.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		r.store(role)
	}
	return roles, nil
}

func (r *CachingRoleRepository) store(role *domain.Role) {
	r.byKey.Set(fmt.Sprintf("id:%d", role.ID), role, r.ttl)
	r.byKey.Set("title:"+role.Title, role, r.ttl)
}
