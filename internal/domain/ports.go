package domain

import (
	"context"
	"fmt"
)

// Cache key namespaces shared with downstream services.
const (
	CacheUserPrefix     = "user_"
	CacheOrgPrefix      = "org_"
	CacheFormVersionKey = "formVersion"
)

// UserCacheKey returns the cache key for a user snapshot.
func UserCacheKey(id int64) string {
	return fmt.Sprintf("%s%d", CacheUserPrefix, id)
}

// OrgCacheKey returns the cache key for an organization snapshot.
func OrgCacheKey(id int64) string {
	return fmt.Sprintf("%s%d", CacheOrgPrefix, id)
}

// Event topics consumed by downstream services.
const (
	TopicUpdateOrganization        = "updateOrganization"
	TopicDeactivateUpcomingSession = "deactivateUpcomingSession"
	TopicClearInternalCache        = "clearInternalCache"
)

// Entity type labels carried in event envelopes.
const (
	EntityUser         = "user"
	EntityOrganization = "organization"
	EntityForm         = "form"
)

// Cache is the fail-soft key/value store used on read paths and for
// write-invalidate. Implementations must never let a backend failure
// escape to the caller: a failed Get reports a miss, a failed Set or
// Delete is logged and dropped. Deleting an absent key is a no-op.
type Cache interface {
	// Get unmarshals the cached value into dest and reports whether a
	// usable entry was found.
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any)
	Delete(ctx context.Context, keys ...string)
}

// EventSink accepts domain events for asynchronous at-least-once delivery.
// Publish never blocks the caller and never fails the enclosing business
// operation; delivery errors are retried and eventually dead-lettered by
// the implementation. version seeds the consumer-side idempotency key
// (entity id, topic, version).
type EventSink interface {
	Publish(ctx context.Context, topic, entityType string, entityID, version int64, payload any)
}

// ViewRefresher rebuilds the downstream materialized views.
type ViewRefresher interface {
	Refresh(ctx context.Context) error
}
