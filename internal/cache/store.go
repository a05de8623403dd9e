package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/yourorg/identsync/internal/infrastructure/redis"
	"github.com/yourorg/identsync/internal/observability/metrics"
	"github.com/yourorg/identsync/internal/reliability/circuitbreaker"
)

// Backend is the subset of the Redis client the store needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Store is a fail-soft snapshot cache over Redis. The cache is never
// authoritative: every backend failure degrades to a miss and the caller
// falls through to the system of record. Mutation paths delete entries
// (write-invalidate); they never update them in place.
//
// A circuit breaker sits in front of the backend so a Redis outage does
// not add a timeout to every single request; while open, every operation
// is an immediate miss.
type Store struct {
	backend Backend
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewStore creates a cache store with the given default TTL.
func NewStore(backend Backend, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		ttl:     ttl,
		breaker: circuitbreaker.New(5, 2, 30*time.Second),
		logger:  logger,
	}
}

// Get unmarshals the cached snapshot into dest and reports whether a
// usable entry was found. Backend errors and corrupt entries count as
// misses.
func (s *Store) Get(ctx context.Context, key string, dest any) bool {
	if !s.breaker.Allow() {
		metrics.ObserveCache("get", "miss")
		return false
	}

	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrNil) {
			s.breaker.RecordFailure()
			s.logger.Warn("cache get failed, falling through to store",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			metrics.ObserveCache("get", "error")
			return false
		}
		s.breaker.RecordSuccess()
		metrics.ObserveCache("get", "miss")
		return false
	}
	s.breaker.RecordSuccess()

	if err := json.Unmarshal(raw, dest); err != nil {
		s.logger.Warn("cache entry corrupt, treating as miss",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		metrics.ObserveCache("get", "error")
		return false
	}

	metrics.ObserveCache("get", "hit")
	return true
}

// Set stores a snapshot with the default TTL. Failures are logged and
// dropped; the next read repopulates from the system of record.
func (s *Store) Set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("cache set: failed to marshal value",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		metrics.ObserveCache("set", "error")
		return
	}

	if !s.breaker.Allow() {
		metrics.ObserveCache("set", "error")
		return
	}

	if err := s.backend.Set(ctx, key, raw, s.ttl); err != nil {
		s.breaker.RecordFailure()
		s.logger.Warn("cache set failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		metrics.ObserveCache("set", "error")
		return
	}
	s.breaker.RecordSuccess()
	metrics.ObserveCache("set", "ok")
}

// Delete invalidates entries. Deleting an absent key is a no-op, and a
// backend failure must not fail the enclosing mutation; the entry will
// age out via TTL.
func (s *Store) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}

	if !s.breaker.Allow() {
		s.logger.Warn("cache invalidation skipped, circuit open; entries will expire by TTL",
			slog.Any("keys", keys),
		)
		metrics.ObserveCache("delete", "error")
		return
	}

	if err := s.backend.Delete(ctx, keys...); err != nil {
		s.breaker.RecordFailure()
		s.logger.Warn("cache invalidation failed, entries will expire by TTL",
			slog.Any("keys", keys),
			slog.String("error", err.Error()),
		)
		metrics.ObserveCache("delete", "error")
		return
	}
	s.breaker.RecordSuccess()
	metrics.ObserveCache("delete", "ok")
}
