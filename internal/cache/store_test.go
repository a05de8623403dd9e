package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/yourorg/identsync/internal/infrastructure/redis"
)

type fakeBackend struct {
	data    map[string][]byte
	getErr  error
	setErr  error
	delErr  error
	getN    int
	deleted []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: map[string][]byte{}}
}

func (f *fakeBackend) Get(ctx context.Context, key string) ([]byte, error) {
	f.getN++
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.data[key]
	if !ok {
		return nil, redis.ErrNil
	}
	return b, nil
}

func (f *fakeBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = value
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, keys ...string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, keys...)
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	store := NewStore(backend, time.Minute, testLogger())
	ctx := context.Background()

	store.Set(ctx, "user_1", map[string]string{"name": "alice"})

	var got map[string]string
	if !store.Get(ctx, "user_1", &got) {
		t.Fatal("expected cache hit")
	}
	if got["name"] != "alice" {
		t.Errorf("expected alice, got %q", got["name"])
	}
}

func TestStoreMissOnAbsentKey(t *testing.T) {
	store := NewStore(newFakeBackend(), time.Minute, testLogger())

	var got map[string]string
	if store.Get(context.Background(), "user_404", &got) {
		t.Error("expected miss for absent key")
	}
}

func TestStoreBackendErrorIsAMiss(t *testing.T) {
	backend := newFakeBackend()
	backend.getErr = errors.New("connection refused")
	store := NewStore(backend, time.Minute, testLogger())

	var got map[string]string
	if store.Get(context.Background(), "user_1", &got) {
		t.Error("backend error must degrade to a miss")
	}
}

func TestStoreCorruptEntryIsAMiss(t *testing.T) {
	backend := newFakeBackend()
	backend.data["user_1"] = []byte("{not json")
	store := NewStore(backend, time.Minute, testLogger())

	var got map[string]string
	if store.Get(context.Background(), "user_1", &got) {
		t.Error("corrupt entry must degrade to a miss")
	}
}

func TestStoreSetFailureDoesNotPanicOrPersist(t *testing.T) {
	backend := newFakeBackend()
	backend.setErr = errors.New("oom")
	store := NewStore(backend, time.Minute, testLogger())
	ctx := context.Background()

	store.Set(ctx, "user_1", "snapshot")

	backend.setErr = nil
	var got string
	if store.Get(ctx, "user_1", &got) {
		t.Error("failed set must not leave an entry behind")
	}
}

func TestStoreDeleteFailureIsSwallowed(t *testing.T) {
	backend := newFakeBackend()
	backend.delErr = errors.New("connection reset")
	store := NewStore(backend, time.Minute, testLogger())

	// must not panic or propagate
	store.Delete(context.Background(), "user_1", "org_2")
}

func TestStoreDeleteNoKeysIsNoOp(t *testing.T) {
	backend := newFakeBackend()
	store := NewStore(backend, time.Minute, testLogger())

	store.Delete(context.Background())

	if len(backend.deleted) != 0 {
		t.Error("expected no backend call for empty key list")
	}
}

func TestStoreCircuitOpensAfterRepeatedFailures(t *testing.T) {
	backend := newFakeBackend()
	backend.getErr = errors.New("down")
	store := NewStore(backend, time.Minute, testLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.Get(ctx, "user_1", &struct{}{})
	}
	calls := backend.getN

	// circuit is open: further reads must not touch the backend
	for i := 0; i < 3; i++ {
		if store.Get(ctx, "user_1", &struct{}{}) {
			t.Fatal("expected miss while circuit open")
		}
	}
	if backend.getN != calls {
		t.Errorf("expected no backend calls while open, got %d extra", backend.getN-calls)
	}
}
