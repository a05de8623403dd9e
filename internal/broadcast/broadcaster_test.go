package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeProducer struct {
	mu       sync.Mutex
	sent     []sentMessage
	failures int // fail this many sends before succeeding
}

type sentMessage struct {
	topic string
	key   string
	value []byte
}

func (f *fakeProducer) Send(ctx context.Context, topic string, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, sentMessage{topic: topic, key: string(key), value: value})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishDelivers(t *testing.T) {
	producer := &fakeProducer{}
	b := New(producer, Config{MaxAttempts: 3, Backoff: 10 * time.Millisecond}, testLogger())
	defer b.Close()

	b.Publish(context.Background(), "updateOrganization", "user", 42, 7, map[string]int64{"user_id": 42})

	waitFor(t, time.Second, func() bool { return producer.sentCount() == 1 })

	producer.mu.Lock()
	msg := producer.sent[0]
	producer.mu.Unlock()

	if msg.topic != "updateOrganization" {
		t.Errorf("unexpected topic %q", msg.topic)
	}
	if msg.key != "user:42" {
		t.Errorf("unexpected partition key %q", msg.key)
	}

	var event Event
	if err := json.Unmarshal(msg.value, &event); err != nil {
		t.Fatalf("envelope not json: %v", err)
	}
	if event.EntityID != 42 || event.Version != 7 {
		t.Errorf("unexpected envelope: %+v", event)
	}
	if event.CorrelationID == "" {
		t.Error("expected a correlation id")
	}
}

func TestPublishAssignsVersionWhenZero(t *testing.T) {
	producer := &fakeProducer{}
	b := New(producer, Config{Backoff: 10 * time.Millisecond}, testLogger())
	defer b.Close()

	b.Publish(context.Background(), "deactivateUpcomingSession", "user", 1, 0, nil)
	b.Publish(context.Background(), "deactivateUpcomingSession", "user", 2, 0, nil)

	waitFor(t, time.Second, func() bool { return producer.sentCount() == 2 })

	producer.mu.Lock()
	defer producer.mu.Unlock()
	versions := map[int64]bool{}
	for _, msg := range producer.sent {
		var event Event
		if err := json.Unmarshal(msg.value, &event); err != nil {
			t.Fatalf("envelope not json: %v", err)
		}
		if event.Version == 0 {
			t.Error("version 0 must be replaced by a generated one")
		}
		if versions[event.Version] {
			t.Errorf("duplicate generated version %d", event.Version)
		}
		versions[event.Version] = true
	}
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	producer := &fakeProducer{failures: 2}
	b := New(producer, Config{MaxAttempts: 3, Backoff: 10 * time.Millisecond}, testLogger())
	defer b.Close()

	b.Publish(context.Background(), "updateOrganization", "user", 1, 1, nil)

	waitFor(t, 2*time.Second, func() bool { return producer.sentCount() == 1 })

	if len(b.DeadLetters()) != 0 {
		t.Errorf("expected no dead letters, got %d", len(b.DeadLetters()))
	}
}

func TestPublishDeadLettersAfterMaxAttempts(t *testing.T) {
	producer := &fakeProducer{failures: 1000}
	b := New(producer, Config{MaxAttempts: 3, Backoff: 10 * time.Millisecond}, testLogger())
	defer b.Close()

	b.Publish(context.Background(), "updateOrganization", "user", 9, 4, nil)

	waitFor(t, 2*time.Second, func() bool { return len(b.DeadLetters()) == 1 })

	dead := b.DeadLetters()[0]
	if dead.EntityID != 9 || dead.Version != 4 {
		t.Errorf("unexpected dead letter: %+v", dead)
	}
	if producer.sentCount() != 0 {
		t.Error("message must not be delivered after dead-lettering")
	}

	producer.mu.Lock()
	attempts := 1000 - producer.failures
	producer.mu.Unlock()
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestPublishAfterCloseIsDeadLettered(t *testing.T) {
	producer := &fakeProducer{}
	b := New(producer, Config{Backoff: 10 * time.Millisecond}, testLogger())
	b.Close()
	b.Close() // idempotent

	b.Publish(context.Background(), "updateOrganization", "user", 1, 1, nil)

	if len(b.DeadLetters()) != 1 {
		t.Errorf("expected publish after close to dead-letter, got %d", len(b.DeadLetters()))
	}
}
