package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/identsync/internal/infrastructure/kafka"
	"github.com/yourorg/identsync/internal/observability/metrics"
)

// Event is the wire envelope delivered to downstream consumers. The
// payload is a final-state snapshot, never a diff. Consumers dedupe on
// (EntityID, Topic, Version) and resolve out-of-order delivery by version,
// not arrival time.
type Event struct {
	Topic         string          `json:"topic"`
	EntityType    string          `json:"entity_type"`
	EntityID      int64           `json:"entity_id"`
	Version       int64           `json:"version"`
	CorrelationID string          `json:"correlation_id"`
	EmittedAt     time.Time       `json:"emitted_at"`
	Payload       json.RawMessage `json:"payload"`
}

type envelope struct {
	event    Event
	attempts int
}

// Config holds the broadcaster retry policy.
type Config struct {
	// MaxAttempts is the publish attempt ceiling; an event failing this
	// many consecutive times is dead-lettered, never retried again.
	MaxAttempts int
	// Backoff is the fixed interval before a failed publish is retried.
	Backoff   time.Duration
	QueueSize int
}

// Broadcaster delivers domain events at-least-once through a Kafka
// producer. Publish is fire-and-forget: the caller's mutation reports
// success once its authoritative write is durable, regardless of what
// happens to the event. A single dispatcher goroutine preserves
// per-entity emit order on the happy path.
type Broadcaster struct {
	producer    kafka.Producer
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration

	queue chan *envelope
	stop  chan struct{}
	done  chan struct{}

	closed     atomic.Bool
	versionSeq atomic.Int64

	mu   sync.Mutex
	dead []Event
}

// New creates a broadcaster and starts its dispatcher.
func New(producer kafka.Producer, cfg Config, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 10 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	b := &Broadcaster{
		producer:    producer,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		queue:       make(chan *envelope, cfg.QueueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish enqueues an event for asynchronous delivery and returns
// immediately. version seeds the consumer idempotency key; pass 0 to have
// the broadcaster assign one from its monotonic counter.
func (b *Broadcaster) Publish(ctx context.Context, topic, entityType string, entityID, version int64, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("event payload not serializable, dropping",
			slog.String("topic", topic),
			slog.Int64("entity_id", entityID),
			slog.String("error", err.Error()),
		)
		return
	}

	if version == 0 {
		version = b.versionSeq.Add(1)
	}

	env := &envelope{event: Event{
		Topic:         topic,
		EntityType:    entityType,
		EntityID:      entityID,
		Version:       version,
		CorrelationID: uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Payload:       raw,
	}}

	b.enqueue(env)
}

func (b *Broadcaster) enqueue(env *envelope) {
	if b.closed.Load() {
		b.addDead(env.event, "broadcaster closed")
		return
	}
	select {
	case b.queue <- env:
	default:
		b.addDead(env.event, "queue full")
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)
	for {
		select {
		case env := <-b.queue:
			b.deliver(env)
		case <-b.stop:
			// drain whatever is already queued before exiting
			for {
				select {
				case env := <-b.queue:
					b.deliver(env)
				default:
					return
				}
			}
		}
	}
}

func (b *Broadcaster) deliver(env *envelope) {
	value, err := json.Marshal(env.event)
	if err != nil {
		b.addDead(env.event, "envelope not serializable")
		return
	}
	key := []byte(fmt.Sprintf("%s:%d", env.event.EntityType, env.event.EntityID))

	// Delivery is detached from the originating request; the caller may
	// be long gone by now.
	err = b.producer.Send(context.Background(), env.event.Topic, key, value)
	if err == nil {
		metrics.ObserveEventPublish(env.event.Topic, "success")
		b.logger.Debug("event published",
			slog.String("topic", env.event.Topic),
			slog.Int64("entity_id", env.event.EntityID),
			slog.Int64("version", env.event.Version),
		)
		return
	}

	env.attempts++
	if env.attempts >= b.maxAttempts {
		metrics.ObserveEventPublish(env.event.Topic, "dead")
		b.addDead(env.event, err.Error())
		return
	}

	metrics.ObserveEventPublish(env.event.Topic, "retry")
	b.logger.Warn("event publish failed, scheduling retry",
		slog.String("topic", env.event.Topic),
		slog.Int64("entity_id", env.event.EntityID),
		slog.Int("attempt", env.attempts),
		slog.Int("max_attempts", b.maxAttempts),
		slog.Duration("backoff", b.backoff),
		slog.String("error", err.Error()),
	)
	time.AfterFunc(b.backoff, func() { b.enqueue(env) })
}

func (b *Broadcaster) addDead(event Event, reason string) {
	b.mu.Lock()
	b.dead = append(b.dead, event)
	count := len(b.dead)
	b.mu.Unlock()

	metrics.SetDeadLetters(count)
	b.logger.Error("event dead-lettered",
		slog.String("topic", event.Topic),
		slog.Int64("entity_id", event.EntityID),
		slog.Int64("version", event.Version),
		slog.String("correlation_id", event.CorrelationID),
		slog.String("reason", reason),
	)
}

// DeadLetters returns the events that exhausted their retries, for
// operator inspection.
func (b *Broadcaster) DeadLetters() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.dead))
	copy(out, b.dead)
	return out
}

// Close stops accepting events, drains the queue, and waits for the
// dispatcher to exit. Events still waiting on a retry timer are
// dead-lettered.
func (b *Broadcaster) Close() {
	if b.closed.Swap(true) {
		return
	}
	close(b.stop)
	<-b.done
}
