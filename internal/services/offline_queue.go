// Package services – OfflineQueue
//
// This file implements the durable FIFO of undelivered send payloads. Items
// are enqueued when a send is attempted while the provider is unreachable
// and drained, oldest first, when connectivity returns.
//
// Retry policy: each item carries a fixed retry budget set at enqueue time.
// A failed delivery increments the persisted retry count; once the count
// reaches the budget the item is removed anyway and the drop is logged. The
// design accepts at-most-N-attempts delivery rather than unbounded retry.
//
// Drain exclusivity: a drain already in progress suppresses a newly
// triggered one, so online/offline flapping cannot interleave two passes.
package services

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-delivery/internal/domain"
	"github.com/tbourn/go-chat-delivery/internal/repo"
)

var (
	// queueDepth gauges the number of items currently parked in the queue.
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "delivery_queue_depth",
		Help: "Current number of undelivered payloads in the offline queue.",
	})

	// queueDelivered counts items successfully delivered by a drain pass.
	queueDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_queue_delivered_total",
		Help: "Total queued payloads delivered during drain passes.",
	})

	// queueDropped counts items discarded after exhausting their retry budget.
	queueDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_queue_dropped_total",
		Help: "Total queued payloads dropped after reaching max retries.",
	})
)

func init() {
	prometheus.MustRegister(queueDepth, queueDelivered, queueDropped)
}

// DeliverFunc attempts delivery of one queued payload. A nil return confirms
// delivery; an error leaves the item for a later pass (or drops it once the
// retry budget is spent).
type DeliverFunc func(ctx context.Context, item domain.QueueItem) error

// OfflineQueue is the durable FIFO facade over the queue repository.
//
// MaxRetries is the budget stamped onto new items (values < 1 are coerced to
// DefaultMaxRetries). The zero Log value is usable.
type OfflineQueue struct {
	DB         *gorm.DB
	MaxRetries int
	Log        zerolog.Logger

	draining chan struct{} // 1-slot token; owner of an in-progress drain
}

// DefaultMaxRetries is the retry budget used when none is configured.
const DefaultMaxRetries = 3

// NewOfflineQueue constructs a queue over db with the given retry budget.
func NewOfflineQueue(db *gorm.DB, maxRetries int, log zerolog.Logger) *OfflineQueue {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	q := &OfflineQueue{DB: db, MaxRetries: maxRetries, Log: log, draining: make(chan struct{}, 1)}
	q.draining <- struct{}{}
	return q
}

// Enqueue durably appends a payload with a fresh retry count and returns the
// new item. The write is flushed before return; a restart immediately after
// sees the item.
func (q *OfflineQueue) Enqueue(ctx context.Context, userID, conversationID, messageID, content string, attachments []domain.Attachment) (*domain.QueueItem, error) {
	it, err := repo.EnqueueItem(ctx, q.DB, userID, conversationID, messageID, content, attachments, q.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("enqueue payload: %w", err)
	}
	q.refreshDepth(ctx)
	q.Log.Info().
		Str("queue_item_id", it.ID).
		Str("message_id", messageID).
		Int("max_retries", it.MaxRetries).
		Msg("payload queued for offline delivery")
	return it, nil
}

// Dequeue durably removes an item. Unknown ids are a no-op.
func (q *OfflineQueue) Dequeue(ctx context.Context, id string) error {
	if err := repo.DequeueItem(ctx, q.DB, id); err != nil {
		return fmt.Errorf("dequeue %s: %w", id, err)
	}
	q.refreshDepth(ctx)
	return nil
}

// Items returns a snapshot of the queue in enqueue order.
func (q *OfflineQueue) Items(ctx context.Context) ([]domain.QueueItem, error) {
	return repo.ListQueueItems(ctx, q.DB)
}

// Len returns the current queue depth.
func (q *OfflineQueue) Len(ctx context.Context) (int64, error) {
	return repo.CountQueueItems(ctx, q.DB)
}

// Drain runs one delivery pass over the current queue snapshot, strictly in
// enqueue order and sequentially so queued user intents arrive in order and
// the provider is not flooded.
//
// Per item:
//   - deliver succeeds  → the item is dequeued;
//   - deliver fails     → the retry count is incremented and persisted; if
//     the new count reaches the budget the item is dequeued anyway and the
//     drop is logged (the user already saw the message as failed).
//
// Item-level delivery errors never abort the pass; storage errors do,
// because the durability guarantee itself is broken at that point.
//
// A drain in progress suppresses a newly triggered one: the suppressed call
// returns immediately with drained=false.
func (q *OfflineQueue) Drain(ctx context.Context, deliver DeliverFunc) (drained bool, err error) {
	select {
	case <-q.draining:
	default:
		q.Log.Debug().Msg("drain suppressed: pass already running")
		return false, nil
	}
	defer func() { q.draining <- struct{}{} }()

	tr := otel.Tracer("services/OfflineQueue")
	ctx, span := tr.Start(ctx, "Drain")
	defer span.End()

	items, err := repo.ListQueueItems(ctx, q.DB)
	if err != nil {
		return true, fmt.Errorf("snapshot queue: %w", err)
	}
	span.SetAttributes(attribute.Int("queue.snapshot_size", len(items)))

	for _, it := range items {
		if err := q.drainOne(ctx, tr, it, deliver); err != nil {
			return true, err
		}
	}
	q.refreshDepth(ctx)
	return true, nil
}

// drainOne attempts one item and applies the retry bookkeeping.
func (q *OfflineQueue) drainOne(ctx context.Context, tr trace.Tracer, it domain.QueueItem, deliver DeliverFunc) error {
	ctx, span := tr.Start(ctx, "drainOne",
		trace.WithAttributes(
			attribute.String("queue_item.id", it.ID),
			attribute.Int("queue_item.retry_count", it.RetryCount),
		),
	)
	defer span.End()

	if err := deliver(ctx, it); err != nil {
		next := it.RetryCount + 1
		if next >= it.MaxRetries {
			// Budget spent: remove rather than retry forever.
			if derr := repo.DequeueItem(ctx, q.DB, it.ID); derr != nil {
				return fmt.Errorf("drop exhausted item %s: %w", it.ID, derr)
			}
			queueDropped.Inc()
			q.Log.Warn().
				Str("queue_item_id", it.ID).
				Str("message_id", it.MessageID).
				Int("retries", next).
				Err(err).
				Msg("payload dropped after exhausting retries")
			return nil
		}
		if uerr := repo.UpdateRetryCount(ctx, q.DB, it.ID, next); uerr != nil {
			return fmt.Errorf("persist retry count for %s: %w", it.ID, uerr)
		}
		q.Log.Info().
			Str("queue_item_id", it.ID).
			Int("retry_count", next).
			Err(err).
			Msg("queued delivery failed; will retry on next drain")
		return nil
	}

	if err := repo.DequeueItem(ctx, q.DB, it.ID); err != nil {
		return fmt.Errorf("dequeue delivered item %s: %w", it.ID, err)
	}
	queueDelivered.Inc()
	return nil
}

// refreshDepth best-effort updates the depth gauge.
func (q *OfflineQueue) refreshDepth(ctx context.Context) {
	if n, err := repo.CountQueueItems(ctx, q.DB); err == nil {
		queueDepth.Set(float64(n))
	}
}
