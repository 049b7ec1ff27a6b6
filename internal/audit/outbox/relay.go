// Package outbox ships ledger entries written to the transactional outbox
// table onto the event stream.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/audit/metrics"
	"chronicle/pkg/platform/tx"
	"chronicle/pkg/requestcontext"
)

// Message is one pending outbox row.
type Message struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// Store reads and acknowledges outbox rows. FetchPending must lock the rows
// it returns for the duration of the surrounding transaction.
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

const (
	defaultBatchSize = 100
	defaultInterval  = time.Second
)

// Relay polls the outbox and publishes pending rows in creation order.
// Delivery is at-least-once: a crash between publish and commit republishes
// the batch.
type Relay struct {
	store     Store
	publisher Publisher
	tx        tx.Runner
	topic     string
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func NewRelay(store Store, publisher Publisher, runner tx.Runner, topic string, opts ...Option) (*Relay, error) {
	if store == nil {
		return nil, errors.New("outbox store is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if runner == nil {
		return nil, errors.New("tx runner is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	r := &Relay{
		store:     store,
		publisher: publisher,
		tx:        runner,
		topic:     topic,
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RelayOnce publishes one batch and returns how many rows were acknowledged.
// Publishing stops at the first failure so later rows for the same key are
// never delivered ahead of an earlier one; rows published before the failure
// are still acknowledged.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var (
		acked      int
		publishErr error
	)
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		messages, err := r.store.FetchPending(ctx, r.batchSize)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(messages))
		for _, msg := range messages {
			if err := r.publisher.Publish(ctx, r.topic, []byte(msg.AggregateID), msg.Payload); err != nil {
				r.metrics.IncrementOutboxFailure()
				publishErr = err
				break
			}
			ids = append(ids, msg.ID)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := r.store.MarkPublished(ctx, ids, requestcontext.Now(ctx)); err != nil {
			return err
		}
		acked = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.metrics.AddOutboxRelayed(acked)
	return acked, publishErr
}

// Run relays on a fixed interval until ctx is cancelled. Batch failures are
// logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "outbox relay failed",
					"error", err,
					"acknowledged", n,
					"topic", r.topic,
				)
				continue
			}
			if n > 0 {
				r.logger.DebugContext(ctx, "outbox batch relayed", "acknowledged", n, "topic", r.topic)
			}
		}
	}
}
