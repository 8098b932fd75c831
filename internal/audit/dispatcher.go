package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// OutboxStore is the subset of the postgres/memory stores the dispatcher
// drains.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]Event, error)
	MarkDispatched(ctx context.Context, events []Event) error
}

// Dispatcher polls the outbox and publishes pending events to Kafka. The
// workflow transaction only guarantees the outbox row; delivery here is
// at-least-once and consumers dedupe on event id.
type Dispatcher struct {
	store    OutboxStore
	client   *kgo.Client
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

func NewDispatcher(store OutboxStore, client *kgo.Client, logger *slog.Logger, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Dispatcher{
		store:    store,
		client:   client,
		logger:   logger,
		interval: interval,
		batch:    100,
	}
}

// NewKafkaClient builds a producer for the dispatcher. Returns nil when no
// brokers are configured; the dispatcher then leaves the outbox untouched.
func NewKafkaClient(brokers []string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
}

// Run polls until ctx is cancelled. Publish failures are logged and retried
// on the next tick; the outbox row stays pending.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.client == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.drain(ctx); err != nil {
				d.logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) error {
	events, err := d.store.ListPending(ctx, d.batch)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	var delivered []Event
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		record := &kgo.Record{
			Topic: e.Topic,
			Key:   []byte(e.EntityID),
			Value: value,
		}
		if err := d.client.ProduceSync(ctx, record).FirstErr(); err != nil {
			d.logger.Error("produce failed", "event_id", e.ID, "topic", e.Topic, "error", err)
			break
		}
		delivered = append(delivered, e)
	}
	if len(delivered) == 0 {
		return nil
	}
	if err := d.store.MarkDispatched(ctx, delivered); err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	d.logger.Debug("outbox drained", "count", len(delivered))
	return nil
}

// Close flushes and shuts the producer down.
func (d *Dispatcher) Close() {
	if d.client != nil {
		d.client.Close()
	}
}
