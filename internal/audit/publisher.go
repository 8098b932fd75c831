package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"limscore/internal/platform/middleware"
)

// Store is the append-only sink behind the publisher. Postgres keeps events
// in an outbox table inside the caller's transaction; memory keeps a slice.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]Event, error)
}

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Topic == "" {
		event.Topic = TopicAudit
	}
	if event.RequestID == "" {
		event.RequestID = middleware.GetRequestID(ctx)
	}
	return p.store.Append(ctx, event)
}

func (p *Publisher) List(ctx context.Context, entityType, entityID string) ([]Event, error) {
	return p.store.ListByEntity(ctx, entityType, entityID)
}
