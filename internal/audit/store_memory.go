package audit

import (
	"context"
	"sync"
)

// InMemoryStore keeps events in append order. Used by tests and the
// databaseless dev mode; there is no outbox to drain, ListPending feeds the
// dispatcher straight from the slice.
type InMemoryStore struct {
	mu         sync.Mutex
	events     []Event
	dispatched map[int]bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{dispatched: make(map[int]bool)}
}

func (s *InMemoryStore) Append(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.events {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListPending(ctx context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for i, e := range s.events {
		if s.dispatched[i] {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkDispatched(ctx context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		for i, cur := range s.events {
			if cur.ID == e.ID {
				s.dispatched[i] = true
			}
		}
	}
	return nil
}
