// Package store persists clients and orders. The in-memory implementation
// backs unit tests and single-node development; Postgres is the production
// deployment. Both return sentinel errors that services translate into coded
// domain errors.
package store

import (
	"context"
	"fmt"
	"sync"

	"limscore/internal/workorder/models"
	"limscore/pkg/domain"
	"limscore/pkg/platform/sentinel"
)

// InMemory keeps clients and orders in maps guarded by one lock. Reads hand
// out copies so callers can mutate freely before writing back.
type InMemory struct {
	mu      sync.RWMutex
	clients map[domain.ClientID]*models.Client
	orders  map[domain.OrderID]*models.Order
}

func NewInMemory() *InMemory {
	return &InMemory{
		clients: make(map[domain.ClientID]*models.Client),
		orders:  make(map[domain.OrderID]*models.Order),
	}
}

func (s *InMemory) CreateClient(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ID]; ok {
		return fmt.Errorf("client %s: %w", c.ID, sentinel.ErrDuplicate)
	}
	c.Version = 1
	cp := cloneClient(c)
	s.clients[c.ID] = &cp
	return nil
}

func (s *InMemory) GetClient(_ context.Context, id domain.ClientID) (*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", id, sentinel.ErrNotFound)
	}
	cp := cloneClient(c)
	return &cp, nil
}

func (s *InMemory) UpdateClient(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.clients[c.ID]
	if !ok {
		return fmt.Errorf("client %s: %w", c.ID, sentinel.ErrNotFound)
	}
	if cur.Version != c.Version {
		return fmt.Errorf("client %s: %w", c.ID, sentinel.ErrConflict)
	}
	c.Version++
	cp := cloneClient(c)
	s.clients[c.ID] = &cp
	return nil
}

func (s *InMemory) CreateOrder(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s: %w", o.ID, sentinel.ErrDuplicate)
	}
	if _, ok := s.clients[o.ClientID]; !ok {
		return fmt.Errorf("order client %s: %w", o.ClientID, sentinel.ErrNotFound)
	}
	o.Version = 1
	cp := cloneOrder(o)
	s.orders[o.ID] = &cp
	return nil
}

func (s *InMemory) GetOrder(_ context.Context, id domain.OrderID) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, sentinel.ErrNotFound)
	}
	cp := cloneOrder(o)
	return &cp, nil
}

// OrderFilter narrows ListOrders. Zero values match everything.
type OrderFilter struct {
	ClientID domain.ClientID
	Status   models.OrderStatus
}

func (s *InMemory) ListOrders(_ context.Context, f OrderFilter) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Order
	for _, o := range s.orders {
		if !f.ClientID.IsNil() && o.ClientID != f.ClientID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		cp := cloneOrder(o)
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemory) UpdateOrder(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", o.ID, sentinel.ErrNotFound)
	}
	if cur.Version != o.Version {
		return fmt.Errorf("order %s: %w", o.ID, sentinel.ErrConflict)
	}
	o.Version++
	cp := cloneOrder(o)
	s.orders[o.ID] = &cp
	return nil
}

func cloneClient(c *models.Client) models.Client {
	cp := *c
	cp.Contacts = append([]models.ContactPerson(nil), c.Contacts...)
	return cp
}

func cloneOrder(o *models.Order) models.Order {
	cp := *o
	cp.Samples = make([]models.OrderSample, len(o.Samples))
	for i, s := range o.Samples {
		sc := s
		sc.Analyses = append([]models.OrderAnalysis(nil), s.Analyses...)
		cp.Samples[i] = sc
	}
	if o.ReceiptID != nil {
		rid := *o.ReceiptID
		cp.ReceiptID = &rid
	}
	return cp
}
