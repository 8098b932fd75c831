// Package service manages clients and commercial orders upstream of intake.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"limscore/internal/audit"
	"limscore/internal/workorder/models"
	"limscore/internal/workorder/store"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/sentinel"
	"limscore/pkg/platform/tx"
)

// Store is the workorder persistence surface.
type Store interface {
	CreateClient(ctx context.Context, c *models.Client) error
	GetClient(ctx context.Context, id domain.ClientID) (*models.Client, error)
	UpdateClient(ctx context.Context, c *models.Client) error
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id domain.OrderID) (*models.Order, error)
	ListOrders(ctx context.Context, f store.OrderFilter) ([]*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
}

type Service struct {
	store   Store
	auditor *audit.Publisher
	runner  tx.Runner
	now     func() time.Time
}

func NewService(s Store, auditor *audit.Publisher, runner tx.Runner) *Service {
	return &Service{store: s, auditor: auditor, runner: runner, now: time.Now}
}

func (s *Service) CreateClient(ctx context.Context, actor domain.Actor, client *models.Client) (*models.Client, error) {
	if !actor.Can(domain.RoleReception) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only reception may manage clients")
	}
	if err := client.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	client.ID = domain.ClientID(uuid.New())
	client.CreatedAt = now
	client.UpdatedAt = now
	if err := s.store.CreateClient(ctx, client); err != nil {
		return nil, translate(err, "client")
	}
	return client, nil
}

func (s *Service) GetClient(ctx context.Context, id domain.ClientID) (*models.Client, error) {
	client, err := s.store.GetClient(ctx, id)
	if err != nil {
		return nil, translate(err, "client")
	}
	return client, nil
}

// RetireClient soft-retires a client profile. Orders and receipts that
// snapshotted it stay intact.
func (s *Service) RetireClient(ctx context.Context, actor domain.Actor, id domain.ClientID, version int) (*models.Client, error) {
	if !actor.Can(domain.RoleReception) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only reception may manage clients")
	}
	var out *models.Client
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		client, err := s.store.GetClient(ctx, id)
		if err != nil {
			return translate(err, "client")
		}
		if err := checkVersion(client.Version, version, "client"); err != nil {
			return err
		}
		client.Retired = true
		client.UpdatedAt = s.now()
		if err := s.store.UpdateClient(ctx, client); err != nil {
			return translate(err, "client")
		}
		out = client
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder validates and persists a pending order, computing totals from
// the line fees when the caller leaves them zero.
func (s *Service) CreateOrder(ctx context.Context, actor domain.Actor, order *models.Order) (*models.Order, error) {
	if !actor.Can(domain.RoleReception) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only reception may create orders")
	}

	var out *models.Order
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		client, err := s.store.GetClient(ctx, order.ClientID)
		if err != nil {
			return translate(err, "client")
		}
		if client.Retired {
			return dErrors.New(dErrors.CodeReferentialViolation, "client "+client.ID.String()+" is retired")
		}

		now := s.now()
		order.ID = domain.OrderID(uuid.New())
		order.Status = models.OrderStatusPending
		order.CreatedAt = now
		order.UpdatedAt = now
		for i := range order.Samples {
			if order.Samples[i].ID == uuid.Nil {
				order.Samples[i].ID = uuid.New()
			}
			for j := range order.Samples[i].Analyses {
				if order.Samples[i].Analyses[j].ID == uuid.Nil {
					order.Samples[i].Analyses[j].ID = uuid.New()
				}
			}
		}
		if order.Totals.FeeAfterTax.IsZero() {
			order.Totals = models.ComputeTotals(order.Samples, order.TaxRate, order.DiscountRate, order.CurrencyExponent)
		}
		if err := order.Validate(); err != nil {
			return err
		}
		if err := s.store.CreateOrder(ctx, order); err != nil {
			return translate(err, "order")
		}
		if err := s.auditor.Emit(ctx, audit.Transition(actor, "order", order.ID.String(), "create", "", string(order.Status))); err != nil {
			return fmt.Errorf("emit audit: %w", err)
		}
		out = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetOrder(ctx context.Context, id domain.OrderID) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, translate(err, "order")
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, f store.OrderFilter) ([]*models.Order, error) {
	orders, err := s.store.ListOrders(ctx, f)
	if err != nil {
		return nil, translate(err, "orders")
	}
	return orders, nil
}

func (s *Service) ConfirmOrder(ctx context.Context, actor domain.Actor, id domain.OrderID, version int) (*models.Order, error) {
	return s.transitionOrder(ctx, actor, id, version, "confirm", func(o *models.Order) error {
		return o.Confirm()
	})
}

func (s *Service) CancelOrder(ctx context.Context, actor domain.Actor, id domain.OrderID, version int) (*models.Order, error) {
	return s.transitionOrder(ctx, actor, id, version, "cancel", func(o *models.Order) error {
		return o.Cancel()
	})
}

func (s *Service) transitionOrder(ctx context.Context, actor domain.Actor, id domain.OrderID, version int, action string, transition func(*models.Order) error) (*models.Order, error) {
	if !actor.Can(domain.RoleReception) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only reception may manage orders")
	}

	var out *models.Order
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.store.GetOrder(ctx, id)
		if err != nil {
			return translate(err, "order")
		}
		if err := checkVersion(order.Version, version, "order"); err != nil {
			return err
		}
		from := order.Status
		if err := transition(order); err != nil {
			return err
		}
		order.UpdatedAt = s.now()
		if err := s.store.UpdateOrder(ctx, order); err != nil {
			return translate(err, "order")
		}
		if err := s.auditor.Emit(ctx, audit.Transition(actor, "order", order.ID.String(), action, string(from), string(order.Status))); err != nil {
			return fmt.Errorf("emit audit: %w", err)
		}
		out = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func checkVersion(current, expected int, kind string) error {
	if expected != 0 && current != expected {
		return dErrors.New(dErrors.CodeStaleState,
			fmt.Sprintf("%s was modified concurrently: have version %d, caller read %d", kind, current, expected))
	}
	return nil
}

func translate(err error, kind string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, kind+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeStaleState, kind+" was modified concurrently")
	case errors.Is(err, sentinel.ErrDuplicate):
		return dErrors.Wrap(err, dErrors.CodeValidation, kind+" already exists")
	default:
		return err
	}
}
