package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"limscore/internal/audit"
	"limscore/internal/workorder/models"
	"limscore/internal/workorder/store"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/tx"
)

type WorkorderSuite struct {
	suite.Suite
	ctx       context.Context
	store     *store.InMemory
	trail     *audit.InMemoryStore
	svc       *Service
	reception domain.Actor
}

func (s *WorkorderSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemory()
	s.trail = audit.NewInMemoryStore()
	s.svc = NewService(s.store, audit.NewPublisher(s.trail), tx.NewMemoryRunner())
	s.reception = domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Thu Ha", Role: domain.RoleReception}
}

func TestWorkorderSuite(t *testing.T) {
	suite.Run(t, new(WorkorderSuite))
}

func (s *WorkorderSuite) seedClient() *models.Client {
	client, err := s.svc.CreateClient(s.ctx, s.reception, &models.Client{
		Name:  "Song Da Beverages",
		TaxID: "0312345678",
		Contacts: []models.ContactPerson{
			{Name: "Minh Tran", Phone: "0903123456"},
		},
	})
	s.Require().NoError(err)
	return client
}

func (s *WorkorderSuite) newOrder(clientID domain.ClientID) *models.Order {
	return &models.Order{
		ClientID:         clientID,
		Salesperson:      "Hoa Nguyen",
		TaxRate:          decimal.RequireFromString("10"),
		CurrencyExponent: 2,
		Samples: []models.OrderSample{
			{
				Description: "Nước thải đầu ra",
				SampleType:  "waste water",
				Analyses: []models.OrderAnalysis{
					{Parameter: "pH", ProtocolCode: "TCVN 6492", Fee: decimal.RequireFromString("100")},
					{Parameter: "COD", ProtocolCode: "SMEWW 5220", Fee: decimal.RequireFromString("250")},
				},
			},
		},
	}
}

func (s *WorkorderSuite) TestCreateOrderComputesTotals() {
	client := s.seedClient()

	order, err := s.svc.CreateOrder(s.ctx, s.reception, s.newOrder(client.ID))
	s.Require().NoError(err)
	s.Equal(models.OrderStatusPending, order.Status)
	s.True(order.Totals.FeeBeforeTax.Equal(decimal.RequireFromString("350")))
	s.True(order.Totals.FeeAfterTax.Equal(decimal.RequireFromString("385.00")))
	for _, sm := range order.Samples {
		s.NotEqual(uuid.Nil, sm.ID)
		for _, a := range sm.Analyses {
			s.NotEqual(uuid.Nil, a.ID)
		}
	}

	trail, err := s.trail.ListByEntity(s.ctx, "order", order.ID.String())
	s.Require().NoError(err)
	s.NotEmpty(trail)
}

func (s *WorkorderSuite) TestCreateOrderForRetiredClient() {
	client := s.seedClient()
	_, err := s.svc.RetireClient(s.ctx, s.reception, client.ID, client.Version)
	s.Require().NoError(err)

	_, err = s.svc.CreateOrder(s.ctx, s.reception, s.newOrder(client.ID))
	s.Require().Error(err)
	s.Equal(dErrors.CodeReferentialViolation, dErrors.Code(err))
}

func (s *WorkorderSuite) TestCreateOrderForUnknownClient() {
	_, err := s.svc.CreateOrder(s.ctx, s.reception, s.newOrder(domain.ClientID(uuid.New())))
	s.Require().Error(err)
	s.Equal(dErrors.CodeNotFound, dErrors.Code(err))
}

func (s *WorkorderSuite) TestConfirmAndCancelGuards() {
	client := s.seedClient()
	order, err := s.svc.CreateOrder(s.ctx, s.reception, s.newOrder(client.ID))
	s.Require().NoError(err)

	confirmed, err := s.svc.ConfirmOrder(s.ctx, s.reception, order.ID, order.Version)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusConfirmed, confirmed.Status)

	_, err = s.svc.ConfirmOrder(s.ctx, s.reception, order.ID, confirmed.Version)
	s.Require().Error(err)
	s.Equal(dErrors.CodeInvalidTransition, dErrors.Code(err))

	cancelled, err := s.svc.CancelOrder(s.ctx, s.reception, order.ID, confirmed.Version)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusCancelled, cancelled.Status)
}

func (s *WorkorderSuite) TestStaleOrderVersion() {
	client := s.seedClient()
	order, err := s.svc.CreateOrder(s.ctx, s.reception, s.newOrder(client.ID))
	s.Require().NoError(err)

	_, err = s.svc.ConfirmOrder(s.ctx, s.reception, order.ID, order.Version+7)
	s.Require().Error(err)
	s.Equal(dErrors.CodeStaleState, dErrors.Code(err))
}

func (s *WorkorderSuite) TestListOrdersFilters() {
	client := s.seedClient()
	other := s.seedClient()

	first, err := s.svc.CreateOrder(s.ctx, s.reception, s.newOrder(client.ID))
	s.Require().NoError(err)
	_, err = s.svc.CreateOrder(s.ctx, s.reception, s.newOrder(other.ID))
	s.Require().NoError(err)
	_, err = s.svc.ConfirmOrder(s.ctx, s.reception, first.ID, 0)
	s.Require().NoError(err)

	byClient, err := s.svc.ListOrders(s.ctx, store.OrderFilter{ClientID: client.ID})
	s.Require().NoError(err)
	s.Len(byClient, 1)

	confirmed, err := s.svc.ListOrders(s.ctx, store.OrderFilter{Status: models.OrderStatusConfirmed})
	s.Require().NoError(err)
	s.Len(confirmed, 1)
	s.Equal(first.ID, confirmed[0].ID)
}

func (s *WorkorderSuite) TestOnlyReceptionManagesOrders() {
	technician := domain.Actor{ID: domain.ActorID(uuid.New()), Role: domain.RoleTechnician}

	_, err := s.svc.CreateClient(s.ctx, technician, &models.Client{Name: "X"})
	s.Require().Error(err)
	s.Equal(dErrors.CodeUnauthorized, dErrors.Code(err))

	_, err = s.svc.CreateOrder(s.ctx, technician, s.newOrder(domain.ClientID(uuid.New())))
	s.Require().Error(err)
	s.Equal(dErrors.CodeUnauthorized, dErrors.Code(err))
}
