package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"limscore/internal/audit"
	catalogmodels "limscore/internal/catalog/models"
	catalogstore "limscore/internal/catalog/store"
	labmodels "limscore/internal/lab/models"
	labstore "limscore/internal/lab/store"
	workordermodels "limscore/internal/workorder/models"
	workorderstore "limscore/internal/workorder/store"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/tx"
)

type IntakeSuite struct {
	suite.Suite
	ctx       context.Context
	orders    *workorderstore.InMemory
	lab       *labstore.InMemory
	catalog   *catalogstore.InMemory
	auditSink *audit.InMemoryStore
	svc       *Service
	reception domain.Actor
}

func (s *IntakeSuite) SetupTest() {
	s.ctx = context.Background()
	s.orders = workorderstore.NewInMemory()
	s.lab = labstore.NewInMemory()
	s.catalog = catalogstore.NewInMemory()
	s.auditSink = audit.NewInMemoryStore()
	s.svc = NewService(s.orders, s.lab, s.catalog, audit.NewPublisher(s.auditSink), tx.NewMemoryRunner(), nil)
	s.reception = domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Thu Ha", Role: domain.RoleReception}
}

func TestIntakeSuite(t *testing.T) {
	suite.Run(t, new(IntakeSuite))
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func (s *IntakeSuite) seedConfirmedOrder() *workordermodels.Order {
	client := &workordermodels.Client{
		ID:   domain.ClientID(uuid.New()),
		Name: "Song Da Beverages",
		Contacts: []workordermodels.ContactPerson{
			{Name: "Minh Tran", Phone: "0901234567"},
		},
	}
	s.Require().NoError(s.orders.CreateClient(s.ctx, client))

	order := &workordermodels.Order{
		ID:       domain.OrderID(uuid.New()),
		ClientID: client.ID,
		Samples: []workordermodels.OrderSample{
			{
				ID:          uuid.New(),
				Description: "Nước thải",
				SampleType:  "waste water",
				Analyses: []workordermodels.OrderAnalysis{
					{ID: uuid.New(), Parameter: "pH", ProtocolCode: "TCVN 6492", Unit: "pH", ThresholdMin: decPtr("6.5"), ThresholdMax: decPtr("8.5"), Fee: dec("100")},
					{ID: uuid.New(), Parameter: "COD", ProtocolCode: "SMEWW 5220", Unit: "mg/L", ThresholdMax: decPtr("150"), Fee: dec("250")},
				},
			},
		},
		TaxRate:          dec("10"),
		DiscountRate:     dec("0"),
		CurrencyExponent: 2,
		Status:           workordermodels.OrderStatusConfirmed,
	}
	order.Totals = workordermodels.ComputeTotals(order.Samples, order.TaxRate, order.DiscountRate, order.CurrencyExponent)
	s.Require().NoError(s.orders.CreateOrder(s.ctx, order))
	return order
}

func (s *IntakeSuite) meta() ReceiptMeta {
	return ReceiptMeta{
		Deadline:   time.Now().Add(7 * 24 * time.Hour),
		ReceivedBy: "Thu Ha",
	}
}

func (s *IntakeSuite) TestCreateReceiptFromOrderExpands() {
	order := s.seedConfirmedOrder()

	expanded, err := s.svc.CreateReceiptFromOrder(s.ctx, s.reception, order.ID, s.meta())
	s.Require().NoError(err)

	s.Equal("REC-001", expanded.Receipt.Code.String())
	s.Equal(labmodels.ReceiptStatusPending, expanded.Receipt.Status)
	s.Equal("Song Da Beverages", expanded.Receipt.Client.Name)
	s.Equal("Minh Tran", expanded.Receipt.Client.ContactName)

	s.Require().Len(expanded.Samples, 1)
	s.Equal("REC-001-S1", expanded.Samples[0].Code.String())
	s.Equal(labmodels.SampleStatusReceived, expanded.Samples[0].Status)

	s.Require().Len(expanded.Analyses, 2)
	for _, a := range expanded.Analyses {
		s.Equal(labmodels.AnalysisStatusPending, a.Status)
	}
	// 100 × 1.10 = 110.00, copied from the order, not the catalog.
	s.True(expanded.Analyses[0].FeeAfterTax.Equal(dec("110.00")) || expanded.Analyses[1].FeeAfterTax.Equal(dec("110.00")))

	stored, err := s.orders.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.ReceiptID)
	s.Equal(expanded.Receipt.ID, *stored.ReceiptID)

	trail, err := s.auditSink.ListByEntity(s.ctx, "receipt", expanded.Receipt.ID.String())
	s.Require().NoError(err)
	s.NotEmpty(trail)
}

func (s *IntakeSuite) TestOrderCanOnlyBeReceiptedOnce() {
	order := s.seedConfirmedOrder()

	_, err := s.svc.CreateReceiptFromOrder(s.ctx, s.reception, order.ID, s.meta())
	s.Require().NoError(err)

	_, err = s.svc.CreateReceiptFromOrder(s.ctx, s.reception, order.ID, s.meta())
	s.Require().Error(err)
	s.Equal(dErrors.CodeOrderAlreadyReceipted, dErrors.Code(err))

	// The failed intake must not leave a second receipt behind.
	receipts, listErr := s.lab.ListReceipts(s.ctx, labstore.ReceiptFilter{})
	s.Require().NoError(listErr)
	s.Len(receipts, 1)
}

func (s *IntakeSuite) TestUnconfirmedOrderRejected() {
	order := s.seedConfirmedOrder()
	order.Status = workordermodels.OrderStatusPending
	s.Require().NoError(s.orders.UpdateOrder(s.ctx, order))

	_, err := s.svc.CreateReceiptFromOrder(s.ctx, s.reception, order.ID, s.meta())
	s.Require().Error(err)
	s.Equal(dErrors.CodeOrderNotConfirmed, dErrors.Code(err))
}

func (s *IntakeSuite) TestOnlyReceptionMayCreate() {
	order := s.seedConfirmedOrder()
	technician := domain.Actor{ID: domain.ActorID(uuid.New()), Role: domain.RoleTechnician}

	_, err := s.svc.CreateReceiptFromOrder(s.ctx, technician, order.ID, s.meta())
	s.Require().Error(err)
	s.Equal(dErrors.CodeUnauthorized, dErrors.Code(err))
}

func (s *IntakeSuite) seedCatalog() {
	now := time.Now()
	s.Require().NoError(s.catalog.CreateMatrix(s.ctx, &catalogmodels.Matrix{
		ID: uuid.NewString(), Parameter: "pH", SampleType: "waste water",
		ProtocolCode: "TCVN 6492", Unit: "pH",
		ThresholdMin: decPtr("6.5"), ThresholdMax: decPtr("8.5"),
		Price: dec("120"), Active: true, CreatedAt: now, UpdatedAt: now,
	}))
}

func (s *IntakeSuite) TestManualReceiptResolvesCatalog() {
	s.seedCatalog()

	expanded, err := s.svc.CreateManualReceipt(s.ctx, s.reception, ManualReceiptInput{
		Client: labmodels.ClientSnapshot{Name: "Walk-in client"},
		Samples: []SampleSpec{{
			Description: "Nước giếng",
			SampleType:  "waste water",
			Analyses:    []AnalysisSpec{{Parameter: "pH"}},
		}},
		TaxRate:          dec("10"),
		CurrencyExponent: 2,
		Meta:             s.meta(),
	})
	s.Require().NoError(err)
	s.Require().Len(expanded.Analyses, 1)
	s.Equal("TCVN 6492", expanded.Analyses[0].ProtocolCode)
	s.True(expanded.Analyses[0].Fee.Equal(dec("120")))
	s.True(expanded.Analyses[0].FeeAfterTax.Equal(dec("132.00")))
}

func (s *IntakeSuite) TestManualReceiptUnknownParameter() {
	s.seedCatalog()

	_, err := s.svc.CreateManualReceipt(s.ctx, s.reception, ManualReceiptInput{
		Client: labmodels.ClientSnapshot{Name: "Walk-in client"},
		Samples: []SampleSpec{{
			Description: "Nước giếng",
			SampleType:  "waste water",
			Analyses:    []AnalysisSpec{{Parameter: "Arsenic"}},
		}},
		Meta: s.meta(),
	})
	s.Require().Error(err)
	s.Equal(dErrors.CodeReferentialViolation, dErrors.Code(err))
}

func (s *IntakeSuite) TestDuplicateSample() {
	order := s.seedConfirmedOrder()
	expanded, err := s.svc.CreateReceiptFromOrder(s.ctx, s.reception, order.ID, s.meta())
	s.Require().NoError(err)

	source, err := s.lab.GetSample(s.ctx, expanded.Samples[0].ID)
	s.Require().NoError(err)
	source.KeptAsReference = true
	s.Require().NoError(s.lab.UpdateSample(s.ctx, source))

	dup, analyses, err := s.svc.DuplicateSample(s.ctx, s.reception, expanded.Receipt.Code, expanded.Samples[0].Code)
	s.Require().NoError(err)
	s.Equal("REC-001-S2", dup.Code.String())
	s.Equal(labmodels.SampleStatusReceived, dup.Status)
	s.True(dup.KeptAsReference)
	s.Equal(source.SampleType, dup.SampleType)
	s.Require().Len(analyses, 2)
	for _, a := range analyses {
		s.Equal(labmodels.AnalysisStatusPending, a.Status)
		s.Equal(dup.ID, a.SampleID)
	}
}
