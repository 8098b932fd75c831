package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"limscore/internal/lab/models"
	"limscore/pkg/domain"
	"limscore/pkg/platform/sentinel"
)

type LabStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *LabStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestLabStoreSuite(t *testing.T) {
	suite.Run(t, new(LabStoreSuite))
}

func (s *LabStoreSuite) newReceipt(code string) *models.Receipt {
	now := time.Now()
	return &models.Receipt{
		ID:         domain.ReceiptID(uuid.New()),
		Code:       domain.ReceiptCode(code),
		Client:     models.ClientSnapshot{Name: "Song Da Beverages"},
		ReceivedAt: now,
		Deadline:   now.Add(7 * 24 * time.Hour),
		Priority:   models.PriorityNormal,
		Status:     models.ReceiptStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *LabStoreSuite) newSample(receipt *models.Receipt, seq int) *models.Sample {
	return &models.Sample{
		ID:        domain.SampleID(uuid.New()),
		ReceiptID: receipt.ID,
		Code:      domain.NewSampleCode(receipt.Code, seq),
		Status:    models.SampleStatusReceived,
	}
}

func (s *LabStoreSuite) newAnalysis(sample *models.Sample, parameter string) *models.Analysis {
	return &models.Analysis{
		ID:        domain.AnalysisID(uuid.New()),
		SampleID:  sample.ID,
		Parameter: parameter,
		Fee:       decimal.NewFromInt(100),
		Status:    models.AnalysisStatusPending,
	}
}

func (s *LabStoreSuite) TestReceiptCodesAreSequential() {
	n1, err := s.store.NextReceiptNumber(s.ctx)
	s.Require().NoError(err)
	n2, err := s.store.NextReceiptNumber(s.ctx)
	s.Require().NoError(err)
	s.Equal(n1+1, n2)
}

func (s *LabStoreSuite) TestReceiptLookups() {
	receipt := s.newReceipt("REC-001")
	s.Require().NoError(s.store.CreateReceipt(s.ctx, receipt))
	s.Equal(1, receipt.Version)

	byID, err := s.store.GetReceipt(s.ctx, receipt.ID)
	s.Require().NoError(err)
	s.Equal(receipt.Code, byID.Code)

	byCode, err := s.store.GetReceiptByCode(s.ctx, receipt.Code)
	s.Require().NoError(err)
	s.Equal(receipt.ID, byCode.ID)

	_, err = s.store.GetReceipt(s.ctx, domain.ReceiptID(uuid.New()))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *LabStoreSuite) TestDuplicateReceiptCodeRejected() {
	s.Require().NoError(s.store.CreateReceipt(s.ctx, s.newReceipt("REC-001")))
	err := s.store.CreateReceipt(s.ctx, s.newReceipt("REC-001"))
	s.Require().ErrorIs(err, sentinel.ErrDuplicate)
}

func (s *LabStoreSuite) TestVersionConflictOnStaleUpdate() {
	receipt := s.newReceipt("REC-001")
	s.Require().NoError(s.store.CreateReceipt(s.ctx, receipt))

	fresh, err := s.store.GetReceipt(s.ctx, receipt.ID)
	s.Require().NoError(err)
	stale, err := s.store.GetReceipt(s.ctx, receipt.ID)
	s.Require().NoError(err)

	s.Require().NoError(fresh.StartProcessing())
	s.Require().NoError(s.store.UpdateReceipt(s.ctx, fresh))
	s.Equal(2, fresh.Version)

	s.Require().NoError(stale.StartProcessing())
	err = s.store.UpdateReceipt(s.ctx, stale)
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *LabStoreSuite) TestSamplesBelongToReceipts() {
	receipt := s.newReceipt("REC-001")
	s.Require().NoError(s.store.CreateReceipt(s.ctx, receipt))

	orphan := s.newSample(s.newReceipt("REC-999"), 1)
	err := s.store.CreateSample(s.ctx, orphan)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.CreateSample(s.ctx, s.newSample(receipt, 2)))
	s.Require().NoError(s.store.CreateSample(s.ctx, s.newSample(receipt, 1)))

	samples, err := s.store.ListSamplesByReceipt(s.ctx, receipt.ID)
	s.Require().NoError(err)
	s.Require().Len(samples, 2)
	s.Equal(domain.NewSampleCode(receipt.Code, 1), samples[0].Code)
}

func (s *LabStoreSuite) TestAnalysisSnapshotImmutableOnceTesting() {
	receipt := s.newReceipt("REC-001")
	s.Require().NoError(s.store.CreateReceipt(s.ctx, receipt))
	sample := s.newSample(receipt, 1)
	s.Require().NoError(s.store.CreateSample(s.ctx, sample))
	analysis := s.newAnalysis(sample, "pH")
	s.Require().NoError(s.store.CreateAnalysis(s.ctx, analysis))

	technician := domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Lan", Role: domain.RoleTechnician}
	s.Require().NoError(analysis.Assign(technician, "Lab 1"))
	s.Require().NoError(s.store.UpdateAnalysis(s.ctx, analysis))

	// Mutable fields still update.
	analysis.Equipment = "pH meter 3"
	s.Require().NoError(s.store.UpdateAnalysis(s.ctx, analysis))

	// Snapshot fields are frozen once testing has started.
	analysis.Parameter = "COD"
	err := s.store.UpdateAnalysis(s.ctx, analysis)
	s.Require().ErrorIs(err, sentinel.ErrImmutable)
}

func (s *LabStoreSuite) TestHandoverTrail() {
	receipt := s.newReceipt("REC-001")
	s.Require().NoError(s.store.CreateReceipt(s.ctx, receipt))
	sample := s.newSample(receipt, 1)
	s.Require().NoError(s.store.CreateSample(s.ctx, sample))

	h := models.Handover{
		ID:        uuid.New(),
		SampleID:  sample.ID,
		FromActor: "reception",
		ToActorID: domain.ActorID(uuid.New()),
		ToActor:   "Lan",
		CreatedAt: time.Now(),
	}
	s.Require().NoError(s.store.CreateHandover(s.ctx, h))

	trail, err := s.store.ListHandoversBySample(s.ctx, sample.ID)
	s.Require().NoError(err)
	s.Require().Len(trail, 1)
	s.Equal("Lan", trail[0].ToActor)
}
