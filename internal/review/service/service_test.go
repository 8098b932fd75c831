package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"limscore/internal/audit"
	labmodels "limscore/internal/lab/models"
	labstore "limscore/internal/lab/store"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/tx"
)

type ReviewSuite struct {
	suite.Suite
	ctx        context.Context
	lab        *labstore.InMemory
	auditSink  *audit.InMemoryStore
	svc        *Service
	technician domain.Actor
	reviewer   domain.Actor
}

func (s *ReviewSuite) SetupTest() {
	s.ctx = context.Background()
	s.lab = labstore.NewInMemory()
	s.auditSink = audit.NewInMemoryStore()
	s.svc = NewService(s.lab, audit.NewPublisher(s.auditSink), tx.NewMemoryRunner(), nil, decimal.RequireFromString("0.10"))
	s.technician = domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Lan Pham", Role: domain.RoleTechnician}
	s.reviewer = domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Quang Vu", Role: domain.RoleReviewer}
}

func TestReviewSuite(t *testing.T) {
	suite.Run(t, new(ReviewSuite))
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

// seedTestingAnalysis puts one analysis in testing assigned to s.technician.
func (s *ReviewSuite) seedTestingAnalysis() *labmodels.Analysis {
	now := time.Now()
	receipt := &labmodels.Receipt{
		ID:         domain.ReceiptID(uuid.New()),
		Code:       "REC-001",
		ReceivedAt: now,
		Deadline:   now.Add(7 * 24 * time.Hour),
		Priority:   labmodels.PriorityNormal,
		Status:     labmodels.ReceiptStatusProcessing,
	}
	s.Require().NoError(s.lab.CreateReceipt(s.ctx, receipt))
	sample := &labmodels.Sample{
		ID:        domain.SampleID(uuid.New()),
		ReceiptID: receipt.ID,
		Code:      domain.NewSampleCode(receipt.Code, 1),
		Status:    labmodels.SampleStatusAnalyzing,
	}
	s.Require().NoError(s.lab.CreateSample(s.ctx, sample))
	analysis := &labmodels.Analysis{
		ID:           domain.AnalysisID(uuid.New()),
		SampleID:     sample.ID,
		Parameter:    "pH",
		Unit:         "pH",
		ThresholdMin: decPtr("6.5"),
		ThresholdMax: decPtr("8.5"),
		Status:       labmodels.AnalysisStatusPending,
	}
	s.Require().NoError(s.lab.CreateAnalysis(s.ctx, analysis))
	s.Require().NoError(analysis.Assign(s.technician, "Lab 2"))
	s.Require().NoError(s.lab.UpdateAnalysis(s.ctx, analysis))
	return analysis
}

func (s *ReviewSuite) submit(analysis *labmodels.Analysis, value string) *labmodels.Analysis {
	out, err := s.svc.SubmitResult(s.ctx, s.technician, analysis.ID, SubmitInput{
		Value:   dec(value),
		Version: analysis.Version,
	})
	s.Require().NoError(err)
	return out
}

func (s *ReviewSuite) TestSubmitComputesAssessment() {
	analysis := s.seedTestingAnalysis()
	out := s.submit(analysis, "8.1")
	s.Equal(labmodels.AnalysisStatusReview, out.Status)
	s.Equal(labmodels.AssessmentWarning, out.Assessment)
}

func (s *ReviewSuite) TestSubmitByUnassignedTechnician() {
	analysis := s.seedTestingAnalysis()
	other := domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Someone", Role: domain.RoleTechnician}

	_, err := s.svc.SubmitResult(s.ctx, other, analysis.ID, SubmitInput{Value: dec("7"), Version: analysis.Version})
	s.Require().Error(err)
	s.Equal(dErrors.CodeUnauthorized, dErrors.Code(err))
}

func (s *ReviewSuite) TestApproveIsTerminal() {
	analysis := s.seedTestingAnalysis()
	submitted := s.submit(analysis, "7.2")

	approved, err := s.svc.ApproveResult(s.ctx, s.reviewer, analysis.ID, submitted.Version)
	s.Require().NoError(err)
	s.Equal(labmodels.AnalysisStatusApproved, approved.Status)

	_, err = s.svc.RejectResult(s.ctx, s.reviewer, analysis.ID, "too late", approved.Version)
	s.Require().Error(err)
	s.Equal(dErrors.CodeInvalidTransition, dErrors.Code(err))
}

func (s *ReviewSuite) TestOnlyReviewersDecide() {
	analysis := s.seedTestingAnalysis()
	submitted := s.submit(analysis, "7.2")

	_, err := s.svc.ApproveResult(s.ctx, s.technician, analysis.ID, submitted.Version)
	s.Require().Error(err)
	s.Equal(dErrors.CodeUnauthorized, dErrors.Code(err))
}

func (s *ReviewSuite) TestRejectRequiresReason() {
	analysis := s.seedTestingAnalysis()
	submitted := s.submit(analysis, "7.2")

	_, err := s.svc.RejectResult(s.ctx, s.reviewer, analysis.ID, "   ", submitted.Version)
	s.Require().Error(err)
	s.Equal(dErrors.CodeValidation, dErrors.Code(err))

	// Nothing changed.
	unchanged, err := s.lab.GetAnalysis(s.ctx, analysis.ID)
	s.Require().NoError(err)
	s.Equal(labmodels.AnalysisStatusReview, unchanged.Status)
	s.Equal(submitted.Version, unchanged.Version)
}

func (s *ReviewSuite) TestRejectReturnsToTesting() {
	analysis := s.seedTestingAnalysis()
	submitted := s.submit(analysis, "9.9")
	s.Equal(labmodels.AssessmentFail, submitted.Assessment)

	rejected, err := s.svc.RejectResult(s.ctx, s.reviewer, analysis.ID, "implausible reading", submitted.Version)
	s.Require().NoError(err)
	s.Equal(labmodels.AnalysisStatusTesting, rejected.Status)
	s.Nil(rejected.ResultValue)
	s.Require().NotNil(rejected.TechnicianID)
	s.Equal(s.technician.ID, *rejected.TechnicianID)

	// The audit trail records the rejected hop.
	trail, err := s.auditSink.ListByEntity(s.ctx, "analysis", analysis.ID.String())
	s.Require().NoError(err)
	var sawRejected bool
	for _, e := range trail {
		if e.ToState == string(labmodels.AnalysisStatusRejected) {
			sawRejected = true
			s.Equal("implausible reading", e.Reason)
		}
	}
	s.True(sawRejected)
}

func (s *ReviewSuite) TestConcurrentApproveConflicts() {
	analysis := s.seedTestingAnalysis()
	submitted := s.submit(analysis, "7.2")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.svc.ApproveResult(s.ctx, s.reviewer, analysis.ID, submitted.Version)
		}(i)
	}
	wg.Wait()

	var ok, stale int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case dErrors.Code(err) == dErrors.CodeStaleState:
			stale++
		}
	}
	s.Equal(1, ok)
	s.Equal(1, stale)
}
