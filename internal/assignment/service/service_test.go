package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"limscore/internal/audit"
	labmodels "limscore/internal/lab/models"
	labstore "limscore/internal/lab/store"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/tx"
)

type AssignmentSuite struct {
	suite.Suite
	ctx        context.Context
	lab        *labstore.InMemory
	svc        *Service
	technician domain.Actor
	reception  domain.Actor
}

func (s *AssignmentSuite) SetupTest() {
	s.ctx = context.Background()
	s.lab = labstore.NewInMemory()
	s.svc = NewService(s.lab, audit.NewPublisher(audit.NewInMemoryStore()), tx.NewMemoryRunner())
	s.technician = domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Lan Pham", Role: domain.RoleTechnician}
	s.reception = domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Thu Ha", Role: domain.RoleReception}
}

func TestAssignmentSuite(t *testing.T) {
	suite.Run(t, new(AssignmentSuite))
}

// seedPending creates a pending receipt with one received sample carrying two
// pending analyses.
func (s *AssignmentSuite) seedPending() (*labmodels.Receipt, *labmodels.Sample, []*labmodels.Analysis) {
	now := time.Now()
	receipt := &labmodels.Receipt{
		ID:         domain.ReceiptID(uuid.New()),
		Code:       "REC-001",
		ReceivedAt: now,
		Deadline:   now.Add(72 * time.Hour),
		Priority:   labmodels.PriorityUrgent,
		Status:     labmodels.ReceiptStatusPending,
	}
	s.Require().NoError(s.lab.CreateReceipt(s.ctx, receipt))

	sample := &labmodels.Sample{
		ID:        domain.SampleID(uuid.New()),
		ReceiptID: receipt.ID,
		Code:      domain.NewSampleCode(receipt.Code, 1),
		Status:    labmodels.SampleStatusReceived,
	}
	s.Require().NoError(s.lab.CreateSample(s.ctx, sample))

	var analyses []*labmodels.Analysis
	for _, parameter := range []string{"pH", "COD"} {
		a := &labmodels.Analysis{
			ID:        domain.AnalysisID(uuid.New()),
			SampleID:  sample.ID,
			Parameter: parameter,
			Status:    labmodels.AnalysisStatusPending,
		}
		s.Require().NoError(s.lab.CreateAnalysis(s.ctx, a))
		analyses = append(analyses, a)
	}
	return receipt, sample, analyses
}

func (s *AssignmentSuite) TestFirstAssignmentCascades() {
	receipt, sample, analyses := s.seedPending()

	out, err := s.svc.AssignAnalysis(s.ctx, s.technician, analyses[0].ID, AssignInput{
		Location: "Lab 2",
		Version:  analyses[0].Version,
	})
	s.Require().NoError(err)
	s.Equal(labmodels.AnalysisStatusTesting, out.Status)
	s.Equal(s.technician.Name, out.TechnicianName)

	gotSample, err := s.lab.GetSample(s.ctx, sample.ID)
	s.Require().NoError(err)
	s.Equal(labmodels.SampleStatusAnalyzing, gotSample.Status)

	gotReceipt, err := s.lab.GetReceipt(s.ctx, receipt.ID)
	s.Require().NoError(err)
	s.Equal(labmodels.ReceiptStatusProcessing, gotReceipt.Status)
}

func (s *AssignmentSuite) TestSecondAssignmentLeavesCascadeAlone() {
	receipt, sample, analyses := s.seedPending()

	_, err := s.svc.AssignAnalysis(s.ctx, s.technician, analyses[0].ID, AssignInput{Version: analyses[0].Version})
	s.Require().NoError(err)

	fresh, err := s.lab.GetAnalysis(s.ctx, analyses[1].ID)
	s.Require().NoError(err)
	_, err = s.svc.AssignAnalysis(s.ctx, s.technician, analyses[1].ID, AssignInput{Version: fresh.Version})
	s.Require().NoError(err)

	gotSample, err := s.lab.GetSample(s.ctx, sample.ID)
	s.Require().NoError(err)
	s.Equal(labmodels.SampleStatusAnalyzing, gotSample.Status)
	gotReceipt, err := s.lab.GetReceipt(s.ctx, receipt.ID)
	s.Require().NoError(err)
	s.Equal(labmodels.ReceiptStatusProcessing, gotReceipt.Status)
}

func (s *AssignmentSuite) TestAssignTwiceRejected() {
	_, _, analyses := s.seedPending()

	out, err := s.svc.AssignAnalysis(s.ctx, s.technician, analyses[0].ID, AssignInput{Version: analyses[0].Version})
	s.Require().NoError(err)

	_, err = s.svc.AssignAnalysis(s.ctx, s.technician, analyses[0].ID, AssignInput{Version: out.Version})
	s.Require().Error(err)
	s.Equal(dErrors.CodeInvalidTransition, dErrors.Code(err))
}

func (s *AssignmentSuite) TestStaleVersionRejected() {
	_, _, analyses := s.seedPending()

	_, err := s.svc.AssignAnalysis(s.ctx, s.technician, analyses[0].ID, AssignInput{Version: 99})
	s.Require().Error(err)
	s.Equal(dErrors.CodeStaleState, dErrors.Code(err))
}

func (s *AssignmentSuite) TestReceptionCannotAssign() {
	_, _, analyses := s.seedPending()

	_, err := s.svc.AssignAnalysis(s.ctx, s.reception, analyses[0].ID, AssignInput{Version: analyses[0].Version})
	s.Require().Error(err)
	s.Equal(dErrors.CodeUnauthorized, dErrors.Code(err))
}

func (s *AssignmentSuite) TestHandoverDefaultsToOpenAnalyses() {
	_, sample, analyses := s.seedPending()

	recipient := domain.ActorID(uuid.New())
	record, err := s.svc.HandoverSample(s.ctx, s.reception, sample.ID, HandoverInput{
		ToActorID:   recipient,
		ToActorName: "Lan Pham",
		Notes:       "fridge 4",
	})
	s.Require().NoError(err)
	s.Len(record.AnalysisIDs, len(analyses))
	s.Equal("Lan Pham", record.ToActor)

	trail, err := s.svc.Handovers(s.ctx, sample.ID)
	s.Require().NoError(err)
	s.Require().Len(trail, 1)
	s.Equal(record.ID, trail[0].ID)
}

func (s *AssignmentSuite) TestHandoverRequiresLiveSample() {
	_, sample, _ := s.seedPending()

	fresh, err := s.lab.GetSample(s.ctx, sample.ID)
	s.Require().NoError(err)
	s.Require().NoError(fresh.MarkDisposed())
	s.Require().NoError(s.lab.UpdateSample(s.ctx, fresh))

	_, err = s.svc.HandoverSample(s.ctx, s.reception, sample.ID, HandoverInput{
		ToActorID:   domain.ActorID(uuid.New()),
		ToActorName: "Lan Pham",
	})
	s.Require().Error(err)
	s.Equal(dErrors.CodeInvalidTransition, dErrors.Code(err))
}
