// Package service implements work distribution on the lab floor: binding
// analyses to technicians and recording specimen custody transfers.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"limscore/internal/audit"
	labmodels "limscore/internal/lab/models"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/sentinel"
	"limscore/pkg/platform/tx"
)

// LabStore is the lab-side persistence slice assignment needs.
type LabStore interface {
	GetReceipt(ctx context.Context, id domain.ReceiptID) (*labmodels.Receipt, error)
	UpdateReceipt(ctx context.Context, r *labmodels.Receipt) error
	GetSample(ctx context.Context, id domain.SampleID) (*labmodels.Sample, error)
	UpdateSample(ctx context.Context, sm *labmodels.Sample) error
	GetAnalysis(ctx context.Context, id domain.AnalysisID) (*labmodels.Analysis, error)
	ListAnalysesBySample(ctx context.Context, sampleID domain.SampleID) ([]*labmodels.Analysis, error)
	UpdateAnalysis(ctx context.Context, a *labmodels.Analysis) error
	CreateHandover(ctx context.Context, h labmodels.Handover) error
	ListHandoversBySample(ctx context.Context, sampleID domain.SampleID) ([]labmodels.Handover, error)
}

// AssignInput names the technician taking an analysis and where the work
// happens. Version is the analysis version the caller read.
type AssignInput struct {
	Technician domain.Actor
	Location   string
	Equipment  string
	Version    int
}

// HandoverInput records who receives the specimen. An empty AnalysisIDs
// means every open analysis on the sample changes hands.
type HandoverInput struct {
	ToActorID   domain.ActorID
	ToActorName string
	AnalysisIDs []domain.AnalysisID
	Notes       string
}

type Service struct {
	lab     LabStore
	auditor *audit.Publisher
	runner  tx.Runner
	now     func() time.Time
}

func NewService(lab LabStore, auditor *audit.Publisher, runner tx.Runner) *Service {
	return &Service{lab: lab, auditor: auditor, runner: runner, now: time.Now}
}

// AssignAnalysis moves an analysis from pending to testing. The first
// assignment on a sample starts the sample analyzing, and the first on a
// receipt starts the receipt processing, all in one transaction.
func (s *Service) AssignAnalysis(ctx context.Context, actor domain.Actor, analysisID domain.AnalysisID, input AssignInput) (*labmodels.Analysis, error) {
	if !actor.Can(domain.RoleTechnician, domain.RoleReviewer) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only lab staff may assign analyses")
	}
	technician := input.Technician
	if technician.ID.IsNil() {
		technician = actor
	}
	if technician.Role != domain.RoleTechnician && technician.Role != domain.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeValidation, "analyses are assigned to technicians")
	}

	var out *labmodels.Analysis
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		analysis, err := s.lab.GetAnalysis(ctx, analysisID)
		if err != nil {
			return translate(err, "analysis")
		}
		if err := checkVersion(analysis.Version, input.Version, "analysis"); err != nil {
			return err
		}

		from := analysis.Status
		if err := analysis.Assign(technician, input.Location); err != nil {
			return err
		}
		analysis.Equipment = input.Equipment
		analysis.UpdatedAt = s.now()
		if err := s.lab.UpdateAnalysis(ctx, analysis); err != nil {
			return translate(err, "analysis")
		}
		if err := s.auditor.Emit(ctx, audit.Transition(actor, "analysis", analysis.ID.String(), "assign", string(from), string(analysis.Status))); err != nil {
			return fmt.Errorf("emit audit: %w", err)
		}

		sample, err := s.lab.GetSample(ctx, analysis.SampleID)
		if err != nil {
			return translate(err, "sample")
		}
		if sample.Status == labmodels.SampleStatusReceived {
			if err := sample.StartAnalyzing(); err != nil {
				return err
			}
			sample.UpdatedAt = s.now()
			if err := s.lab.UpdateSample(ctx, sample); err != nil {
				return translate(err, "sample")
			}
			if err := s.auditor.Emit(ctx, audit.Transition(actor, "sample", sample.ID.String(), "start_analyzing",
				string(labmodels.SampleStatusReceived), string(sample.Status))); err != nil {
				return fmt.Errorf("emit audit: %w", err)
			}
		}

		receipt, err := s.lab.GetReceipt(ctx, sample.ReceiptID)
		if err != nil {
			return translate(err, "receipt")
		}
		if receipt.Status == labmodels.ReceiptStatusPending {
			if err := receipt.StartProcessing(); err != nil {
				return err
			}
			receipt.UpdatedAt = s.now()
			if err := s.lab.UpdateReceipt(ctx, receipt); err != nil {
				return translate(err, "receipt")
			}
			if err := s.auditor.Emit(ctx, audit.Transition(actor, "receipt", receipt.ID.String(), "start_processing",
				string(labmodels.ReceiptStatusPending), string(receipt.Status))); err != nil {
				return fmt.Errorf("emit audit: %w", err)
			}
		}

		out = analysis
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HandoverSample logs a custody transfer. The specimen itself does not
// change status; the record is the deliverable.
func (s *Service) HandoverSample(ctx context.Context, actor domain.Actor, sampleID domain.SampleID, input HandoverInput) (*labmodels.Handover, error) {
	if !actor.Can(domain.RoleReception, domain.RoleTechnician) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only reception or technicians may hand over samples")
	}
	if input.ToActorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "handover requires a recipient")
	}
	if strings.TrimSpace(input.ToActorName) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "handover requires the recipient name")
	}

	var out *labmodels.Handover
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		sample, err := s.lab.GetSample(ctx, sampleID)
		if err != nil {
			return translate(err, "sample")
		}
		if !sample.CanHandover() {
			return dErrors.New(dErrors.CodeInvalidTransition,
				"sample in status "+string(sample.Status)+" cannot change hands")
		}

		analysisIDs := input.AnalysisIDs
		if len(analysisIDs) == 0 {
			analyses, err := s.lab.ListAnalysesBySample(ctx, sample.ID)
			if err != nil {
				return translate(err, "analyses")
			}
			for _, a := range analyses {
				if !a.Status.IsTerminal() {
					analysisIDs = append(analysisIDs, a.ID)
				}
			}
		}

		h := labmodels.Handover{
			ID:          uuid.New(),
			SampleID:    sample.ID,
			FromActor:   actor.Name,
			ToActorID:   input.ToActorID,
			ToActor:     input.ToActorName,
			AnalysisIDs: analysisIDs,
			Notes:       input.Notes,
			CreatedAt:   s.now(),
		}
		if err := s.lab.CreateHandover(ctx, h); err != nil {
			return translate(err, "handover")
		}

		event := audit.Transition(actor, "sample", sample.ID.String(), "handover", string(sample.Status), string(sample.Status))
		event.Reason = "to " + input.ToActorName
		if err := s.auditor.Emit(ctx, event); err != nil {
			return fmt.Errorf("emit audit: %w", err)
		}
		out = &h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Handovers returns a sample's custody trail, oldest first.
func (s *Service) Handovers(ctx context.Context, sampleID domain.SampleID) ([]labmodels.Handover, error) {
	records, err := s.lab.ListHandoversBySample(ctx, sampleID)
	if err != nil {
		return nil, translate(err, "handovers")
	}
	return records, nil
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
	case errors.Is(err, sentinel.ErrImmutable):
		return dErrors.Wrap(err, dErrors.CodeValidation, kind+" snapshot is immutable")
	default:
		return err
	}
}
