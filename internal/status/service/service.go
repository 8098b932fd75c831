// Package service aggregates workflow progress and drives the privileged
// roll-up transitions. Aggregates are recomputed from the entities on every
// call; nothing here is cached or stored.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"limscore/internal/audit"
	labmodels "limscore/internal/lab/models"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/sentinel"
	"limscore/pkg/platform/tx"
)

// LabStore is the read/write slice the aggregator needs.
type LabStore interface {
	GetReceipt(ctx context.Context, id domain.ReceiptID) (*labmodels.Receipt, error)
	UpdateReceipt(ctx context.Context, r *labmodels.Receipt) error
	GetSample(ctx context.Context, id domain.SampleID) (*labmodels.Sample, error)
	UpdateSample(ctx context.Context, sm *labmodels.Sample) error
	ListSamplesByReceipt(ctx context.Context, receiptID domain.ReceiptID) ([]*labmodels.Sample, error)
	ListAnalysesBySample(ctx context.Context, sampleID domain.SampleID) ([]*labmodels.Analysis, error)
}

// SampleProgress is the per-sample roll-up: how far its analyses have come.
// Delivered stays zero until a report delivery integration reports it; the
// workflow core tracks no delivery state of its own.
type SampleProgress struct {
	SampleID      domain.SampleID
	Code          domain.SampleCode
	Status        labmodels.SampleStatus
	TotalAnalyses int
	WithResult    int
	Approved      int
	Delivered     int
	Complete      bool
}

// ReceiptProgress is the per-receipt roll-up shown on the dashboard.
type ReceiptProgress struct {
	ReceiptID       domain.ReceiptID
	Code            domain.ReceiptCode
	Status          labmodels.ReceiptStatus
	Priority        labmodels.Priority
	DaysLeft        int
	TotalSamples    int
	SamplesByStatus map[labmodels.SampleStatus]int
	Samples         []SampleProgress
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

// ReceiptStatus recomputes the receipt aggregate.
func (s *Service) ReceiptStatus(ctx context.Context, receiptID domain.ReceiptID) (*ReceiptProgress, error) {
	receipt, err := s.lab.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, translate(err, "receipt")
	}
	samples, err := s.lab.ListSamplesByReceipt(ctx, receiptID)
	if err != nil {
		return nil, translate(err, "samples")
	}

	progress := &ReceiptProgress{
		ReceiptID:       receipt.ID,
		Code:            receipt.Code,
		Status:          receipt.Status,
		Priority:        receipt.Priority,
		DaysLeft:        receipt.DaysLeft(s.now()),
		TotalSamples:    len(samples),
		SamplesByStatus: make(map[labmodels.SampleStatus]int),
	}
	for _, sm := range samples {
		progress.SamplesByStatus[sm.Status]++
		sp, err := s.sampleProgress(ctx, sm)
		if err != nil {
			return nil, err
		}
		progress.Samples = append(progress.Samples, sp)
	}
	return progress, nil
}

// SampleStatus recomputes the sample aggregate.
func (s *Service) SampleStatus(ctx context.Context, sampleID domain.SampleID) (*SampleProgress, error) {
	sample, err := s.lab.GetSample(ctx, sampleID)
	if err != nil {
		return nil, translate(err, "sample")
	}
	sp, err := s.sampleProgress(ctx, sample)
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func (s *Service) sampleProgress(ctx context.Context, sample *labmodels.Sample) (SampleProgress, error) {
	analyses, err := s.lab.ListAnalysesBySample(ctx, sample.ID)
	if err != nil {
		return SampleProgress{}, translate(err, "analyses")
	}
	sp := SampleProgress{
		SampleID:      sample.ID,
		Code:          sample.Code,
		Status:        sample.Status,
		TotalAnalyses: len(analyses),
	}
	for _, a := range analyses {
		if a.Status.HasResult() {
			sp.WithResult++
		}
		if a.Status.IsTerminal() {
			sp.Approved++
		}
	}
	sp.Complete = len(analyses) > 0 && sp.Approved == len(analyses)
	return sp, nil
}

// CloseReceipt marks a receipt done. Allowed only when every sample under it
// has reached a terminal status; closing is an explicit reviewer action,
// never automatic.
func (s *Service) CloseReceipt(ctx context.Context, actor domain.Actor, receiptID domain.ReceiptID, version int) (*labmodels.Receipt, error) {
	if !actor.Can(domain.RoleReviewer) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only reviewers may close receipts")
	}

	var out *labmodels.Receipt
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		receipt, err := s.lab.GetReceipt(ctx, receiptID)
		if err != nil {
			return translate(err, "receipt")
		}
		if err := checkVersion(receipt.Version, version, "receipt"); err != nil {
			return err
		}
		samples, err := s.lab.ListSamplesByReceipt(ctx, receiptID)
		if err != nil {
			return translate(err, "samples")
		}
		for _, sm := range samples {
			if !sm.Status.IsTerminal() {
				return dErrors.New(dErrors.CodeInvalidTransition,
					"sample "+sm.Code.String()+" is still "+string(sm.Status))
			}
		}

		from := receipt.Status
		if err := receipt.MarkDone(); err != nil {
			return err
		}
		receipt.UpdatedAt = s.now()
		if err := s.lab.UpdateReceipt(ctx, receipt); err != nil {
			return translate(err, "receipt")
		}
		if err := s.auditor.Emit(ctx, audit.Transition(actor, "receipt", receipt.ID.String(), "close", string(from), string(receipt.Status))); err != nil {
			return fmt.Errorf("emit audit: %w", err)
		}
		out = receipt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StoreSample retains a finished specimen.
func (s *Service) StoreSample(ctx context.Context, actor domain.Actor, sampleID domain.SampleID, location string, version int) (*labmodels.Sample, error) {
	return s.finishSample(ctx, actor, sampleID, location, version, "store", func(sm *labmodels.Sample) error {
		return sm.MarkStored()
	})
}

// DisposeSample discards a finished specimen.
func (s *Service) DisposeSample(ctx context.Context, actor domain.Actor, sampleID domain.SampleID, version int) (*labmodels.Sample, error) {
	return s.finishSample(ctx, actor, sampleID, "", version, "dispose", func(sm *labmodels.Sample) error {
		return sm.MarkDisposed()
	})
}

func (s *Service) finishSample(ctx context.Context, actor domain.Actor, sampleID domain.SampleID, location string, version int, action string, transition func(*labmodels.Sample) error) (*labmodels.Sample, error) {
	if !actor.Can(domain.RoleReviewer) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only reviewers may finish samples")
	}

	var out *labmodels.Sample
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		sample, err := s.lab.GetSample(ctx, sampleID)
		if err != nil {
			return translate(err, "sample")
		}
		if err := checkVersion(sample.Version, version, "sample"); err != nil {
			return err
		}
		analyses, err := s.lab.ListAnalysesBySample(ctx, sampleID)
		if err != nil {
			return translate(err, "analyses")
		}
		for _, a := range analyses {
			if !a.Status.IsTerminal() {
				return dErrors.New(dErrors.CodeInvalidTransition,
					"analysis "+a.Parameter+" is still "+string(a.Status))
			}
		}

		from := sample.Status
		if err := transition(sample); err != nil {
			return err
		}
		if location != "" {
			sample.StorageLocation = location
		}
		sample.UpdatedAt = s.now()
		if err := s.lab.UpdateSample(ctx, sample); err != nil {
			return translate(err, "sample")
		}
		if err := s.auditor.Emit(ctx, audit.Transition(actor, "sample", sample.ID.String(), action, string(from), string(sample.Status))); err != nil {
			return fmt.Errorf("emit audit: %w", err)
		}
		out = sample
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
	default:
		return err
	}
}
