// Package service implements the result lifecycle: submission by the
// assigned technician, then approval or rejection by a reviewer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"limscore/internal/audit"
	labmodels "limscore/internal/lab/models"
	"limscore/internal/platform/metrics"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/sentinel"
	"limscore/pkg/platform/tx"
)

// LabStore is the persistence slice review needs.
type LabStore interface {
	GetAnalysis(ctx context.Context, id domain.AnalysisID) (*labmodels.Analysis, error)
	UpdateAnalysis(ctx context.Context, a *labmodels.Analysis) error
}

// SubmitInput carries a measured value. Version is the analysis version the
// caller read.
type SubmitInput struct {
	Value   decimal.Decimal
	Notes   string
	Version int
}

type Service struct {
	lab       LabStore
	auditor   *audit.Publisher
	runner    tx.Runner
	metrics   *metrics.Metrics
	tolerance decimal.Decimal
	now       func() time.Time
}

// NewService builds the review service. tolerance is the warning band width
// as a fraction of the threshold, e.g. 0.10 flags results within 10% inside
// either bound.
func NewService(lab LabStore, auditor *audit.Publisher, runner tx.Runner, m *metrics.Metrics, tolerance decimal.Decimal) *Service {
	return &Service{lab: lab, auditor: auditor, runner: runner, metrics: m, tolerance: tolerance, now: time.Now}
}

// SubmitResult records a measurement and moves the analysis to review. The
// assessment against the thresholds is advisory; reviewers decide.
func (s *Service) SubmitResult(ctx context.Context, actor domain.Actor, analysisID domain.AnalysisID, input SubmitInput) (*labmodels.Analysis, error) {
	if !actor.Can(domain.RoleTechnician) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only technicians may submit results")
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
		if err := analysis.SubmitResult(actor, input.Value, input.Notes, s.tolerance); err != nil {
			return err
		}
		analysis.UpdatedAt = s.now()
		if err := s.lab.UpdateAnalysis(ctx, analysis); err != nil {
			return translate(err, "analysis")
		}

		event := audit.Transition(actor, "analysis", analysis.ID.String(), "submit_result", string(from), string(analysis.Status))
		event.Reason = "assessment: " + string(analysis.Assessment)
		if err := s.auditor.Emit(ctx, event); err != nil {
			return fmt.Errorf("emit audit: %w", err)
		}
		out = analysis
		return nil
	})
	if err != nil {
		if dErrors.Is(err, dErrors.CodeStaleState) {
			s.metrics.IncStaleStateConflicts()
		}
		return nil, err
	}
	s.metrics.IncResultsSubmitted()
	return out, nil
}

// ApproveResult accepts a reviewed result. Terminal for the analysis.
func (s *Service) ApproveResult(ctx context.Context, actor domain.Actor, analysisID domain.AnalysisID, version int) (*labmodels.Analysis, error) {
	if !actor.Can(domain.RoleReviewer) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only reviewers may approve results")
	}

	var out *labmodels.Analysis
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		analysis, err := s.lab.GetAnalysis(ctx, analysisID)
		if err != nil {
			return translate(err, "analysis")
		}
		if err := checkVersion(analysis.Version, version, "analysis"); err != nil {
			return err
		}

		from := analysis.Status
		if err := analysis.Approve(); err != nil {
			return err
		}
		analysis.UpdatedAt = s.now()
		if err := s.lab.UpdateAnalysis(ctx, analysis); err != nil {
			return translate(err, "analysis")
		}
		if err := s.auditor.Emit(ctx, audit.Transition(actor, "analysis", analysis.ID.String(), "approve", string(from), string(analysis.Status))); err != nil {
			return fmt.Errorf("emit audit: %w", err)
		}
		out = analysis
		return nil
	})
	if err != nil {
		if dErrors.Is(err, dErrors.CodeStaleState) {
			s.metrics.IncStaleStateConflicts()
		}
		return nil, err
	}
	s.metrics.IncResultsApproved()
	return out, nil
}

// RejectResult sends the analysis back to testing. The reason is mandatory
// and lands in the audit trail; the trail records the review→rejected→testing
// path even though the analysis rests in testing.
func (s *Service) RejectResult(ctx context.Context, actor domain.Actor, analysisID domain.AnalysisID, reason string, version int) (*labmodels.Analysis, error) {
	if !actor.Can(domain.RoleReviewer) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only reviewers may reject results")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "rejection requires a reason")
	}

	var out *labmodels.Analysis
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		analysis, err := s.lab.GetAnalysis(ctx, analysisID)
		if err != nil {
			return translate(err, "analysis")
		}
		if err := checkVersion(analysis.Version, version, "analysis"); err != nil {
			return err
		}

		from := analysis.Status
		if err := analysis.Reject(); err != nil {
			return err
		}
		analysis.UpdatedAt = s.now()
		if err := s.lab.UpdateAnalysis(ctx, analysis); err != nil {
			return translate(err, "analysis")
		}

		rejected := audit.Transition(actor, "analysis", analysis.ID.String(), "reject", string(from), string(labmodels.AnalysisStatusRejected))
		rejected.Reason = reason
		if err := s.auditor.Emit(ctx, rejected); err != nil {
			return fmt.Errorf("emit audit: %w", err)
		}
		retest := audit.Transition(actor, "analysis", analysis.ID.String(), "retest", string(labmodels.AnalysisStatusRejected), string(analysis.Status))
		if err := s.auditor.Emit(ctx, retest); err != nil {
			return fmt.Errorf("emit audit: %w", err)
		}
		out = analysis
		return nil
	})
	if err != nil {
		if dErrors.Is(err, dErrors.CodeStaleState) {
			s.metrics.IncStaleStateConflicts()
		}
		return nil, err
	}
	s.metrics.IncResultsRejected()
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
	case errors.Is(err, sentinel.ErrImmutable):
		return dErrors.Wrap(err, dErrors.CodeValidation, kind+" snapshot is immutable")
	default:
		return err
	}
}
