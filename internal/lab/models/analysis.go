package models

import (
	"time"

	"github.com/shopspring/decimal"

	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
)

// AnalysisStatus is the per-test lifecycle. Rejection is an edge, not a
// resting state: rejectResult records the review→rejected→testing path in
// the audit trail and leaves the analysis in testing with its assignment
// preserved.
type AnalysisStatus string

const (
	AnalysisStatusPending  AnalysisStatus = "pending"
	AnalysisStatusTesting  AnalysisStatus = "testing"
	AnalysisStatusReview   AnalysisStatus = "review"
	AnalysisStatusApproved AnalysisStatus = "approved"
	// AnalysisStatusRejected appears in audit from/to states only.
	AnalysisStatusRejected AnalysisStatus = "rejected"
)

// IsTerminal reports whether no further work happens on this analysis.
func (s AnalysisStatus) IsTerminal() bool {
	return s == AnalysisStatusApproved
}

// HasResult reports whether a result value has been submitted and not
// cleared, i.e. the analysis is in review or beyond.
func (s AnalysisStatus) HasResult() bool {
	return s == AnalysisStatusReview || s == AnalysisStatusApproved
}

// Analysis is one parameter measurement on one sample. Parameter, protocol,
// unit, thresholds, and fees are copied from the order/catalog at expansion
// time and frozen once testing starts, so later catalog edits never touch an
// in-flight test.
type Analysis struct {
	ID       domain.AnalysisID
	SampleID domain.SampleID

	Parameter    string
	ProtocolCode string
	MatrixCode   string
	Unit         string
	ThresholdMin *decimal.Decimal
	ThresholdMax *decimal.Decimal
	Fee          decimal.Decimal
	FeeAfterTax  decimal.Decimal

	TechnicianID   *domain.ActorID
	TechnicianName string
	Equipment      string
	Location       string

	ResultValue *decimal.Decimal
	Assessment  Assessment
	ResultNotes string

	Status AnalysisStatus

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assign binds the analysis to a technician and location and starts testing.
func (a *Analysis) Assign(technician domain.Actor, location string) error {
	if a.Status != AnalysisStatusPending {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"analysis can only be assigned from pending, current status: "+string(a.Status))
	}
	techID := technician.ID
	a.TechnicianID = &techID
	a.TechnicianName = technician.Name
	a.Location = location
	a.Status = AnalysisStatusTesting
	return nil
}

// SubmitResult records a measured value and moves the analysis to review.
// Only the assigned technician may submit.
func (a *Analysis) SubmitResult(technician domain.Actor, value decimal.Decimal, notes string, tolerance decimal.Decimal) error {
	if a.Status != AnalysisStatusTesting {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"result can only be submitted from testing, current status: "+string(a.Status))
	}
	if a.TechnicianID == nil || *a.TechnicianID != technician.ID {
		return dErrors.New(dErrors.CodeUnauthorized,
			"result must be submitted by the assigned technician")
	}
	v := value
	a.ResultValue = &v
	a.ResultNotes = notes
	a.Assessment = Assess(value, a.ThresholdMin, a.ThresholdMax, tolerance)
	a.Status = AnalysisStatusReview
	return nil
}

// Approve accepts the submitted result. Terminal.
func (a *Analysis) Approve() error {
	if a.Status != AnalysisStatusReview {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"result can only be approved from review, current status: "+string(a.Status))
	}
	a.Status = AnalysisStatusApproved
	return nil
}

// Reject returns the analysis to the technician. The assignment is
// preserved; the result value and assessment are cleared so the retest
// starts clean.
func (a *Analysis) Reject() error {
	if a.Status != AnalysisStatusReview {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"result can only be rejected from review, current status: "+string(a.Status))
	}
	a.ResultValue = nil
	a.Assessment = ""
	a.ResultNotes = ""
	a.Status = AnalysisStatusTesting
	return nil
}

// SnapshotLocked reports whether the protocol/method snapshot may no longer
// be edited: true once testing has started.
func (a *Analysis) SnapshotLocked() bool {
	return a.Status != AnalysisStatusPending
}
