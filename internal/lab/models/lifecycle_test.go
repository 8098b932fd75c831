package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
)

func newTechnician() domain.Actor {
	return domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Lan Pham", Role: domain.RoleTechnician}
}

func newTestingAnalysis(t *testing.T, technician domain.Actor) *Analysis {
	t.Helper()
	a := &Analysis{
		ID:           domain.AnalysisID(uuid.New()),
		SampleID:     domain.SampleID(uuid.New()),
		Parameter:    "pH",
		Unit:         "pH",
		ThresholdMin: decPtr("6.5"),
		ThresholdMax: decPtr("8.5"),
		Status:       AnalysisStatusPending,
	}
	require.NoError(t, a.Assign(technician, "Lab 2"))
	return a
}

func TestAnalysisHappyPath(t *testing.T) {
	technician := newTechnician()
	a := newTestingAnalysis(t, technician)
	assert.Equal(t, AnalysisStatusTesting, a.Status)
	assert.Equal(t, technician.Name, a.TechnicianName)

	require.NoError(t, a.SubmitResult(technician, dec("7.2"), "stable reading", dec("0.10")))
	assert.Equal(t, AnalysisStatusReview, a.Status)
	assert.Equal(t, AssessmentPass, a.Assessment)
	require.NotNil(t, a.ResultValue)

	require.NoError(t, a.Approve())
	assert.Equal(t, AnalysisStatusApproved, a.Status)
	assert.True(t, a.Status.IsTerminal())
}

func TestAnalysisIllegalJumps(t *testing.T) {
	technician := newTechnician()

	pending := &Analysis{Status: AnalysisStatusPending}
	err := pending.SubmitResult(technician, dec("1"), "", dec("0.10"))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidTransition, dErrors.Code(err))

	err = pending.Approve()
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidTransition, dErrors.Code(err))

	assigned := newTestingAnalysis(t, technician)
	err = assigned.Approve()
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidTransition, dErrors.Code(err))
}

func TestSubmitRequiresAssignedTechnician(t *testing.T) {
	technician := newTechnician()
	a := newTestingAnalysis(t, technician)

	other := newTechnician()
	err := a.SubmitResult(other, dec("7.0"), "", dec("0.10"))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.Code(err))
	assert.Equal(t, AnalysisStatusTesting, a.Status)
}

func TestRejectPreservesAssignmentAndClearsResult(t *testing.T) {
	technician := newTechnician()
	a := newTestingAnalysis(t, technician)
	require.NoError(t, a.SubmitResult(technician, dec("9.9"), "looks off", dec("0.10")))
	assert.Equal(t, AssessmentFail, a.Assessment)

	require.NoError(t, a.Reject())
	assert.Equal(t, AnalysisStatusTesting, a.Status)
	assert.Nil(t, a.ResultValue)
	assert.Empty(t, a.Assessment)
	assert.Empty(t, a.ResultNotes)
	require.NotNil(t, a.TechnicianID)
	assert.Equal(t, technician.ID, *a.TechnicianID)

	// The same technician can resubmit without a new assignment.
	require.NoError(t, a.SubmitResult(technician, dec("7.8"), "retested", dec("0.10")))
	assert.Equal(t, AnalysisStatusReview, a.Status)
}

func TestSampleLifecycle(t *testing.T) {
	sm := &Sample{Status: SampleStatusReceived}
	require.NoError(t, sm.StartAnalyzing())
	require.NoError(t, sm.MarkStored())
	assert.True(t, sm.Status.IsTerminal())

	err := sm.MarkDisposed()
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidTransition, dErrors.Code(err))
	assert.False(t, sm.CanHandover())
}

func TestSampleDisposedWithoutAnalyzing(t *testing.T) {
	sm := &Sample{Status: SampleStatusReceived}
	require.NoError(t, sm.MarkDisposed())
	assert.Equal(t, SampleStatusDisposed, sm.Status)
}

func TestReceiptLifecycle(t *testing.T) {
	r := &Receipt{Status: ReceiptStatusPending}

	err := r.MarkDone()
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidTransition, dErrors.Code(err))

	require.NoError(t, r.StartProcessing())
	require.NoError(t, r.MarkDone())

	err = r.Cancel()
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidTransition, dErrors.Code(err))
}

func TestReceiptCancelFromProcessing(t *testing.T) {
	r := &Receipt{Status: ReceiptStatusProcessing}
	require.NoError(t, r.Cancel())
	assert.Equal(t, ReceiptStatusCancelled, r.Status)
}
