package models

import (
	"time"

	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
)

// SampleStatus is the physical specimen lifecycle.
type SampleStatus string

const (
	SampleStatusReceived  SampleStatus = "received"
	SampleStatusAnalyzing SampleStatus = "analyzing"
	SampleStatusStored    SampleStatus = "stored"
	SampleStatusDisposed  SampleStatus = "disposed"
)

// IsTerminal reports whether the sample has left the lab floor.
func (s SampleStatus) IsTerminal() bool {
	return s == SampleStatusStored || s == SampleStatusDisposed
}

// LabelValue is one free-form metadata pair supplied by the client or
// reception, e.g. "Nguồn nước" / "Giếng khoan".
type LabelValue struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Sample is one physical specimen belonging to exactly one receipt.
type Sample struct {
	ID        domain.SampleID
	ReceiptID domain.ReceiptID
	Code      domain.SampleCode

	SampleType      string
	Description     string
	Volume          string
	Weight          string
	PhysicalState   string
	Preservation    string
	StorageLocation string
	KeptAsReference bool
	Metadata        []LabelValue

	Status SampleStatus

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StartAnalyzing marks the sample as being worked on; called when its first
// analysis leaves pending.
func (s *Sample) StartAnalyzing() error {
	if s.Status != SampleStatusReceived {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"sample can only start analyzing from received, current status: "+string(s.Status))
	}
	s.Status = SampleStatusAnalyzing
	return nil
}

// MarkStored retains the specimen after analysis. The caller must have
// verified that every analysis under it is terminal.
func (s *Sample) MarkStored() error {
	return s.finish(SampleStatusStored)
}

// MarkDisposed discards the specimen after analysis. Same caller obligation
// as MarkStored.
func (s *Sample) MarkDisposed() error {
	return s.finish(SampleStatusDisposed)
}

func (s *Sample) finish(to SampleStatus) error {
	if s.Status != SampleStatusReceived && s.Status != SampleStatusAnalyzing {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"sample can only be "+string(to)+" from received or analyzing, current status: "+string(s.Status))
	}
	s.Status = to
	return nil
}

// CanHandover reports whether the specimen is still physically in play: only
// received or analyzing samples change hands.
func (s *Sample) CanHandover() bool {
	return s.Status == SampleStatusReceived || s.Status == SampleStatusAnalyzing
}
