// Package domain holds the typed identifiers and small value types shared by
// every workflow component. IDs are distinct types over uuid.UUID so a
// SampleID can never be passed where an AnalysisID is expected.
//
// Usage: construct via the Parse* functions at trust boundaries to enforce
// validity; direct casting bypasses validation.
package domain

import (
	"fmt"

	"github.com/google/uuid"

	dErrors "limscore/pkg/domain-errors"
)

type (
	// ClientID identifies a billable customer.
	ClientID uuid.UUID
	// OrderID identifies a commercial order.
	OrderID uuid.UUID
	// ReceiptID identifies a physical intake event.
	ReceiptID uuid.UUID
	// SampleID identifies one physical specimen under a receipt.
	SampleID uuid.UUID
	// AnalysisID identifies one parameter test on a sample.
	AnalysisID uuid.UUID
	// ActorID identifies the authenticated caller of an operation.
	ActorID uuid.UUID
)

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, kind+" id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "invalid "+kind+" id")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, kind+" id cannot be nil")
	}
	return u, nil
}

// ParseClientID constructs a ClientID from external input.
func ParseClientID(s string) (ClientID, error) {
	u, err := parseUUID(s, "client")
	return ClientID(u), err
}

// ParseOrderID constructs an OrderID from external input.
func ParseOrderID(s string) (OrderID, error) {
	u, err := parseUUID(s, "order")
	return OrderID(u), err
}

// ParseReceiptID constructs a ReceiptID from external input.
func ParseReceiptID(s string) (ReceiptID, error) {
	u, err := parseUUID(s, "receipt")
	return ReceiptID(u), err
}

// ParseSampleID constructs a SampleID from external input.
func ParseSampleID(s string) (SampleID, error) {
	u, err := parseUUID(s, "sample")
	return SampleID(u), err
}

// ParseAnalysisID constructs an AnalysisID from external input.
func ParseAnalysisID(s string) (AnalysisID, error) {
	u, err := parseUUID(s, "analysis")
	return AnalysisID(u), err
}

// ParseActorID constructs an ActorID from external input.
func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID(s, "actor")
	return ActorID(u), err
}

func (id ClientID) String() string   { return uuid.UUID(id).String() }
func (id OrderID) String() string    { return uuid.UUID(id).String() }
func (id ReceiptID) String() string  { return uuid.UUID(id).String() }
func (id SampleID) String() string   { return uuid.UUID(id).String() }
func (id AnalysisID) String() string { return uuid.UUID(id).String() }
func (id ActorID) String() string    { return uuid.UUID(id).String() }

func (id ClientID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id OrderID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ReceiptID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id SampleID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id AnalysisID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// ReceiptCode is the business-unique, human-assigned intake code, e.g.
// "REC-001". It is distinct from the ReceiptID surrogate key.
type ReceiptCode string

// ParseReceiptCode validates a receipt code at a trust boundary.
func ParseReceiptCode(s string) (ReceiptCode, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "receipt code cannot be empty")
	}
	if len(s) > 32 {
		return "", dErrors.New(dErrors.CodeValidation, "receipt code must be 32 characters or less")
	}
	return ReceiptCode(s), nil
}

func (c ReceiptCode) String() string { return string(c) }

// SampleCode is derived from the owning receipt's code and the sample's
// sequence within it: <ReceiptCode>-S<seq>.
type SampleCode string

// NewSampleCode derives the code for the seq-th sample under a receipt.
// Sequences start at 1.
func NewSampleCode(receipt ReceiptCode, seq int) SampleCode {
	return SampleCode(fmt.Sprintf("%s-S%d", receipt, seq))
}

func (c SampleCode) String() string { return string(c) }
