package models

import (
	"time"

	"github.com/google/uuid"

	"limscore/pkg/domain"
)

// Handover records a custody transfer of a physical specimen: who handed it
// over, who now holds it, and which analyses the recipient is responsible
// for. It feeds the signed handover document; rendering is out of scope.
type Handover struct {
	ID          uuid.UUID
	SampleID    domain.SampleID
	FromActor   string
	ToActorID   domain.ActorID
	ToActor     string
	AnalysisIDs []domain.AnalysisID
	Notes       string
	CreatedAt   time.Time
}
