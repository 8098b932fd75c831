// Package audit records every workflow transition as an append-only trail
// and feeds an outbox so external consumers (notification fan-out, reporting)
// see the same events the trail does.
package audit

import (
	"time"

	"github.com/google/uuid"

	"limscore/pkg/domain"
)

// Topics the dispatcher publishes to.
const (
	TopicAudit         = "lims.audit"
	TopicNotifications = "lims.notifications"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ActorID    string    `json:"actor_id"`
	ActorName  string    `json:"actor_name,omitempty"`
	ActorRole  string    `json:"actor_role,omitempty"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	FromState  string    `json:"from_state,omitempty"`
	ToState    string    `json:"to_state,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Topic      string    `json:"topic"`
}

// Transition builds the common case: actor moved an entity between states.
func Transition(actor domain.Actor, entityType, entityID, action, from, to string) Event {
	return Event{
		ActorID:    actor.ID.String(),
		ActorName:  actor.Name,
		ActorRole:  string(actor.Role),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		FromState:  from,
		ToState:    to,
		Topic:      TopicAudit,
	}
}
