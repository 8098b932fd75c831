package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limscore/internal/platform/middleware"
	"limscore/pkg/domain"
)

func testActor() domain.Actor {
	return domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Thu Ha", Role: domain.RoleReception}
}

func TestEmitFillsDefaults(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store)
	ctx := context.WithValue(context.Background(), middleware.ContextKeyRequestID, "req-42")

	err := publisher.Emit(ctx, Transition(testActor(), "order", "ord-1", "confirm", "pending", "confirmed"))
	require.NoError(t, err)

	events, err := store.ListByEntity(ctx, "order", "ord-1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, TopicAudit, e.Topic)
	assert.Equal(t, "req-42", e.RequestID)
	assert.Equal(t, "pending", e.FromState)
	assert.Equal(t, "confirmed", e.ToState)
	assert.Equal(t, "Thu Ha", e.ActorName)
}

func TestEmitKeepsExplicitTopic(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store)

	event := Transition(testActor(), "receipt", "rec-1", "receipt_created", "", "pending")
	event.Topic = TopicNotifications
	require.NoError(t, publisher.Emit(context.Background(), event))

	events, err := store.ListByEntity(context.Background(), "receipt", "rec-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, TopicNotifications, events[0].Topic)
}

func TestOutboxPendingAndDispatch(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, publisher.Emit(ctx, Transition(testActor(), "sample", id, "store", "analyzing", "stored")))
	}

	pending, err := store.ListPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, store.MarkDispatched(ctx, pending))

	rest, err := store.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].EntityID)
}
