package offline

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/chatmesh/chatmesh/internal/store"
)

func newTestQueue(t *testing.T, maxPerUser int) (*Queue, *store.Memory) {
	t.Helper()
	repo := store.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewQueue(config.OfflineConfig{MaxPerUser: maxPerUser}, repo, log), repo
}

func messageEvent(userID uuid.UUID) *event.Event {
	msgID := uuid.New()
	return event.New(userID, event.KindMessage, &event.MessagePayload{MessageID: msgID}).
		WithID(msgID).
		WithConversation(uuid.New())
}

func reactionEvent(userID uuid.UUID) *event.Event {
	return event.New(userID, event.KindReactionAdd, nil).WithConversation(uuid.New())
}

func TestEnqueueAndDrainInOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 10)
	userID := uuid.New()

	first := messageEvent(userID)
	second := messageEvent(userID)
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	var got []string
	require.NoError(t, q.Drain(ctx, userID, func(ev *event.Event) bool {
		got = append(got, ev.GetID())
		return true
	}))
	assert.Equal(t, []string{first.GetID(), second.GetID()}, got)

	// Accepted items are gone.
	got = nil
	require.NoError(t, q.Drain(ctx, userID, func(*event.Event) bool {
		got = append(got, "x")
		return true
	}))
	assert.Empty(t, got)
}

func TestEnqueueShedsEphemeralAtCapacity(t *testing.T) {
	ctx := context.Background()
	q, repo := newTestQueue(t, 2)
	userID := uuid.New()

	require.NoError(t, q.Enqueue(ctx, messageEvent(userID)))
	require.NoError(t, q.Enqueue(ctx, messageEvent(userID)))

	// At capacity, an incoming reaction is shed without error.
	require.NoError(t, q.Enqueue(ctx, reactionEvent(userID)))

	messages, others, err := repo.OfflineCounts(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, messages)
	assert.Equal(t, 0, others)
}

func TestEnqueueEvictsEphemeralToAdmitMessage(t *testing.T) {
	ctx := context.Background()
	q, repo := newTestQueue(t, 2)
	userID := uuid.New()

	require.NoError(t, q.Enqueue(ctx, reactionEvent(userID)))
	require.NoError(t, q.Enqueue(ctx, reactionEvent(userID)))

	require.NoError(t, q.Enqueue(ctx, messageEvent(userID)))

	messages, others, err := repo.OfflineCounts(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, messages)
	assert.Equal(t, 1, others)
}

func TestQueueFullOfMessagesGivesBackpressure(t *testing.T) {
	ctx := context.Background()
	q, repo := newTestQueue(t, 2)
	userID := uuid.New()

	require.NoError(t, q.Enqueue(ctx, messageEvent(userID)))
	require.NoError(t, q.Enqueue(ctx, messageEvent(userID)))

	// No ephemeral items to evict: the producer is told to back off.
	err := q.Enqueue(ctx, messageEvent(userID))
	require.ErrorIs(t, err, model.ErrUnavailable)

	messages, _, err := repo.OfflineCounts(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, messages)
}

func TestDrainStopsWhenDeliveryStalls(t *testing.T) {
	ctx := context.Background()
	q, repo := newTestQueue(t, 10)
	userID := uuid.New()

	first := messageEvent(userID)
	second := messageEvent(userID)
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	accepted := 0
	require.NoError(t, q.Drain(ctx, userID, func(ev *event.Event) bool {
		if accepted == 0 {
			accepted++
			return true
		}
		return false
	}))

	// Only the accepted item was deleted; the rejected one stays queued.
	messages, _, err := repo.OfflineCounts(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, messages)

	var got []string
	require.NoError(t, q.Drain(ctx, userID, func(ev *event.Event) bool {
		got = append(got, ev.GetID())
		return true
	}))
	assert.Equal(t, []string{second.GetID()}, got)
}

func TestDrainDiscardsCorruptItems(t *testing.T) {
	ctx := context.Background()
	q, repo := newTestQueue(t, 10)
	userID := uuid.New()

	require.NoError(t, repo.EnqueueOffline(ctx, &store.OfflineItem{
		UserID:  userID,
		Kind:    "message",
		Payload: []byte("not json"),
	}))
	good := messageEvent(userID)
	require.NoError(t, q.Enqueue(ctx, good))

	var got []string
	require.NoError(t, q.Drain(ctx, userID, func(ev *event.Event) bool {
		got = append(got, ev.GetID())
		return true
	}))
	assert.Equal(t, []string{good.GetID()}, got)

	messages, others, err := repo.OfflineCounts(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, messages+others)
}
