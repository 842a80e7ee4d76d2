package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/chatmesh/internal/domain/model"
)

func TestCreateUserRejectsDuplicateHandle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateUser(ctx, &model.User{ID: uuid.New(), Handle: "ada"}, "h"))
	err := m.CreateUser(ctx, &model.User{ID: uuid.New(), Handle: "ada"}, "h")
	assert.Equal(t, model.CodeConflict, model.CodeOf(err))
}

func TestListMessagesPagination(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	convID, sender := uuid.New(), uuid.New()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := range 5 {
		msg := &model.Message{
			ID:             uuid.New(),
			ConversationID: convID,
			SenderID:       sender,
			Content:        "m",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, m.CreateMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}

	// Newest first, strictly before the cursor.
	page, err := m.ListMessages(ctx, convID, base.Add(4*time.Minute), 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)

	// Deleted messages disappear from history.
	require.NoError(t, m.MarkMessageDeleted(ctx, ids[3], time.Now()))
	page, err = m.ListMessages(ctx, convID, base.Add(4*time.Minute), 2)
	require.NoError(t, err)
	assert.Equal(t, ids[2], page[0].ID)

	_, err = m.GetMessage(ctx, ids[3])
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMarkConversationReadPromotions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	convID, alice, reader := uuid.New(), uuid.New(), uuid.New()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mk := func(sender uuid.UUID, receipts bool, at time.Time) *model.Message {
		msg := &model.Message{
			ID:                  uuid.New(),
			ConversationID:      convID,
			SenderID:            sender,
			Content:             "m",
			CreatedAt:           at,
			ReadReceiptsEnabled: receipts,
		}
		require.NoError(t, m.CreateMessage(ctx, msg))
		return msg
	}

	old := mk(alice, true, base)
	muted := mk(alice, false, base.Add(time.Minute))
	own := mk(reader, true, base.Add(2*time.Minute))
	late := mk(alice, true, base.Add(10*time.Minute))

	promos, err := m.MarkConversationRead(ctx, convID, reader, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, promos, 2, "own message and the one past the watermark stay out")

	// Oldest first, receipts flag carried through.
	assert.Equal(t, old.ID, promos[0].MessageID)
	assert.True(t, promos[0].ReceiptsEnabled)
	assert.Equal(t, muted.ID, promos[1].MessageID)
	assert.False(t, promos[1].ReceiptsEnabled)

	for _, p := range promos {
		assert.NotEqual(t, own.ID, p.MessageID)
		assert.NotEqual(t, late.ID, p.MessageID)
	}

	// Second sweep promotes only what is still unread.
	promos, err = m.MarkConversationRead(ctx, convID, reader, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, promos, 1)
	assert.Equal(t, late.ID, promos[0].MessageID)
}

func TestMarkMessageReadIsFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	msgID, reader := uuid.New(), uuid.New()

	first, err := m.MarkMessageRead(ctx, msgID, reader, time.Now())
	require.NoError(t, err)
	assert.True(t, first)

	again, err := m.MarkMessageRead(ctx, msgID, reader, time.Now())
	require.NoError(t, err)
	assert.False(t, again)
}

func TestReactionTripleUniqueness(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	msgID, userID := uuid.New(), uuid.New()

	added, err := m.AddReaction(ctx, &model.Reaction{MessageID: msgID, UserID: userID, Emoji: "👍"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.AddReaction(ctx, &model.Reaction{MessageID: msgID, UserID: userID, Emoji: "👍"})
	require.NoError(t, err)
	assert.False(t, added)

	// Same user, different emoji is a distinct reaction.
	added, err = m.AddReaction(ctx, &model.Reaction{MessageID: msgID, UserID: userID, Emoji: "🎉"})
	require.NoError(t, err)
	assert.True(t, added)

	removed, err := m.RemoveReaction(ctx, msgID, userID, "👍")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = m.RemoveReaction(ctx, msgID, userID, "👍")
	require.NoError(t, err)
	assert.False(t, removed)

	list, err := m.ListReactions(ctx, msgID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "🎉", list[0].Emoji)
}

func TestOfflineQueueBookkeeping(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()

	enq := func(kind string) *OfflineItem {
		it := &OfflineItem{UserID: userID, Kind: kind, Payload: []byte("{}")}
		require.NoError(t, m.EnqueueOffline(ctx, it))
		return it
	}

	msg := enq("message")
	typing := enq("typing")
	reaction := enq("reaction:add")

	messages, others, err := m.OfflineCounts(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, messages)
	assert.Equal(t, 2, others)

	// Eviction never touches queued messages.
	dropped, err := m.DropOldestEphemeral(ctx, userID, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	list, err := m.ListOffline(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, msg.ID, list[0].ID)
	assert.NotEqual(t, typing.ID, list[0].ID)
	assert.NotEqual(t, reaction.ID, list[0].ID)

	require.NoError(t, m.DeleteOffline(ctx, []int64{msg.ID}))
	list, err = m.ListOffline(ctx, userID, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSavePushSubscriptionUpsertsByEndpoint(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()

	sub := &model.PushSubscription{
		ID:       uuid.New(),
		UserID:   userID,
		Endpoint: "https://push.example/abc",
		Keys:     map[string]string{"p256dh": "k1"},
	}
	require.NoError(t, m.SavePushSubscription(ctx, sub))

	// Re-subscribing the same endpoint refreshes keys instead of duplicating.
	require.NoError(t, m.SavePushSubscription(ctx, &model.PushSubscription{
		ID:       uuid.New(),
		UserID:   userID,
		Endpoint: "https://push.example/abc",
		Keys:     map[string]string{"p256dh": "k2"},
	}))

	subs, err := m.ListPushSubscriptions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "k2", subs[0].Keys["p256dh"])

	require.NoError(t, m.DeletePushSubscriptionByEndpoint(ctx, userID, "https://push.example/abc"))
	err = m.DeletePushSubscriptionByEndpoint(ctx, userID, "https://push.example/abc")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestParticipantManagement(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	conv := &model.Conversation{
		ID:   uuid.New(),
		Kind: model.ConversationGroup,
		Participants: []model.Participant{
			{UserID: a, IsAdmin: true}, {UserID: b},
		},
	}
	require.NoError(t, m.CreateConversation(ctx, conv))

	require.NoError(t, m.AddParticipant(ctx, conv.ID, c, false))
	// Re-adding is idempotent.
	require.NoError(t, m.AddParticipant(ctx, conv.ID, c, false))

	got, err := m.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, got.Participants, 3)

	require.NoError(t, m.RemoveParticipant(ctx, conv.ID, b))
	err = m.RemoveParticipant(ctx, conv.ID, b)
	assert.ErrorIs(t, err, model.ErrNotFound)

	peers, err := m.PeersOf(ctx, a)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{c}, peers)
}
