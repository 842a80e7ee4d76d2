package event

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingKeyShape(t *testing.T) {
	userID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	ev := New(userID, KindMessage, nil)
	assert.Equal(t, "chat.v1.6ba7b810-9dad-11d1-80b4-00c04fd430c8.message", ev.GetRoutingKey())

	// AMQP topic segments cannot carry colons.
	ev = New(userID, KindReactionAdd, nil)
	assert.Equal(t, "chat.v1.6ba7b810-9dad-11d1-80b4-00c04fd430c8.reaction_add", ev.GetRoutingKey())
}

func TestDecodeRoundTrip(t *testing.T) {
	userID := uuid.New()
	msgID := uuid.New()
	convID := uuid.New()

	ev := New(userID, KindMessage, &MessagePayload{MessageID: msgID}).
		WithID(msgID).
		WithConversation(convID)

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msgID.String(), got.GetID())
	assert.Equal(t, KindMessage, got.GetKind())
	assert.Equal(t, userID, got.GetUserID())
	assert.Equal(t, convID, got.ConversationID)
	assert.Equal(t, ev.GetPriority(), got.GetPriority())

	var payload MessagePayload
	require.True(t, DecodePayload(got, &payload))
	assert.Equal(t, msgID, payload.MessageID)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	require.Error(t, err)
}

func TestDecodePayloadTypedAndRaw(t *testing.T) {
	userID := uuid.New()
	want := &TypingPayload{ConversationID: uuid.New(), UserID: userID, On: true}

	// In-process events carry the typed pointer.
	var typed TypingPayload
	require.True(t, DecodePayload(New(userID, KindTyping, want), &typed))
	assert.Equal(t, *want, typed)

	// Bus events carry raw JSON.
	raw, err := json.Marshal(want)
	require.NoError(t, err)
	var decoded TypingPayload
	require.True(t, DecodePayload(New(userID, KindTyping, json.RawMessage(raw)), &decoded))
	assert.Equal(t, *want, decoded)

	var wrong MessagePayload
	assert.False(t, DecodePayload(New(userID, KindTyping, 42), &wrong))
}

func TestDefaultPriorities(t *testing.T) {
	userID := uuid.New()
	assert.Equal(t, PriorityHigh, New(userID, KindMessage, nil).GetPriority())
	assert.Equal(t, PriorityHigh, New(userID, KindMessageDeleted, nil).GetPriority())
	assert.Equal(t, PriorityNormal, New(userID, KindMessageRead, nil).GetPriority())
	assert.Equal(t, PriorityNormal, New(userID, KindReactionAdd, nil).GetPriority())
	assert.Equal(t, PriorityLow, New(userID, KindTyping, nil).GetPriority())
	assert.Equal(t, PriorityLow, New(userID, KindUserStatus, nil).GetPriority())
}

func TestPersistentAndPushableClassification(t *testing.T) {
	assert.True(t, Persistent(KindMessage))
	assert.True(t, Persistent(KindMessageDeleted))
	assert.True(t, Persistent(KindReactionAdd))
	assert.False(t, Persistent(KindTyping))
	assert.False(t, Persistent(KindUserStatus))
	assert.False(t, Persistent(KindMessageRead))

	assert.True(t, Pushable(KindMessage))
	assert.True(t, Pushable(KindReactionAdd))
	assert.False(t, Pushable(KindMessageDeleted))
	assert.False(t, Pushable(KindTyping))
}
