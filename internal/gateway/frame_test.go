package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/chatmesh/chatmesh/internal/domain/model"
)

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"typing","conversationId":"0b36e557-9cd1-4c1c-8dcf-ede34e0f388a"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameTyping, f.Type)

	_, err = DecodeFrame([]byte(`{"conversationId":"0b36e557-9cd1-4c1c-8dcf-ede34e0f388a"}`))
	assert.Error(t, err)

	_, err = DecodeFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeMessageFrameWireShape(t *testing.T) {
	convID, clientID := uuid.New(), uuid.New()
	data := []byte(`{"type":"message","conversationId":"` + convID.String() +
		`","clientMessageId":"` + clientID.String() + `","payload":"hi"}`)

	f, err := DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, FrameMessage, f.Type)

	p, err := decodeInto[MessageFrame](f)
	require.NoError(t, err)
	assert.Equal(t, convID, p.ConversationID)
	assert.Equal(t, clientID, p.ClientID)
	assert.Equal(t, "hi", p.Content)
}

func TestDecodeIntoReportsFrameType(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"message","conversationId":42}`))
	require.NoError(t, err)
	_, err = decodeInto[MessageFrame](f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), FrameMessage)

	f, err = DecodeFrame([]byte(`{"type":"read-receipt","messageId":"` + uuid.NewString() + `"}`))
	require.NoError(t, err)
	receipt, err := decodeInto[ReceiptFrame](f)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, receipt.MessageID)
}

func TestMessageFrameToModel(t *testing.T) {
	convID := uuid.New()
	parent := uuid.New()

	f := &MessageFrame{ConversationID: convID, Content: "hi", ParentID: &parent}
	m := f.ToModel()
	assert.NotEqual(t, uuid.Nil, m.ID, "server assigns an id when the client proposes none")
	assert.Equal(t, convID, m.ConversationID)
	assert.Equal(t, "hi", m.Content)
	assert.Equal(t, &parent, m.ParentID)
	assert.True(t, m.ReadReceiptsEnabled)

	// A client-proposed id survives so retries dedup.
	proposed := uuid.New()
	f = &MessageFrame{ClientID: proposed, ConversationID: convID, Content: "hi"}
	assert.Equal(t, proposed, f.ToModel().ID)
}

func TestMarkConvReadWatermark(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := &MarkConvReadFrame{UpTo: at.UnixMilli()}
	assert.Equal(t, at, f.Watermark().UTC())

	f = &MarkConvReadFrame{}
	assert.WithinDuration(t, time.Now().UTC(), f.Watermark(), time.Second)
}

func TestMarshalEventWireShape(t *testing.T) {
	convID := uuid.New()
	ev := event.New(uuid.New(), event.KindMessage, &event.MessagePayload{
		MessageID: uuid.New(),
		Content:   "hello",
	}).WithConversation(convID)

	data, err := marshalEvent(ev)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, string(event.KindMessage), wire["event"])
	assert.Equal(t, ev.GetID(), wire["id"])
	assert.Equal(t, convID.String(), wire["conversationId"])
	assert.NotNil(t, wire["payload"])
}

func TestMarshalEventCachesEncoding(t *testing.T) {
	ev := event.New(uuid.New(), event.KindUserStatus, model.Presence{Status: model.StatusOnline})

	first, err := marshalEvent(ev)
	require.NoError(t, err)
	second, err := marshalEvent(ev)
	require.NoError(t, err)

	// Same backing slice: the second fan-out reuses the cached bytes.
	assert.Equal(t, &first[0], &second[0])
}
