package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/chatmesh/internal/domain/model"
)

// Frame type names as clients send them.
const (
	FrameMessage       = "message"
	FrameMessageDelete = "message:delete"
	FrameTyping        = "typing"
	FrameTypingStopped = "typing-stopped"
	FrameReadReceipt   = "read-receipt"
	FrameDelivered     = "delivered-receipt"
	FrameMarkConvRead  = "mark-conversation-read"
	FrameJoinConv      = "join-conversation"
	FrameLeaveConv     = "leave-conversation"
	FrameStatus        = "status"
	FrameActivity      = "user-activity"
	FrameReactionAdd   = "reaction:add"
	FrameReactionDel   = "reaction:remove"
	FramePing          = "ping"
)

// Frame is the inbound envelope. Fields live flat beside "type"; typed
// decoding is deferred so a malformed frame fails per type, not per
// connection.
type Frame struct {
	Type string `json:"type"`

	raw json.RawMessage
}

func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	f.raw = data
	return &f, nil
}

func decodeInto[T any](f *Frame) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(f.raw, out); err != nil {
		return nil, fmt.Errorf("malformed %s frame: %w", f.Type, err)
	}
	return out, nil
}

type MessageFrame struct {
	// ClientID is client-proposed for retry detection; zero means
	// server-assigned.
	ClientID       uuid.UUID  `json:"clientMessageId"`
	ConversationID uuid.UUID  `json:"conversationId"`
	Content        string     `json:"payload"`
	ParentID       *uuid.UUID `json:"parentId,omitempty"`
	MediaID        *uuid.UUID `json:"mediaRef,omitempty"`
}

func (f *MessageFrame) ToModel() *model.Message {
	id := f.ClientID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &model.Message{
		ID:                  id,
		ConversationID:      f.ConversationID,
		Content:             f.Content,
		ParentID:            f.ParentID,
		MediaID:             f.MediaID,
		ReadReceiptsEnabled: true,
	}
}

type MessageDeleteFrame struct {
	MessageID uuid.UUID `json:"messageId"`
}

type TypingFrame struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type ReceiptFrame struct {
	MessageID uuid.UUID `json:"messageId"`
}

type MarkConvReadFrame struct {
	ConversationID uuid.UUID `json:"conversationId"`
	// UpTo is a unix-millisecond watermark; zero means now.
	UpTo int64 `json:"upTo"`
}

func (f *MarkConvReadFrame) Watermark() time.Time {
	if f.UpTo == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(f.UpTo)
}

type ConvPresenceFrame struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type StatusFrame struct {
	Status model.PresenceStatus `json:"status"`
	Custom *model.CustomStatus  `json:"custom,omitempty"`
}

type ReactionFrame struct {
	MessageID uuid.UUID `json:"messageId"`
	Emoji     string    `json:"emoji"`
}
