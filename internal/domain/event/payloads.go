package event

import (
	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/google/uuid"
)

// MessagePayload carries an accepted message to its recipients and, with the
// message-sent kind, the acceptance ack back to the sender.
type MessagePayload struct {
	MessageID      uuid.UUID  `json:"messageId"`
	ConversationID uuid.UUID  `json:"conversationId"`
	SenderID       uuid.UUID  `json:"senderId"`
	Content        string     `json:"payload"`
	ParentID       *uuid.UUID `json:"parentId,omitempty"`
	MediaID        *uuid.UUID `json:"mediaRef,omitempty"`
	SentAt         int64      `json:"sentAt"`
}

func NewMessagePayload(m *model.Message) *MessagePayload {
	return &MessagePayload{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		ParentID:       m.ParentID,
		MediaID:        m.MediaID,
		SentAt:         m.CreatedAt.UnixMilli(),
	}
}

// StatusPayload reports a delivery-state transition to the sender.
type StatusPayload struct {
	MessageID   uuid.UUID           `json:"messageId"`
	RecipientID uuid.UUID           `json:"recipient"`
	State       model.DeliveryState `json:"status"`
}

// ReadPayload is the coalesced message-read emission: one per sender per
// mark-conversation-read, covering every promoted message.
type ReadPayload struct {
	ConversationID uuid.UUID   `json:"conversationId"`
	ReaderID       uuid.UUID   `json:"reader"`
	MessageIDs     []uuid.UUID `json:"messageIds"`
}

type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	On             bool      `json:"on"`
}

type ConversationPresencePayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	Joined         bool      `json:"joined"`
}

// TombstonePayload represents message deletion. The message row itself is
// immutable; observers drop the content on receipt.
type TombstonePayload struct {
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID uuid.UUID `json:"conversationId"`
	DeletedBy      uuid.UUID `json:"deletedBy"`
}

type ErrorPayload struct {
	Code    model.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

type ConnectedPayload struct {
	SessionID  uuid.UUID `json:"sessionId"`
	ServerTime int64     `json:"serverTime"`
}

// NotificationPayload updates the client's badge bookkeeping.
type NotificationPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Unread         int       `json:"unread"`
}
