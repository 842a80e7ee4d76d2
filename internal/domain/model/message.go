package model

import (
	"time"

	"github.com/google/uuid"
)

// Message is the immutable conversation element. Content is opaque to the
// core: plaintext and end-to-end ciphertext are carried identically.
// Deletion is a tombstone event, never an in-place mutation.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Content        string
	MediaID        *uuid.UUID
	ParentID       *uuid.UUID
	// CreatedAt is server-assigned and monotonically non-decreasing per
	// conversation.
	CreatedAt           time.Time
	ReadReceiptsEnabled bool
}

// Reaction is the (message, user, emoji) triple. The triple is the
// uniqueness key: each distinct emoji at most once per user per message.
type Reaction struct {
	MessageID uuid.UUID `json:"messageId"`
	UserID    uuid.UUID `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

type Media struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Path      string
	MimeType  string
	SizeBytes int64
	CreatedAt time.Time
}
