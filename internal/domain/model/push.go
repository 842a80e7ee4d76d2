package model

import (
	"time"

	"github.com/google/uuid"
)

// PushSubscription is one device endpoint of a user. Multi-device users own
// several. Endpoints the transport reports permanently failed are evicted.
type PushSubscription struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Endpoint  string
	// Keys holds the client key material (p256dh/auth). Opaque to the core.
	Keys      map[string]string
	UserAgent string
	CreatedAt time.Time
}

// NotificationKind classifies push candidates. Ephemeral signals (typing,
// presence, read receipts) are never pushed.
type NotificationKind string

const (
	NotifyMessage        NotificationKind = "message"
	NotifyMention        NotificationKind = "mention"
	NotifyReaction       NotificationKind = "reaction"
	NotifyContactRequest NotificationKind = "contact-request"
)

// QuietHours is a local-time window during which non-urgent intents are
// suppressed. Start and End are minutes from midnight; a window wrapping
// midnight has Start > End.
type QuietHours struct {
	Enabled bool
	Start   int
	End     int
}

// Contains reports whether t (in the user's location) falls in the window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if q.Start <= q.End {
		return m >= q.Start && m < q.End
	}
	return m >= q.Start || m < q.End
}

type NotificationSettings struct {
	UserID  uuid.UUID
	Enabled map[NotificationKind]bool
	Quiet   QuietHours
	// MutedConversations suppresses intents originating from these
	// conversations regardless of kind.
	MutedConversations map[uuid.UUID]bool
}

// Allows applies type toggles, quiet hours and per-conversation mute.
func (s *NotificationSettings) Allows(kind NotificationKind, convID uuid.UUID, at time.Time, urgent bool) bool {
	if s == nil {
		return true
	}
	if enabled, ok := s.Enabled[kind]; ok && !enabled {
		return false
	}
	if s.MutedConversations[convID] {
		return false
	}
	if s.Quiet.Contains(at) && !urgent {
		return false
	}
	return true
}

// PushIntent is the serialized notification handed to the push transport.
type PushIntent struct {
	ID             uuid.UUID        `json:"id"`
	UserID         uuid.UUID        `json:"userId"`
	Kind           NotificationKind `json:"kind"`
	ConversationID uuid.UUID        `json:"conversationId"`
	MessageID      uuid.UUID        `json:"messageId,omitempty"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	Urgent         bool             `json:"urgent"`
	CreatedAt      time.Time        `json:"createdAt"`
}
