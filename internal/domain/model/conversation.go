package model

import (
	"time"

	"github.com/google/uuid"
)

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

type Conversation struct {
	ID           uuid.UUID
	Kind         ConversationKind
	Name         string // group only
	CreatedAt    time.Time
	LastActivity time.Time
	Participants []Participant
}

type Participant struct {
	UserID   uuid.UUID
	IsAdmin  bool
	JoinedAt time.Time
}

// HasParticipant reports whether userID belongs to the conversation's
// current participant set.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the participant user ids, excluding the given ones.
func (c *Conversation) ParticipantIDs(exclude ...uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(c.Participants))
next:
	for _, p := range c.Participants {
		for _, ex := range exclude {
			if p.UserID == ex {
				continue next
			}
		}
		out = append(out, p.UserID)
	}
	return out
}
