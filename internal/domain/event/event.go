package event

import "github.com/google/uuid"

// Kind names an outbound frame type exactly as it appears on the wire.
type Kind string

const (
	KindMessage              Kind = "message"
	KindMessageSent          Kind = "message-sent"
	KindMessageStatus        Kind = "message-status"
	KindMessageDelivered     Kind = "message-delivered"
	KindMessageRead          Kind = "message-read"
	KindMessageDeleted       Kind = "message-deleted"
	KindMessageFailed        Kind = "message-failed"
	KindTyping               Kind = "typing"
	KindTypingStopped        Kind = "typing-stopped"
	KindUserStatus           Kind = "user-status"
	KindConversationPresence Kind = "conversation-presence"
	KindReactionAdd          Kind = "reaction:add"
	KindReactionRemove       Kind = "reaction:remove"
	KindNotificationUpdated  Kind = "notification-updated"
	KindError                Kind = "error"
	KindConnected            Kind = "connected"
	KindPong                 Kind = "pong"
)

// Priority drives backpressure shedding: when a session mailbox overflows,
// lower priorities are dropped first and messages are never the ones shed.
type Priority int32

const (
	PriorityLow    Priority = 10 // typing, presence
	PriorityNormal Priority = 20 // receipts, reactions
	PriorityHigh   Priority = 30 // messages, acks
)

// Eventer is the contract for every packet flowing through the Hub.
type Eventer interface {
	GetID() string
	GetKind() Kind
	// GetUserID is the physical recipient of this event instance, not a
	// business participant. Fan-out produces one Eventer per recipient.
	GetUserID() uuid.UUID
	GetPriority() Priority
	GetOccurredAt() int64
	GetPayload() any
	// GetCached and SetCached let transports marshal once per user group.
	GetCached() any
	SetCached(any)
}

// Exportable marks an event that must also be published to the shared bus
// so that instances owning the recipient's sessions can deliver it. An
// empty routing key skips the publish.
type Exportable interface {
	GetRoutingKey() string
}

// Persistent marks an event that survives the recipient being offline: it
// is enqueued in the offline queue instead of being dropped.
func Persistent(k Kind) bool {
	switch k {
	case KindMessage, KindMessageDeleted, KindReactionAdd, KindReactionRemove:
		return true
	}
	return false
}

// Pushable reports whether the kind is a push-notification candidate.
// Ephemeral signals are never pushed.
func Pushable(k Kind) bool {
	switch k {
	case KindMessage, KindReactionAdd:
		return true
	}
	return false
}
