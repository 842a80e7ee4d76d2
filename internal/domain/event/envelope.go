package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	_ Eventer    = (*Event)(nil)
	_ Exportable = (*Event)(nil)
)

// Event is the concrete envelope for everything the core fans out. The same
// shape travels in-process (Hub mailboxes), across the bus (JSON) and down
// the websocket (via the gateway marshaller).
type Event struct {
	ID             uuid.UUID `json:"id"`
	Kind           Kind      `json:"kind"`
	UserID         uuid.UUID `json:"user_id"`
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`
	Priority       Priority  `json:"priority"`
	OccurredAt     int64     `json:"occurred_at"`
	Payload        any       `json:"payload"`

	cached any
}

// New builds an event addressed to a single physical recipient.
func New(recipient uuid.UUID, kind Kind, payload any) *Event {
	return &Event{
		ID:         uuid.New(),
		Kind:       kind,
		UserID:     recipient,
		Priority:   defaultPriority(kind),
		OccurredAt: time.Now().UnixMilli(),
		Payload:    payload,
	}
}

// WithID overrides the generated id. Message events use the message id so a
// live dispatch and an offline-queue drain of the same message collapse in
// the recipient cell's duplicate window.
func (e *Event) WithID(id uuid.UUID) *Event {
	e.ID = id
	return e
}

// WithConversation tags the event with its conversation for isolation checks
// and offline-queue bookkeeping.
func (e *Event) WithConversation(id uuid.UUID) *Event {
	e.ConversationID = id
	return e
}

func (e *Event) GetID() string           { return e.ID.String() }
func (e *Event) GetKind() Kind           { return e.Kind }
func (e *Event) GetUserID() uuid.UUID    { return e.UserID }
func (e *Event) GetPriority() Priority   { return e.Priority }
func (e *Event) GetOccurredAt() int64    { return e.OccurredAt }
func (e *Event) GetPayload() any         { return e.Payload }
func (e *Event) GetCached() any          { return e.cached }
func (e *Event) SetCached(v any)         { e.cached = v }

// GetRoutingKey shapes the bus topic: chat.v1.{recipient}.{kind}.
// Ephemeral signals are node-local only when the recipient is local; they
// still export so remote sessions observe them.
func (e *Event) GetRoutingKey() string {
	kind := strings.NewReplacer(":", "_").Replace(string(e.Kind))
	return fmt.Sprintf("chat.v1.%s.%s", e.UserID, kind)
}

// Decode reconstructs an Event from its bus representation. The payload
// stays raw; transports re-marshal it verbatim.
func Decode(data []byte) (*Event, error) {
	var wire struct {
		ID             uuid.UUID       `json:"id"`
		Kind           Kind            `json:"kind"`
		UserID         uuid.UUID       `json:"user_id"`
		ConversationID uuid.UUID       `json:"conversation_id"`
		Priority       Priority        `json:"priority"`
		OccurredAt     int64           `json:"occurred_at"`
		Payload        json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &Event{
		ID:             wire.ID,
		Kind:           wire.Kind,
		UserID:         wire.UserID,
		ConversationID: wire.ConversationID,
		Priority:       wire.Priority,
		OccurredAt:     wire.OccurredAt,
		Payload:        wire.Payload,
	}, nil
}

// DecodePayload resolves the payload whether the event was built in process
// (typed pointer) or decoded off the bus (raw JSON).
func DecodePayload[T any](ev *Event, out *T) bool {
	switch p := ev.Payload.(type) {
	case *T:
		*out = *p
		return true
	case T:
		*out = p
		return true
	case json.RawMessage:
		return json.Unmarshal(p, out) == nil
	}
	return false
}

func defaultPriority(k Kind) Priority {
	switch k {
	case KindTyping, KindTypingStopped, KindUserStatus, KindConversationPresence:
		return PriorityLow
	case KindMessageStatus, KindMessageDelivered, KindMessageRead,
		KindReactionAdd, KindReactionRemove, KindNotificationUpdated:
		return PriorityNormal
	default:
		return PriorityHigh
	}
}
