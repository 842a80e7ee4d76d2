package gateway

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/chatmesh/chatmesh/internal/domain/event"
)

// WireEvent is the outbound websocket envelope.
type WireEvent struct {
	Event          string    `json:"event"`
	ID             string    `json:"id"`
	ConversationID uuid.UUID `json:"conversationId,omitempty"`
	SentAt         int64     `json:"sentAt"`
	Payload        any       `json:"payload"`
}

// marshalEvent shapes an internal event for the socket. The marshalled form
// is cached on the event so cells fanning the same instance to several
// sessions pay for encoding once.
func marshalEvent(ev event.Eventer) ([]byte, error) {
	if cached, ok := ev.GetCached().([]byte); ok {
		return cached, nil
	}

	wire := &WireEvent{
		Event:  string(ev.GetKind()),
		ID:     ev.GetID(),
		SentAt: ev.GetOccurredAt(),
	}
	if concrete, ok := ev.(*event.Event); ok {
		wire.ConversationID = concrete.ConversationID
	}
	wire.Payload = ev.GetPayload()

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	ev.SetCached(data)
	return data, nil
}
