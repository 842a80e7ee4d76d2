package model

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryState is the per-(message, recipient) lifecycle. State only
// advances; transitions are idempotent; read implies delivered implies sent.
type DeliveryState string

const (
	DeliveryQueued    DeliveryState = "queued"
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
)

// Rank orders delivery states. Higher rank never moves to lower.
func (s DeliveryState) Rank() int {
	switch s {
	case DeliveryQueued:
		return 1
	case DeliverySent:
		return 2
	case DeliveryDelivered:
		return 3
	case DeliveryRead:
		return 4
	}
	return 0
}

type DeliveryRecord struct {
	MessageID   uuid.UUID     `json:"messageId"`
	RecipientID uuid.UUID     `json:"recipientId"`
	State       DeliveryState `json:"state"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}
