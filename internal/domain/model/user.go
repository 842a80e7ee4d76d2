package model

import (
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is the user-visible availability state.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusCustom  PresenceStatus = "custom"
	StatusOffline PresenceStatus = "offline"
	// StatusUnknown is reported when cross-process presence cannot be
	// resolved; it is never asserted as offline.
	StatusUnknown PresenceStatus = "unknown"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusCustom, StatusOffline:
		return true
	}
	return false
}

// CustomStatus carries the optional short message and emoji attached to a
// custom presence status.
type CustomStatus struct {
	Message string `json:"message,omitempty"`
	Emoji   string `json:"emoji,omitempty"`
}

type User struct {
	ID          uuid.UUID
	Handle      string
	DisplayName string
	// IdentityKey is the user's public identity key. Opaque to the core.
	IdentityKey []byte
	Status      PresenceStatus
	Custom      *CustomStatus
	CreatedAt   time.Time
}

// Presence is a point-in-time view of one user's availability.
type Presence struct {
	UserID     uuid.UUID      `json:"userId"`
	Status     PresenceStatus `json:"status"`
	Custom     *CustomStatus  `json:"custom,omitempty"`
	LastActive time.Time      `json:"lastActive"`
}
