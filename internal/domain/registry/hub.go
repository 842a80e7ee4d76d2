// Package registry provides the in-process event distribution layer.
//
// Every locally connected user is represented by an isolated Cell (actor)
// that owns all of that user's live sessions. Per-user mailboxes decouple
// dispatch from slow network consumers; lookups are lock-free via sync.Map
// and each cell uses its own fine-grained lock, so there is no global mutex
// on the delivery path.
package registry

import (
	"sync"
	"time"

	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/google/uuid"
)

// Hubber is the gateway for user session management and event routing.
type Hubber interface {
	Broadcast(ev event.Eventer) bool
	Register(conn Connector)
	Unregister(userID, connID uuid.UUID)
	IsConnected(userID uuid.UUID) bool
	SessionCount(userID uuid.UUID) int
	Shutdown()
}

type hubConfig struct {
	evictionInterval time.Duration
	idleTimeout      time.Duration
	mailboxSize      int
	sendTimeout      time.Duration
}

// Hub maps user ids to their Cells. Cells are created lazily on first
// session and reclaimed by the janitor once idle.
type Hub struct {
	// cells stores map[uuid.UUID]Celler.
	cells  sync.Map
	config hubConfig

	janitorDone chan struct{}
	stopOnce    sync.Once
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		config: hubConfig{
			evictionInterval: 15 * time.Minute,
			idleTimeout:      30 * time.Minute,
			mailboxSize:      2048,
			sendTimeout:      500 * time.Millisecond,
		},
		janitorDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.janitor()
	return h
}

func (h *Hub) IsConnected(userID uuid.UUID) bool {
	val, ok := h.cells.Load(userID)
	if !ok {
		return false
	}
	cell, ok := val.(Celler)
	return ok && len(cell.Sessions()) > 0
}

func (h *Hub) SessionCount(userID uuid.UUID) int {
	if val, ok := h.cells.Load(userID); ok {
		if cell, ok := val.(Celler); ok {
			return len(cell.Sessions())
		}
	}
	return 0
}

// Broadcast routes the event to its recipient's cell. Returns false on miss
// or mailbox overflow; the caller decides between offline queue and drop.
func (h *Hub) Broadcast(ev event.Eventer) bool {
	if val, ok := h.cells.Load(ev.GetUserID()); ok {
		if cell, ok := val.(Celler); ok {
			return cell.Push(ev)
		}
	}
	return false
}

// Register attaches a session, creating the user's cell if needed.
func (h *Hub) Register(conn Connector) {
	uID := conn.GetUserID()
	val, _ := h.cells.LoadOrStore(uID, NewCell(uID, h.config.mailboxSize, h.config.sendTimeout))
	if cell, ok := val.(Celler); ok {
		cell.Attach(conn)
	}
}

// Unregister detaches the session and purges the cell when no sessions
// remain. Callers must Unregister before closing the Connector.
func (h *Hub) Unregister(userID, connID uuid.UUID) {
	if val, ok := h.cells.Load(userID); ok {
		if cell, ok := val.(Celler); ok {
			if cell.Detach(connID) {
				cell.Stop()
				h.cells.Delete(userID)
			}
		}
	}
}

// janitor reclaims cells that lost their sessions without a clean
// Unregister (process-internal races, test fakes).
func (h *Hub) janitor() {
	ticker := time.NewTicker(h.config.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.janitorDone:
			return
		case <-ticker.C:
			h.cells.Range(func(key, val any) bool {
				if cell, ok := val.(Celler); ok && cell.IsIdle(h.config.idleTimeout) {
					cell.Stop()
					h.cells.Delete(key)
				}
				return true
			})
		}
	}
}

// Shutdown stops every cell goroutine and the janitor.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.janitorDone) })
	h.cells.Range(func(key, val any) bool {
		if cell, ok := val.(Celler); ok {
			cell.Stop()
		}
		h.cells.Delete(key)
		return true
	})
}
