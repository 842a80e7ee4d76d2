package registry

import (
	"sync"
	"time"

	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Celler is the internal API for user-specific delivery units.
type Celler interface {
	Push(ev event.Eventer) bool
	Attach(conn Connector)
	Detach(connID uuid.UUID) bool
	Sessions() []uuid.UUID
	IsIdle(timeout time.Duration) bool
	Stop()
}

// seenWindow bounds the per-user duplicate-suppression memory.
const seenWindow = 512

// Cell is the per-user delivery actor. All of a user's live sessions attach
// here; one goroutine drains the mailbox and multiplexes to every session,
// so a user observes events in mailbox order on each device.
type Cell struct {
	userID uuid.UUID

	// mailbox decouples the dispatcher from slow consumers. Overflow is
	// handled at Push (reject) and at Send (priority shedding).
	mailbox chan event.Eventer

	sessions map[uuid.UUID]Connector
	mu       sync.RWMutex

	// seen suppresses re-delivery of the same message event to a user whose
	// live dispatch raced an offline-queue drain. Message event ids are
	// deterministic (the message id), so replays collapse here.
	seen *lru.Cache[string, struct{}]

	sendTimeout time.Duration

	doneCh   chan struct{}
	stopOnce sync.Once

	lastActivityAt time.Time
}

func NewCell(userID uuid.UUID, bufferSize int, sendTimeout time.Duration) *Cell {
	seen, _ := lru.New[string, struct{}](seenWindow)
	c := &Cell{
		userID:         userID,
		mailbox:        make(chan event.Eventer, bufferSize),
		sessions:       make(map[uuid.UUID]Connector),
		seen:           seen,
		sendTimeout:    sendTimeout,
		doneCh:         make(chan struct{}),
		lastActivityAt: time.Now(),
	}
	go c.loop()
	return c
}

// IsIdle reports whether the cell has no sessions and no recent traffic.
func (c *Cell) IsIdle(timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions) == 0 && time.Since(c.lastActivityAt) > timeout
}

func (c *Cell) touch() {
	c.mu.Lock()
	c.lastActivityAt = time.Now()
	c.mu.Unlock()
}

func (c *Cell) Push(ev event.Eventer) bool {
	c.touch()
	if ev.GetKind() == event.KindMessage {
		// At-most-once per user: Add reports eviction, ContainsOrAdd tells
		// us whether the id was already delivered.
		if ok, _ := c.seen.ContainsOrAdd(ev.GetID(), struct{}{}); ok {
			return true
		}
	}
	select {
	case c.mailbox <- ev:
		return true
	default:
		return false
	}
}

func (c *Cell) Attach(conn Connector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivityAt = time.Now()
	c.sessions[conn.GetID()] = conn
}

// Detach removes the session and reports whether the cell is now empty.
func (c *Cell) Detach(connID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, connID)
	c.lastActivityAt = time.Now()
	return len(c.sessions) == 0
}

func (c *Cell) Sessions() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(c.sessions))
	for id := range c.sessions {
		out = append(out, id)
	}
	return out
}

func (c *Cell) loop() {
	for {
		select {
		case <-c.doneCh:
			return
		case ev := <-c.mailbox:
			c.deliver(ev)
		}
	}
}

func (c *Cell) deliver(ev event.Eventer) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, conn := range c.sessions {
		conn.Send(ev, c.sendTimeout)
	}
}

func (c *Cell) Stop() {
	c.stopOnce.Do(func() { close(c.doneCh) })
}
