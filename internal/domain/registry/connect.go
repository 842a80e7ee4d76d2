package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/google/uuid"
)

// Interface guard
var _ Connector = (*connect)(nil)

// Connector is the contract between the Hub and one live client session.
// The gateway writer drains Recv; the Hub pushes through Send.
type Connector interface {
	GetID() uuid.UUID
	GetUserID() uuid.UUID
	// Send is thread-safe and never blocks past the timeout; it applies the
	// priority shedding policy on a saturated mailbox.
	Send(ev event.Eventer, timeout time.Duration) bool
	Recv() <-chan event.Eventer
	// Done closes when the session must terminate: context cancellation or
	// an overflow caused by undroppable (message) traffic.
	Done() <-chan struct{}
	Dropped() uint64
	Close()
}

// ConnectMetadata is exposed for transport and analytics layers.
type ConnectMetadata struct {
	RemoteIP  string
	UserAgent string
}

type connect struct {
	id        uuid.UUID
	userID    uuid.UUID
	metadata  ConnectMetadata
	createdAt time.Time

	ctx      context.Context
	cancelFn context.CancelFunc

	sendCh chan event.Eventer

	closeOnce    sync.Once
	droppedCount atomic.Uint64
}

// NewConnector binds a session lifetime to ctx; cancelling ctx (transport
// teardown) aborts all pending sends.
func NewConnector(ctx context.Context, userID uuid.UUID, meta ConnectMetadata, bufferSize int) Connector {
	childCtx, cancel := context.WithCancel(ctx)
	return &connect{
		id:        uuid.New(),
		userID:    userID,
		metadata:  meta,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		sendCh:    make(chan event.Eventer, bufferSize),
	}
}

func (c *connect) GetID() uuid.UUID           { return c.id }
func (c *connect) GetUserID() uuid.UUID       { return c.userID }
func (c *connect) Recv() <-chan event.Eventer { return c.sendCh }
func (c *connect) Done() <-chan struct{}      { return c.ctx.Done() }
func (c *connect) Dropped() uint64            { return c.droppedCount.Load() }

func (c *connect) Send(ev event.Eventer, timeout time.Duration) bool {
	// Refuse deterministically once the session is cancelled; a racing
	// select could otherwise accept into a mailbox nobody drains and the
	// caller would skip the durable path.
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.sendCh <- ev:
		return true
	default:
		return c.handleBackpressure(ev, timeout)
	}
}

// handleBackpressure sheds low-priority events from a full mailbox. Ephemeral
// signals are dropped first. Eviction only ever removes strictly lower
// ranked events: recycling a drained head through the tail would reorder
// traffic relative to acceptance.
func (c *connect) handleBackpressure(ev event.Eventer, timeout time.Duration) bool {
	if ev.GetPriority() <= event.PriorityLow {
		c.droppedCount.Add(1)
		return false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	if ev.GetPriority() < event.PriorityHigh {
		// Receipt-grade traffic evicts nothing; it waits for the writer
		// and is shed when the mailbox stays full.
		select {
		case c.sendCh <- ev:
			return true
		case <-c.ctx.Done():
			return false
		case <-deadline.C:
			c.droppedCount.Add(1)
			return false
		}
	}

	for {
		select {
		case c.sendCh <- ev:
			return true
		case old := <-c.sendCh:
			if old.GetPriority() < ev.GetPriority() {
				// Evicted a lower-priority event; retry with its slot.
				c.droppedCount.Add(1)
				continue
			}
			// The head is message-grade too: the mailbox is saturated
			// with undroppable traffic nobody is draining. Terminate;
			// the client reconnects and the offline queue takes over.
			c.droppedCount.Add(1)
			c.cancelFn()
			return false
		case <-c.ctx.Done():
			return false
		case <-deadline.C:
			c.droppedCount.Add(1)
			c.cancelFn()
			return false
		}
	}
}

func (c *connect) Close() {
	c.closeOnce.Do(func() {
		c.cancelFn()
		close(c.sendCh)
	})
}
