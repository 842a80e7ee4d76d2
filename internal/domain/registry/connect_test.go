package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/chatmesh/internal/domain/event"
)

func TestConnectorSendAndRecv(t *testing.T) {
	conn := NewConnector(context.Background(), uuid.New(), ConnectMetadata{}, 4)
	defer conn.Close()

	ev := event.New(conn.GetUserID(), event.KindMessage, nil)
	require.True(t, conn.Send(ev, 10*time.Millisecond))

	got := <-conn.Recv()
	assert.Equal(t, ev.GetID(), got.GetID())
}

func TestConnectorShedsLowPriorityWhenFull(t *testing.T) {
	userID := uuid.New()
	conn := NewConnector(context.Background(), userID, ConnectMetadata{}, 2)
	defer conn.Close()

	require.True(t, conn.Send(event.New(userID, event.KindMessage, nil), 10*time.Millisecond))
	require.True(t, conn.Send(event.New(userID, event.KindMessage, nil), 10*time.Millisecond))

	// Mailbox full of messages: typing is dropped, not queued.
	ok := conn.Send(event.New(userID, event.KindTyping, nil), 10*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), conn.Dropped())
}

func TestConnectorEvictsLowerPriorityForMessages(t *testing.T) {
	userID := uuid.New()
	conn := NewConnector(context.Background(), userID, ConnectMetadata{}, 1)
	defer conn.Close()

	require.True(t, conn.Send(event.New(userID, event.KindTyping, nil), 10*time.Millisecond))

	msg := event.New(userID, event.KindMessage, nil)
	require.True(t, conn.Send(msg, 100*time.Millisecond))

	got := <-conn.Recv()
	assert.Equal(t, event.KindMessage, got.GetKind())
	assert.Equal(t, uint64(1), conn.Dropped())
}

func TestConnectorTerminatesSessionOnMessageOverflow(t *testing.T) {
	userID := uuid.New()
	conn := NewConnector(context.Background(), userID, ConnectMetadata{}, 1)
	defer conn.Close()

	require.True(t, conn.Send(event.New(userID, event.KindMessage, nil), 10*time.Millisecond))

	// A second message cannot fit and nothing is evictable: the session is
	// cancelled so the client reconnects and drains the offline queue.
	ok := conn.Send(event.New(userID, event.KindMessage, nil), 20*time.Millisecond)
	require.False(t, ok)

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("session was not terminated")
	}
}

func TestConnectorSendAfterContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := NewConnector(ctx, uuid.New(), ConnectMetadata{}, 4)
	defer conn.Close()

	cancel()

	// Every attempt must refuse, even with mailbox space free; an accepted
	// event would sit in a mailbox nobody drains and the caller would skip
	// the durable path.
	for range 50 {
		assert.False(t, conn.Send(event.New(conn.GetUserID(), event.KindMessage, nil), 10*time.Millisecond))
	}
}

func TestConnectorBackpressureKeepsMessageOrder(t *testing.T) {
	userID := uuid.New()
	conn := NewConnector(context.Background(), userID, ConnectMetadata{}, 2)
	defer conn.Close()

	first := event.New(userID, event.KindMessage, nil)
	second := event.New(userID, event.KindMessage, nil)
	require.True(t, conn.Send(first, 10*time.Millisecond))
	require.True(t, conn.Send(second, 10*time.Millisecond))

	// A receipt against a mailbox full of messages is shed; it must not
	// recycle the queued messages through the tail.
	ok := conn.Send(event.New(userID, event.KindMessageRead, nil), 20*time.Millisecond)
	require.False(t, ok)

	select {
	case <-conn.Done():
		t.Fatal("receipt overflow must not terminate the session")
	default:
	}

	got := <-conn.Recv()
	assert.Equal(t, first.GetID(), got.GetID())
	got = <-conn.Recv()
	assert.Equal(t, second.GetID(), got.GetID())
}
