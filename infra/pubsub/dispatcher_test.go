package pubsub

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/chatmesh/internal/domain/event"
)

// localEvent satisfies Eventer but not Exportable, like hub-internal frames.
type localEvent struct{ userID uuid.UUID }

func (e *localEvent) GetID() string               { return "local" }
func (e *localEvent) GetKind() event.Kind         { return event.KindPong }
func (e *localEvent) GetUserID() uuid.UUID        { return e.userID }
func (e *localEvent) GetPriority() event.Priority { return event.PriorityLow }
func (e *localEvent) GetOccurredAt() int64        { return 0 }
func (e *localEvent) GetPayload() any             { return nil }
func (e *localEvent) GetCached() any              { return nil }
func (e *localEvent) SetCached(any)               {}

func TestPublishCarriesRoutingKeyMetadata(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := NewLocal(log)
	t.Cleanup(func() { _ = provider.Close() })

	sub, err := provider.Subscriber("events")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	msgs, err := sub.Subscribe(ctx, provider.BindingTopic("chat.v1.#"))
	require.NoError(t, err)

	d := NewEventDispatcher(provider)
	ev := event.New(uuid.New(), event.KindMessage, nil)
	require.NoError(t, d.Publish(context.Background(), ev))

	select {
	case msg := <-msgs:
		assert.Equal(t, ev.GetRoutingKey(), msg.Metadata.Get(MetaRoutingKey))
		decoded, err := event.Decode(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, ev.GetUserID(), decoded.GetUserID())
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("event never reached the bus")
	}
}

func TestPublishSkipsUnexportableEvents(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := NewLocal(log)
	t.Cleanup(func() { _ = provider.Close() })

	sub, err := provider.Subscriber("events")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	msgs, err := sub.Subscribe(ctx, provider.BindingTopic("chat.v1.#"))
	require.NoError(t, err)

	d := NewEventDispatcher(provider)
	require.NoError(t, d.Publish(context.Background(), &localEvent{userID: uuid.New()}))

	select {
	case msg := <-msgs:
		t.Fatalf("node-local event leaked onto the bus: %s", msg.UUID)
	case <-time.After(100 * time.Millisecond):
	}
}
