package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/chatmesh/chatmesh/internal/domain/event"
)

// MetaRoutingKey carries the event routing key in message metadata so
// consumers can resolve the recipient regardless of backend.
const MetaRoutingKey = "routing_key"

// EventDispatcher is the outgoing side of the bus. Handlers publish through
// it and stay agnostic of the transport.
type EventDispatcher interface {
	Publish(ctx context.Context, ev event.Eventer) error
	Publisher() message.Publisher
}

type eventDispatcher struct {
	provider Provider
}

func NewEventDispatcher(p Provider) EventDispatcher {
	return &eventDispatcher{provider: p}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev event.Eventer) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}

	exp, ok := ev.(event.Exportable)
	if !ok {
		// Not addressable on the bus; the event stays node-local.
		return nil
	}
	rk := exp.GetRoutingKey()
	if rk == "" {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetaRoutingKey, rk)
	msg.SetContext(ctx)

	if err := d.provider.Publisher().Publish(d.provider.TopicFor(rk), msg); err != nil {
		return fmt.Errorf("event dispatcher: publish %s: %w", rk, err)
	}
	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.provider.Publisher()
}
