package router

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/chatmesh/chatmesh/infra/pubsub"
	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/chatmesh/chatmesh/internal/domain/registry"
)

const (
	// EventsBinding subscribes this node to every per-user event topic; the
	// locality filter discards recipients owned by other nodes.
	EventsBinding = "chat.v1.#"

	ConsumerQueue = "chatmesh.delivery.v1"
	PoisonTopic   = "chatmesh.delivery.v1.poison"
)

// BusConsumer is the inbound side of the bus: events published by other
// nodes land here and are handed to the local hub when the recipient is
// connected to this instance.
type BusConsumer struct {
	hub    registry.Hubber
	router *Router
	log    *slog.Logger
}

func NewBusConsumer(hub registry.Hubber, router *Router, log *slog.Logger) *BusConsumer {
	return &BusConsumer{hub: hub, router: router, log: log.With("component", "bus_consumer")}
}

// RegisterHandlers binds a node-unique queue to the events exchange and
// installs the consumer pipeline.
func (c *BusConsumer) RegisterHandlers(router *message.Router, provider pubsub.Provider, dispatcher pubsub.EventDispatcher) error {
	poison, err := middleware.PoisonQueue(dispatcher.Publisher(), PoisonTopic)
	if err != nil {
		return fmt.Errorf("poison queue setup: %w", err)
	}

	instanceID := uuid.NewString()[:8]
	queue := fmt.Sprintf("%s.%s", ConsumerQueue, instanceID)

	sub, err := provider.Subscriber(queue)
	if err != nil {
		return err
	}

	router.AddConsumerHandler(
		"ON_CHAT_EVENT",
		provider.BindingTopic(EventsBinding),
		sub,
		c.onEvent,
	).AddMiddleware(
		traceIDMiddleware,
		loggingMiddleware(c.log),
		newRetryMiddleware().Middleware,
		poison,
		middleware.NewThrottle(1000, time.Second).Middleware,
		middleware.Timeout(30*time.Second),
	)

	c.log.Info("bus consumer ready", "queue", queue)
	return nil
}

func (c *BusConsumer) onEvent(msg *message.Message) error {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic recovered",
				"err", r,
				"stack", string(debug.Stack()),
				"msg_id", msg.UUID)
		}
	}()

	userID, ok := resolveUserID(msg)
	if !ok {
		c.log.Warn("recipient missing from routing key", "msg_id", msg.UUID)
		return nil // terminal, ack
	}

	// Locality filter: only the node holding the recipient's sessions acts.
	if !c.hub.IsConnected(userID) {
		return nil
	}

	ev, err := event.Decode(msg.Payload)
	if err != nil {
		c.log.Error("event decode failed", "err", err, "msg_id", msg.UUID)
		return nil // poison pill protection, ack
	}

	if !c.hub.Broadcast(ev) {
		// The recipient raced away between the filter and delivery. The
		// publisher already took the durable path for persistent kinds.
		return nil
	}

	c.advanceDelivery(msg, ev)
	return nil
}

// advanceDelivery records the sent transition for message events that just
// reached a live session on this node.
func (c *BusConsumer) advanceDelivery(msg *message.Message, ev *event.Event) {
	if ev.GetKind() != event.KindMessage {
		return
	}
	var payload event.MessagePayload
	if !event.DecodePayload(ev, &payload) {
		return
	}
	statusEv, err := c.router.tracker.MarkSent(msg.Context(), payload.MessageID, ev.GetUserID(), payload.SenderID)
	if err != nil {
		c.log.Warn("delivery advance failed", "message_id", payload.MessageID, "error", err)
		return
	}
	if statusEv != nil {
		c.router.DispatchToUser(msg.Context(), statusEv)
	}
}

func resolveUserID(msg *message.Message) (uuid.UUID, bool) {
	rk := msg.Metadata.Get(pubsub.MetaRoutingKey)
	if rk == "" {
		rk = msg.Metadata.Get("x-routing-key")
	}

	for _, part := range strings.Split(rk, ".") {
		if uid, err := uuid.Parse(part); err == nil {
			return uid, true
		}
	}
	return uuid.Nil, false
}
