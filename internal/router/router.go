// Package router fans accepted events out to their recipients.
//
// Dispatch resolves each recipient to one of three paths: the local hub,
// the shared bus (recipient live on another node) or the offline queue plus
// push pipeline. Participant sets are cached with a short TTL so membership
// changes converge without hitting the database on every message.
package router

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/infra/pubsub"
	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/chatmesh/chatmesh/internal/domain/registry"
	"github.com/chatmesh/chatmesh/internal/metrics"
	"github.com/chatmesh/chatmesh/internal/store"
)

const maxContentBytes = 64 << 10

// laneCount shards conversations across the ordered dispatch workers.
const laneCount = 64

// laneDepth bounds how many accepts may queue behind one conversation's
// worker before senders block.
const laneDepth = 256

// PresenceReader answers whether a user is live on any node.
type PresenceReader interface {
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

// OfflineQueue persists events for recipients with no live session.
type OfflineQueue interface {
	Enqueue(ctx context.Context, ev *event.Event) error
}

// PushNotifier receives events that missed every live session and may turn
// them into push intents.
type PushNotifier interface {
	Notify(ctx context.Context, ev *event.Event)
}

// DeliveryTracker advances a message's per-recipient delivery state; the
// returned event, if any, is the status frame owed to the sender.
type DeliveryTracker interface {
	MarkSent(ctx context.Context, messageID, recipientID, senderID uuid.UUID) (*event.Event, error)
}

type Router struct {
	repo       store.Repository
	hub        registry.Hubber
	dispatcher pubsub.EventDispatcher
	presence   PresenceReader
	offline    OfflineQueue
	push       PushNotifier
	tracker    DeliveryTracker
	log        *slog.Logger

	participants *expirable.LRU[uuid.UUID, *model.Conversation]

	// lanes serialize persist-and-fanout per conversation so recipients
	// observe messages in acceptance order. Each lane is a worker goroutine
	// draining a job queue; no lock is held across repository or bus I/O.
	lanes  [laneCount]chan func()
	laneWG sync.WaitGroup
}

func NewRouter(
	cfg config.RouterConfig,
	repo store.Repository,
	hub registry.Hubber,
	dispatcher pubsub.EventDispatcher,
	presence PresenceReader,
	offline OfflineQueue,
	push PushNotifier,
	tracker DeliveryTracker,
	log *slog.Logger,
) *Router {
	r := &Router{
		repo:         repo,
		hub:          hub,
		dispatcher:   dispatcher,
		presence:     presence,
		offline:      offline,
		push:         push,
		tracker:      tracker,
		log:          log.With("component", "router"),
		participants: expirable.NewLRU[uuid.UUID, *model.Conversation](cfg.ParticipantSize, nil, cfg.ParticipantTTL),
	}
	for i := range r.lanes {
		r.lanes[i] = make(chan func(), laneDepth)
		r.laneWG.Add(1)
		go func(jobs chan func()) {
			defer r.laneWG.Done()
			for job := range jobs {
				job()
			}
		}(r.lanes[i])
	}
	return r
}

// Close drains the lane workers. Callers must stop submitting first.
func (r *Router) Close() {
	for i := range r.lanes {
		close(r.lanes[i])
	}
	r.laneWG.Wait()
}

func (r *Router) lane(convID uuid.UUID) chan func() {
	h := fnv.New32a()
	h.Write(convID[:])
	return r.lanes[h.Sum32()%laneCount]
}

// runInLane executes fn on the conversation's dispatch worker and waits for
// it, so per-conversation acceptance order is preserved without a lock held
// over I/O.
func (r *Router) runInLane(convID uuid.UUID, fn func()) {
	done := make(chan struct{})
	r.lane(convID) <- func() {
		defer close(done)
		fn()
	}
	<-done
}

// Conversation resolves the conversation through the TTL cache.
func (r *Router) Conversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	if c, ok := r.participants.Get(id); ok {
		return c, nil
	}
	c, err := r.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	r.participants.Add(id, c)
	return c, nil
}

// InvalidateConversation drops the cached participant set after membership
// or metadata changes.
func (r *Router) InvalidateConversation(id uuid.UUID) {
	r.participants.Remove(id)
}

// SendMessage validates, persists and fans out one message. The returned
// message carries the server timestamp; duplicate reports a replayed client
// id, in which case the caller re-acks without a second fan-out.
func (r *Router) SendMessage(ctx context.Context, senderID uuid.UUID, m *model.Message) (duplicate bool, err error) {
	ctx, span := otel.Tracer("chatmesh-router").Start(ctx, "router.send_message",
		trace.WithAttributes(
			attribute.String("conversation_id", m.ConversationID.String()),
			attribute.String("sender_id", senderID.String())))
	defer span.End()

	if m.Content == "" || len(m.Content) > maxContentBytes {
		return false, model.NewError(model.CodeBadRequest, "content length out of range")
	}

	conv, err := r.Conversation(ctx, m.ConversationID)
	if err != nil {
		return false, err
	}
	if !conv.HasParticipant(senderID) {
		return false, model.NewError(model.CodeForbidden, "not a participant")
	}

	r.runInLane(m.ConversationID, func() {
		m.SenderID = senderID
		m.CreatedAt = time.Now().UTC()
		if createErr := r.repo.CreateMessage(ctx, m); createErr != nil {
			if model.CodeOf(createErr) == model.CodeConflict {
				duplicate = true
				return
			}
			err = createErr
			return
		}
		if touchErr := r.repo.TouchConversation(ctx, m.ConversationID, m.CreatedAt); touchErr != nil {
			r.log.Warn("conversation touch failed", "conversation_id", m.ConversationID, "error", touchErr)
		}

		payload := event.NewMessagePayload(m)
		for _, recipient := range conv.ParticipantIDs(senderID) {
			ev := event.New(recipient, event.KindMessage, payload).
				WithID(m.ID).
				WithConversation(m.ConversationID)
			r.DispatchToUser(ctx, ev)
		}
	})
	if err != nil {
		span.RecordError(err)
	}
	return duplicate, err
}

// DeleteMessage tombstones the sender's own message and fans the deletion
// out to every participant, sender's other devices included.
func (r *Router) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) error {
	m, err := r.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return model.NewError(model.CodeForbidden, "not the sender")
	}
	conv, err := r.Conversation(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	if err := r.repo.MarkMessageDeleted(ctx, messageID, time.Now().UTC()); err != nil {
		return err
	}

	payload := &event.TombstonePayload{
		MessageID:      messageID,
		ConversationID: m.ConversationID,
		DeletedBy:      userID,
	}
	for _, recipient := range conv.ParticipantIDs(userID) {
		ev := event.New(recipient, event.KindMessageDeleted, payload).
			WithConversation(m.ConversationID)
		r.DispatchToUser(ctx, ev)
	}
	return nil
}

// AddReaction toggles the (message, user, emoji) triple on; a repeat is a
// silent no-op with no fan-out.
func (r *Router) AddReaction(ctx context.Context, userID, messageID uuid.UUID, emoji string) error {
	return r.reaction(ctx, userID, messageID, emoji, true)
}

func (r *Router) RemoveReaction(ctx context.Context, userID, messageID uuid.UUID, emoji string) error {
	return r.reaction(ctx, userID, messageID, emoji, false)
}

func (r *Router) reaction(ctx context.Context, userID, messageID uuid.UUID, emoji string, add bool) error {
	if emoji == "" {
		return model.NewError(model.CodeBadRequest, "empty emoji")
	}
	m, err := r.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	conv, err := r.Conversation(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return model.NewError(model.CodeForbidden, "not a participant")
	}

	reaction := &model.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	}
	var changed bool
	if add {
		changed, err = r.repo.AddReaction(ctx, reaction)
	} else {
		changed, err = r.repo.RemoveReaction(ctx, messageID, userID, emoji)
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	kind := event.KindReactionAdd
	if !add {
		kind = event.KindReactionRemove
	}
	for _, recipient := range conv.ParticipantIDs(userID) {
		ev := event.New(recipient, kind, reaction).
			WithConversation(m.ConversationID)
		r.DispatchToUser(ctx, ev)
	}
	return nil
}

// DispatchToUser routes one event instance to its physical recipient.
//
// Local hub first; then the bus when the recipient is live elsewhere; then,
// for persistent kinds, the offline queue and push pipeline. When presence
// cannot be resolved the event takes both the bus and the durable path; the
// recipient cell's duplicate window absorbs the overlap.
func (r *Router) DispatchToUser(ctx context.Context, ev *event.Event) {
	kind := string(ev.GetKind())
	ctx, span := otel.Tracer("chatmesh-router").Start(ctx, "router.dispatch_to_user",
		trace.WithAttributes(
			attribute.String("event_kind", kind),
			attribute.String("recipient_id", ev.GetUserID().String())))
	defer span.End()

	if r.hub.Broadcast(ev) {
		metrics.EventsDispatched.WithLabelValues(kind, "local").Inc()
		r.afterLiveDelivery(ctx, ev)
		return
	}

	online, err := r.presence.IsOnline(ctx, ev.GetUserID())
	unknown := err != nil
	if unknown {
		r.log.Warn("presence unresolved, dispatching both paths",
			"user_id", ev.GetUserID(), "error", err)
	}

	if online || unknown {
		if err := r.dispatcher.Publish(ctx, ev); err != nil {
			r.log.Error("bus publish failed", "routing_key", ev.GetRoutingKey(), "error", err)
		} else {
			metrics.EventsDispatched.WithLabelValues(kind, "bus").Inc()
			if online {
				r.afterLiveDelivery(ctx, ev)
				return
			}
		}
	}

	if !event.Persistent(ev.GetKind()) {
		return
	}

	if err := r.offline.Enqueue(ctx, ev); err != nil {
		r.log.Error("offline enqueue failed", "user_id", ev.GetUserID(), "error", err)
		metrics.OfflineEnqueued.WithLabelValues("error").Inc()
	} else {
		metrics.EventsDispatched.WithLabelValues(kind, "offline").Inc()
	}
	r.push.Notify(ctx, ev)
}

// afterLiveDelivery advances delivery state for message events that reached
// a live session and returns the owed status frame to the sender.
func (r *Router) afterLiveDelivery(ctx context.Context, ev *event.Event) {
	if ev.GetKind() != event.KindMessage {
		return
	}
	payload, ok := ev.GetPayload().(*event.MessagePayload)
	if !ok {
		return
	}
	statusEv, err := r.tracker.MarkSent(ctx, payload.MessageID, ev.GetUserID(), payload.SenderID)
	if err != nil {
		r.log.Warn("delivery advance failed", "message_id", payload.MessageID, "error", err)
		return
	}
	if statusEv != nil {
		r.DispatchToUser(ctx, statusEv)
	}
}
