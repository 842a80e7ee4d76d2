// Package signalpipe conditions the ephemeral signal firehose before it
// reaches the router: typing indicators are debounced, read receipts are
// throttled and coalesced, conversation presence and reaction flaps are
// batched. Everything here is timer-driven and drops rather than queues;
// losing an ephemeral signal is always acceptable, flooding sessions is not.
package signalpipe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/chatmesh/chatmesh/internal/metrics"
	"github.com/chatmesh/chatmesh/internal/router"
)

// typingIdle ends a typing indicator that the client never closed.
const typingIdle = 5 * time.Second

type convKey struct {
	userID uuid.UUID
	convID uuid.UUID
}

type receiptKey struct {
	readerID uuid.UUID
	senderID uuid.UUID
	convID   uuid.UUID
}

type reactionKey struct {
	userID    uuid.UUID
	messageID uuid.UUID
	emoji     string
}

// Tracker is the delivery surface the pipeline needs: persisting read marks
// and shaping the sender-facing receipt frames.
type Tracker interface {
	MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*event.Event, error)
	MarkDelivered(ctx context.Context, messageID, recipientID uuid.UUID) (*event.Event, error)
}

type typingState struct {
	pending  *time.Timer // trailing debounce, not yet emitted
	active   bool        // typing frame already fanned out
	autostop *time.Timer
}

type receiptState struct {
	lastEmit time.Time
	pending  map[uuid.UUID][]uuid.UUID // sender -> coalesced message ids
	timer    *time.Timer
}

type reactionOp struct {
	timer *time.Timer
	add   bool
}

type Pipeline struct {
	cfg    config.SignalConfig
	router *router.Router
	track  Tracker
	log    *slog.Logger

	mu        sync.Mutex
	typing    map[convKey]*typingState
	receipts  map[convKey]*receiptState
	presence  map[uuid.UUID]*presenceBatch
	reactions map[reactionKey]*reactionOp
}

func NewPipeline(cfg config.SignalConfig, r *router.Router, track Tracker, log *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		router:    r,
		track:     track,
		log:       log.With("component", "signalpipe"),
		typing:    make(map[convKey]*typingState),
		receipts:  make(map[convKey]*receiptState),
		presence:  make(map[uuid.UUID]*presenceBatch),
		reactions: make(map[reactionKey]*reactionOp),
	}
}

// SessionLimiter builds the per-session ceiling for ephemeral frames.
func (p *Pipeline) SessionLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(p.cfg.RateLimit), p.cfg.RateLimitBurst)
}

// Typing applies the trailing debounce. A typing-on only fans out if the
// window elapses without the user stopping or sending; a stop before the
// window closes cancels the indicator entirely, so on-off flaps and
// type-then-send bursts emit nothing.
func (p *Pipeline) Typing(ctx context.Context, userID, convID uuid.UUID, on bool) {
	key := convKey{userID, convID}

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.typing[key]
	if on {
		if st == nil {
			st = &typingState{}
			p.typing[key] = st
		}
		if st.active {
			// Keep-alive: push the idle stop out.
			st.autostop.Reset(typingIdle)
			return
		}
		if st.pending != nil {
			metrics.SignalsCoalesced.WithLabelValues("typing").Inc()
			return
		}
		st.pending = time.AfterFunc(p.cfg.TypingDebounce, func() {
			p.emitTyping(key, true)
		})
		return
	}

	p.stopTypingLocked(key, st)
}

// MessageSent ends any typing indicator for the sender in that conversation;
// a pending one is cancelled unemitted.
func (p *Pipeline) MessageSent(userID, convID uuid.UUID) {
	key := convKey{userID, convID}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTypingLocked(key, p.typing[key])
}

func (p *Pipeline) stopTypingLocked(key convKey, st *typingState) {
	if st == nil {
		return
	}
	if st.pending != nil {
		st.pending.Stop()
		metrics.SignalsCoalesced.WithLabelValues("typing").Inc()
		delete(p.typing, key)
		return
	}
	if st.active {
		if st.autostop != nil {
			st.autostop.Stop()
		}
		delete(p.typing, key)
		go p.fanOutTyping(key, false)
	}
}

func (p *Pipeline) emitTyping(key convKey, on bool) {
	p.mu.Lock()
	st, ok := p.typing[key]
	if !ok || st.pending == nil {
		p.mu.Unlock()
		return
	}
	st.pending = nil
	st.active = true
	st.autostop = time.AfterFunc(typingIdle, func() {
		p.typingIdleExpired(key)
	})
	p.mu.Unlock()

	p.fanOutTyping(key, on)
}

func (p *Pipeline) typingIdleExpired(key convKey) {
	p.mu.Lock()
	st, ok := p.typing[key]
	if !ok || !st.active {
		p.mu.Unlock()
		return
	}
	delete(p.typing, key)
	p.mu.Unlock()

	p.fanOutTyping(key, false)
}

func (p *Pipeline) fanOutTyping(key convKey, on bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conv, err := p.router.Conversation(ctx, key.convID)
	if err != nil {
		p.log.Debug("typing fan-out skipped", "conversation_id", key.convID, "error", err)
		return
	}
	kind := event.KindTyping
	if !on {
		kind = event.KindTypingStopped
	}
	payload := &event.TypingPayload{
		ConversationID: key.convID,
		UserID:         key.userID,
		On:             on,
	}
	for _, recipient := range conv.ParticipantIDs(key.userID) {
		ev := event.New(recipient, kind, payload).WithConversation(key.convID)
		p.router.DispatchToUser(ctx, ev)
	}
}

// MarkDelivered persists the client ack and sends the sender's frame
// straight through; delivered acks are low-volume.
func (p *Pipeline) MarkDelivered(ctx context.Context, messageID, recipientID uuid.UUID) error {
	ev, err := p.track.MarkDelivered(ctx, messageID, recipientID)
	if err != nil {
		return err
	}
	if ev != nil {
		p.router.DispatchToUser(ctx, ev)
	}
	return nil
}

// MarkRead persists the read mark immediately and throttles the receipt
// emission per (reader, conversation): the first receipt in a window goes
// out at once, the rest coalesce into one frame per sender at window end.
func (p *Pipeline) MarkRead(ctx context.Context, messageID, readerID uuid.UUID) error {
	ev, err := p.track.MarkRead(ctx, messageID, readerID)
	if err != nil {
		return err
	}
	if ev == nil {
		return nil
	}

	var payload event.StatusPayload
	if !event.DecodePayload(ev, &payload) {
		p.router.DispatchToUser(ctx, ev)
		return nil
	}
	senderID := ev.GetUserID()
	convID := ev.ConversationID
	key := convKey{readerID, convID}

	p.mu.Lock()
	st := p.receipts[key]
	if st == nil {
		st = &receiptState{pending: make(map[uuid.UUID][]uuid.UUID)}
		p.receipts[key] = st
	}
	if time.Since(st.lastEmit) >= p.cfg.ReceiptThrottle {
		st.lastEmit = time.Now()
		p.mu.Unlock()
		p.router.DispatchToUser(ctx, ev)
		return nil
	}

	st.pending[senderID] = append(st.pending[senderID], messageID)
	metrics.SignalsCoalesced.WithLabelValues("receipt").Inc()
	if st.timer == nil {
		st.timer = time.AfterFunc(p.cfg.ReceiptThrottle, func() {
			p.flushReceipts(key)
		})
	}
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) flushReceipts(key convKey) {
	p.mu.Lock()
	st, ok := p.receipts[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	pending := st.pending
	st.pending = make(map[uuid.UUID][]uuid.UUID)
	st.timer = nil
	st.lastEmit = time.Now()
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for senderID, messageIDs := range pending {
		ev := event.New(senderID, event.KindMessageRead, &event.ReadPayload{
			ConversationID: key.convID,
			ReaderID:       key.userID,
			MessageIDs:     messageIDs,
		}).WithConversation(key.convID)
		p.router.DispatchToUser(ctx, ev)
	}
}

type presenceBatch struct {
	// changes holds the net state per user within the window; join-then-
	// leave collapses to nothing by overwrite plus the baseline check.
	changes map[uuid.UUID]bool
	timer   *time.Timer
}

// ConversationPresence batches viewing-state changes per conversation and
// fans the window's net result out in one sweep.
func (p *Pipeline) ConversationPresence(ctx context.Context, userID, convID uuid.UUID, joined bool) {
	p.mu.Lock()
	b := p.presence[convID]
	if b == nil {
		b = &presenceBatch{changes: make(map[uuid.UUID]bool)}
		p.presence[convID] = b
		b.timer = time.AfterFunc(p.cfg.PresenceBatch, func() {
			p.flushPresence(convID)
		})
	}
	if prev, ok := b.changes[userID]; ok && prev != joined {
		// Flap inside the window: net zero, drop both.
		delete(b.changes, userID)
		metrics.SignalsCoalesced.WithLabelValues("conversation_presence").Inc()
	} else {
		b.changes[userID] = joined
	}
	p.mu.Unlock()
}

func (p *Pipeline) flushPresence(convID uuid.UUID) {
	p.mu.Lock()
	b, ok := p.presence[convID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.presence, convID)
	changes := b.changes
	p.mu.Unlock()

	if len(changes) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conv, err := p.router.Conversation(ctx, convID)
	if err != nil {
		p.log.Debug("presence fan-out skipped", "conversation_id", convID, "error", err)
		return
	}
	for userID, joined := range changes {
		payload := &event.ConversationPresencePayload{
			ConversationID: convID,
			UserID:         userID,
			Joined:         joined,
		}
		for _, recipient := range conv.ParticipantIDs(userID) {
			ev := event.New(recipient, event.KindConversationPresence, payload).
				WithConversation(convID)
			p.router.DispatchToUser(ctx, ev)
		}
	}
}

// Reaction debounces toggle flaps: opposite operations on the same triple
// inside the window collapse and only the final state is applied and fanned
// out.
func (p *Pipeline) Reaction(ctx context.Context, userID, messageID uuid.UUID, emoji string, add bool) {
	key := reactionKey{userID, messageID, emoji}

	p.mu.Lock()
	op := p.reactions[key]
	if op != nil {
		op.add = add
		metrics.SignalsCoalesced.WithLabelValues("reaction").Inc()
		p.mu.Unlock()
		return
	}
	op = &reactionOp{add: add}
	op.timer = time.AfterFunc(p.cfg.ReactionBatch, func() {
		p.applyReaction(key)
	})
	p.reactions[key] = op
	p.mu.Unlock()
}

func (p *Pipeline) applyReaction(key reactionKey) {
	p.mu.Lock()
	op, ok := p.reactions[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.reactions, key)
	add := op.add
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var err error
	if add {
		err = p.router.AddReaction(ctx, key.userID, key.messageID, key.emoji)
	} else {
		err = p.router.RemoveReaction(ctx, key.userID, key.messageID, key.emoji)
	}
	if err != nil {
		p.log.Debug("reaction apply failed",
			"message_id", key.messageID, "emoji", key.emoji, "error", err)
	}
}
