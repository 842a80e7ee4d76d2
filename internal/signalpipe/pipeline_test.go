package signalpipe

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/infra/pubsub"
	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/chatmesh/chatmesh/internal/domain/registry"
	"github.com/chatmesh/chatmesh/internal/router"
	"github.com/chatmesh/chatmesh/internal/store"
)

type noPresence struct{}

func (noPresence) IsOnline(context.Context, uuid.UUID) (bool, error) { return false, nil }

type noOffline struct{}

func (noOffline) Enqueue(context.Context, *event.Event) error { return nil }

type noPush struct{}

func (noPush) Notify(context.Context, *event.Event) {}

type noSent struct{}

func (noSent) MarkSent(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) (*event.Event, error) {
	return nil, nil
}

// scriptedTracker returns a canned status event per MarkRead call.
type scriptedTracker struct {
	mu    sync.Mutex
	reads []uuid.UUID
	emit  func(messageID, readerID uuid.UUID) *event.Event
}

func (f *scriptedTracker) MarkRead(_ context.Context, messageID, readerID uuid.UUID) (*event.Event, error) {
	f.mu.Lock()
	f.reads = append(f.reads, messageID)
	f.mu.Unlock()
	if f.emit != nil {
		return f.emit(messageID, readerID), nil
	}
	return nil, nil
}

func (f *scriptedTracker) MarkDelivered(_ context.Context, messageID, _ uuid.UUID) (*event.Event, error) {
	return nil, nil
}

func (f *scriptedTracker) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads)
}

type sink struct {
	id     uuid.UUID
	userID uuid.UUID

	mu     sync.Mutex
	events []event.Eventer
}

func newSink(userID uuid.UUID) *sink {
	return &sink{id: uuid.New(), userID: userID}
}

func (s *sink) GetID() uuid.UUID     { return s.id }
func (s *sink) GetUserID() uuid.UUID { return s.userID }
func (s *sink) Send(ev event.Eventer, _ time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}
func (s *sink) Recv() <-chan event.Eventer { return nil }
func (s *sink) Done() <-chan struct{}      { return nil }
func (s *sink) Dropped() uint64            { return 0 }
func (s *sink) Close()                     {}

func (s *sink) all() []event.Eventer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Eventer(nil), s.events...)
}

func (s *sink) countKind(k event.Kind) int {
	n := 0
	for _, ev := range s.all() {
		if ev.GetKind() == k {
			n++
		}
	}
	return n
}

type harness struct {
	pipeline *Pipeline
	router   *router.Router
	repo     *store.Memory
	hub      *registry.Hub
	tracker  *scriptedTracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	provider := pubsub.NewLocal(log)
	t.Cleanup(func() { _ = provider.Close() })

	hub := registry.NewHub(registry.WithMailboxSize(64), registry.WithSendTimeout(50*time.Millisecond))
	t.Cleanup(hub.Shutdown)

	repo := store.NewMemory()
	r := router.NewRouter(
		config.RouterConfig{ParticipantTTL: time.Minute, ParticipantSize: 128},
		repo, hub, pubsub.NewEventDispatcher(provider),
		noPresence{}, noOffline{}, noPush{}, noSent{}, log,
	)
	tracker := &scriptedTracker{}
	p := NewPipeline(config.SignalConfig{
		TypingDebounce:  30 * time.Millisecond,
		ReceiptThrottle: 60 * time.Millisecond,
		PresenceBatch:   30 * time.Millisecond,
		ReactionBatch:   30 * time.Millisecond,
		RateLimit:       100,
		RateLimitBurst:  200,
	}, r, tracker, log)

	return &harness{pipeline: p, router: r, repo: repo, hub: hub, tracker: tracker}
}

func (h *harness) seedConversation(t *testing.T, members ...uuid.UUID) *model.Conversation {
	t.Helper()
	conv := &model.Conversation{ID: uuid.New(), Kind: model.ConversationGroup, CreatedAt: time.Now().UTC()}
	for _, id := range members {
		conv.Participants = append(conv.Participants, model.Participant{UserID: id})
	}
	require.NoError(t, h.repo.CreateConversation(context.Background(), conv))
	return conv
}

func TestTypingEmitsAfterDebounceWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	typer, watcher := uuid.New(), uuid.New()
	conv := h.seedConversation(t, typer, watcher)

	watcherConn := newSink(watcher)
	h.hub.Register(watcherConn)

	h.pipeline.Typing(ctx, typer, conv.ID, true)

	require.Eventually(t, func() bool {
		return watcherConn.countKind(event.KindTyping) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTypingFlapEmitsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	typer, watcher := uuid.New(), uuid.New()
	conv := h.seedConversation(t, typer, watcher)

	watcherConn := newSink(watcher)
	h.hub.Register(watcherConn)

	// On then off inside the debounce window: the indicator never leaves.
	h.pipeline.Typing(ctx, typer, conv.ID, true)
	h.pipeline.Typing(ctx, typer, conv.ID, false)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, watcherConn.countKind(event.KindTyping))
	assert.Zero(t, watcherConn.countKind(event.KindTypingStopped))
}

func TestTypingCancelledBySend(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	typer, watcher := uuid.New(), uuid.New()
	conv := h.seedConversation(t, typer, watcher)

	watcherConn := newSink(watcher)
	h.hub.Register(watcherConn)

	h.pipeline.Typing(ctx, typer, conv.ID, true)
	h.pipeline.MessageSent(typer, conv.ID)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, watcherConn.countKind(event.KindTyping))
}

func TestActiveTypingStopFansOutStopped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	typer, watcher := uuid.New(), uuid.New()
	conv := h.seedConversation(t, typer, watcher)

	watcherConn := newSink(watcher)
	h.hub.Register(watcherConn)

	h.pipeline.Typing(ctx, typer, conv.ID, true)
	require.Eventually(t, func() bool {
		return watcherConn.countKind(event.KindTyping) == 1
	}, time.Second, 5*time.Millisecond)

	h.pipeline.Typing(ctx, typer, conv.ID, false)
	require.Eventually(t, func() bool {
		return watcherConn.countKind(event.KindTypingStopped) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestReadReceiptsThrottleAndCoalesce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sender, reader := uuid.New(), uuid.New()
	convID := uuid.New()

	h.tracker.emit = func(messageID, readerID uuid.UUID) *event.Event {
		return event.New(sender, event.KindMessageStatus, &event.StatusPayload{
			MessageID:   messageID,
			RecipientID: readerID,
			State:       model.DeliveryRead,
		}).WithConversation(convID)
	}

	senderConn := newSink(sender)
	h.hub.Register(senderConn)

	// First receipt in the window passes straight through.
	require.NoError(t, h.pipeline.MarkRead(ctx, uuid.New(), reader))
	require.Eventually(t, func() bool {
		return senderConn.countKind(event.KindMessageStatus) == 1
	}, time.Second, 5*time.Millisecond)

	// The burst coalesces into one frame at window end.
	second, third := uuid.New(), uuid.New()
	require.NoError(t, h.pipeline.MarkRead(ctx, second, reader))
	require.NoError(t, h.pipeline.MarkRead(ctx, third, reader))

	require.Eventually(t, func() bool {
		return senderConn.countKind(event.KindMessageRead) == 1
	}, time.Second, 5*time.Millisecond)

	var coalesced *event.Event
	for _, ev := range senderConn.all() {
		if ev.GetKind() == event.KindMessageRead {
			coalesced = ev.(*event.Event)
		}
	}
	var payload event.ReadPayload
	require.True(t, event.DecodePayload(coalesced, &payload))
	assert.Equal(t, reader, payload.ReaderID)
	assert.ElementsMatch(t, []uuid.UUID{second, third}, payload.MessageIDs)

	// Every read mark persisted regardless of throttling.
	assert.Equal(t, 3, h.tracker.readCount())
}

func TestConversationPresenceFlapCollapses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	viewer, other := uuid.New(), uuid.New()
	conv := h.seedConversation(t, viewer, other)

	otherConn := newSink(other)
	h.hub.Register(otherConn)

	h.pipeline.ConversationPresence(ctx, viewer, conv.ID, true)
	h.pipeline.ConversationPresence(ctx, viewer, conv.ID, false)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, otherConn.countKind(event.KindConversationPresence))
}

func TestConversationPresenceJoinFansOut(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	viewer, other := uuid.New(), uuid.New()
	conv := h.seedConversation(t, viewer, other)

	otherConn := newSink(other)
	h.hub.Register(otherConn)

	h.pipeline.ConversationPresence(ctx, viewer, conv.ID, true)

	require.Eventually(t, func() bool {
		return otherConn.countKind(event.KindConversationPresence) == 1
	}, time.Second, 5*time.Millisecond)

	var payload event.ConversationPresencePayload
	for _, ev := range otherConn.all() {
		if ev.GetKind() == event.KindConversationPresence {
			require.True(t, event.DecodePayload(ev.(*event.Event), &payload))
		}
	}
	assert.Equal(t, viewer, payload.UserID)
	assert.True(t, payload.Joined)
}

func TestReactionFlapAppliesFinalStateOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sender, reactor := uuid.New(), uuid.New()
	conv := h.seedConversation(t, sender, reactor)

	m := &model.Message{ID: uuid.New(), ConversationID: conv.ID, Content: "hey"}
	_, err := h.router.SendMessage(ctx, sender, m)
	require.NoError(t, err)

	// Add then remove inside the window: net zero.
	h.pipeline.Reaction(ctx, reactor, m.ID, "👍", true)
	h.pipeline.Reaction(ctx, reactor, m.ID, "👍", false)

	time.Sleep(100 * time.Millisecond)
	reactions, err := h.repo.ListReactions(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, reactions)

	// A lone add lands after the window.
	h.pipeline.Reaction(ctx, reactor, m.ID, "👍", true)
	require.Eventually(t, func() bool {
		reactions, err := h.repo.ListReactions(ctx, m.ID)
		return err == nil && len(reactions) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSessionLimiterHonoursConfiguredRate(t *testing.T) {
	h := newHarness(t)
	limiter := h.pipeline.SessionLimiter()
	require.NotNil(t, limiter)
	assert.True(t, limiter.Allow())
}
