package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/google/uuid"
)

// Memory implements Repository entirely in process. It backs MOCK_DATABASE
// dev mode and the component tests. Locking is one coarse mutex; the fake
// optimizes for correctness, not throughput.
type Memory struct {
	mu sync.Mutex

	users      map[uuid.UUID]*memUser
	convs      map[uuid.UUID]*model.Conversation
	messages   map[uuid.UUID]*memMessage
	reactions  map[uuid.UUID][]*model.Reaction
	reads      map[readKey]time.Time
	delivery   map[readKey]*model.DeliveryRecord
	offline    map[uuid.UUID][]*OfflineItem
	offlineSeq int64
	pushSubs   map[uuid.UUID]*model.PushSubscription
	settings   map[uuid.UUID]*model.NotificationSettings
	history    []memNotification
	statusLog  []memStatusChange
}

type memUser struct {
	user model.User
	hash string
}

type memMessage struct {
	msg     model.Message
	deleted bool
}

type readKey struct {
	messageID uuid.UUID
	userID    uuid.UUID
}

type memNotification struct {
	intent  model.PushIntent
	outcome string
	at      time.Time
}

type memStatusChange struct {
	userID uuid.UUID
	status model.PresenceStatus
	custom *model.CustomStatus
	at     time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[uuid.UUID]*memUser),
		convs:     make(map[uuid.UUID]*model.Conversation),
		messages:  make(map[uuid.UUID]*memMessage),
		reactions: make(map[uuid.UUID][]*model.Reaction),
		reads:     make(map[readKey]time.Time),
		delivery:  make(map[readKey]*model.DeliveryRecord),
		offline:   make(map[uuid.UUID][]*OfflineItem),
		pushSubs:  make(map[uuid.UUID]*model.PushSubscription),
		settings:  make(map[uuid.UUID]*model.NotificationSettings),
	}
}

var _ Repository = (*Memory)(nil)

// WithTx is a no-op wrapper: the fake has no transactional semantics.
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *Memory) CreateUser(_ context.Context, u *model.User, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.user.Handle == u.Handle {
			return model.NewError(model.CodeConflict, "handle already taken")
		}
	}
	cp := *u
	m.users[u.ID] = &memUser{user: cp, hash: passwordHash}
	return nil
}

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.users[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := mu.user
	return &cp, nil
}

func (m *Memory) GetUserByHandle(_ context.Context, handle string) (*model.User, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mu := range m.users {
		if mu.user.Handle == handle {
			cp := mu.user
			return &cp, mu.hash, nil
		}
	}
	return nil, "", model.ErrNotFound
}

func (m *Memory) UpdateUserStatus(_ context.Context, id uuid.UUID, status model.PresenceStatus, custom *model.CustomStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.users[id]
	if !ok {
		return model.ErrNotFound
	}
	mu.user.Status = status
	mu.user.Custom = custom
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return model.ErrNotFound
	}
	delete(m.users, id)
	for _, c := range m.convs {
		for i, p := range c.Participants {
			if p.UserID == id {
				c.Participants = append(c.Participants[:i], c.Participants[i+1:]...)
				break
			}
		}
	}
	delete(m.offline, id)
	delete(m.settings, id)
	for sid, sub := range m.pushSubs {
		if sub.UserID == id {
			delete(m.pushSubs, sid)
		}
	}
	return nil
}

func (m *Memory) CreateConversation(_ context.Context, c *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[c.ID]; ok {
		return model.NewError(model.CodeConflict, "duplicate conversation id")
	}
	cp := *c
	cp.Participants = append([]model.Participant(nil), c.Participants...)
	m.convs[c.ID] = &cp
	return nil
}

func (m *Memory) GetConversation(_ context.Context, id uuid.UUID) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getConversationLocked(id)
}

func (m *Memory) getConversationLocked(id uuid.UUID) (*model.Conversation, error) {
	c, ok := m.convs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *c
	cp.Participants = append([]model.Participant(nil), c.Participants...)
	return &cp, nil
}

func (m *Memory) FindDirectConversation(_ context.Context, a, b uuid.UUID) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.convs {
		if c.Kind != model.ConversationDirect {
			continue
		}
		if c.HasParticipant(a) && c.HasParticipant(b) {
			return m.getConversationLocked(id)
		}
	}
	return nil, model.ErrNotFound
}

func (m *Memory) ListConversations(_ context.Context, userID uuid.UUID) ([]*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Conversation
	for id, c := range m.convs {
		if c.HasParticipant(userID) {
			cp, _ := m.getConversationLocked(id)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (m *Memory) PeersOf(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	for _, c := range m.convs {
		if !c.HasParticipant(userID) {
			continue
		}
		for _, p := range c.Participants {
			if p.UserID != userID {
				seen[p.UserID] = true
			}
		}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

func (m *Memory) RenameConversation(_ context.Context, id uuid.UUID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.Kind != model.ConversationGroup {
		return model.ErrNotFound
	}
	c.Name = name
	return nil
}

func (m *Memory) AddParticipant(_ context.Context, convID, userID uuid.UUID, isAdmin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[convID]
	if !ok {
		return model.ErrNotFound
	}
	if c.HasParticipant(userID) {
		return nil
	}
	c.Participants = append(c.Participants, model.Participant{
		UserID:   userID,
		IsAdmin:  isAdmin,
		JoinedAt: time.Now().UTC(),
	})
	return nil
}

func (m *Memory) RemoveParticipant(_ context.Context, convID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[convID]
	if !ok {
		return model.ErrNotFound
	}
	for i, p := range c.Participants {
		if p.UserID == userID {
			c.Participants = append(c.Participants[:i], c.Participants[i+1:]...)
			return nil
		}
	}
	return model.ErrNotFound
}

func (m *Memory) TouchConversation(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return model.ErrNotFound
	}
	if at.After(c.LastActivity) {
		c.LastActivity = at
	}
	return nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; ok {
		return model.NewError(model.CodeConflict, "duplicate message id")
	}
	cp := *msg
	m.messages[msg.ID] = &memMessage{msg: cp}
	return nil
}

func (m *Memory) GetMessage(_ context.Context, id uuid.UUID) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mm, ok := m.messages[id]
	if !ok || mm.deleted {
		return nil, model.ErrNotFound
	}
	cp := mm.msg
	return &cp, nil
}

func (m *Memory) ListMessages(_ context.Context, convID uuid.UUID, before time.Time, limit int) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Message
	for _, mm := range m.messages {
		if mm.deleted || mm.msg.ConversationID != convID || !mm.msg.CreatedAt.Before(before) {
			continue
		}
		cp := mm.msg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkMessageDeleted(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mm, ok := m.messages[id]
	if !ok || mm.deleted {
		return model.ErrNotFound
	}
	mm.deleted = true
	return nil
}

func (m *Memory) AddReaction(_ context.Context, r *model.Reaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reactions[r.MessageID] {
		if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			return false, nil
		}
	}
	cp := *r
	m.reactions[r.MessageID] = append(m.reactions[r.MessageID], &cp)
	return true, nil
}

func (m *Memory) RemoveReaction(_ context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.reactions[messageID]
	for i, r := range list {
		if r.UserID == userID && r.Emoji == emoji {
			m.reactions[messageID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListReactions(_ context.Context, messageID uuid.UUID) ([]*model.Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.reactions[messageID]
	out := make([]*model.Reaction, 0, len(list))
	for _, r := range list {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) MarkMessageRead(_ context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := readKey{messageID, userID}
	if _, ok := m.reads[key]; ok {
		return false, nil
	}
	m.reads[key] = at
	return true, nil
}

func (m *Memory) MarkConversationRead(_ context.Context, convID, userID uuid.UUID, upTo time.Time) ([]ReadPromotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []*memMessage
	for _, mm := range m.messages {
		if mm.deleted || mm.msg.ConversationID != convID || mm.msg.SenderID == userID {
			continue
		}
		if mm.msg.CreatedAt.After(upTo) {
			continue
		}
		candidates = append(candidates, mm)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].msg.CreatedAt.Before(candidates[j].msg.CreatedAt)
	})
	var out []ReadPromotion
	now := time.Now().UTC()
	for _, mm := range candidates {
		key := readKey{mm.msg.ID, userID}
		if _, ok := m.reads[key]; ok {
			continue
		}
		m.reads[key] = now
		out = append(out, ReadPromotion{
			MessageID:       mm.msg.ID,
			SenderID:        mm.msg.SenderID,
			ReceiptsEnabled: mm.msg.ReadReceiptsEnabled,
		})
	}
	return out, nil
}

func (m *Memory) UnreadCount(_ context.Context, convID, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mm := range m.messages {
		if mm.deleted || mm.msg.ConversationID != convID || mm.msg.SenderID == userID {
			continue
		}
		if _, ok := m.reads[readKey{mm.msg.ID, userID}]; !ok {
			n++
		}
	}
	return n, nil
}

func (m *Memory) AdvanceDelivery(_ context.Context, messageID, userID uuid.UUID, state model.DeliveryState, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := readKey{messageID, userID}
	if cur, ok := m.delivery[k]; ok && cur.State.Rank() >= state.Rank() {
		return false, nil
	}
	m.delivery[k] = &model.DeliveryRecord{
		MessageID:   messageID,
		RecipientID: userID,
		State:       state,
		UpdatedAt:   at,
	}
	return true, nil
}

func (m *Memory) GetDelivery(_ context.Context, messageID, userID uuid.UUID) (*model.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.delivery[readKey{messageID, userID}]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) EnqueueOffline(_ context.Context, it *OfflineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offlineSeq++
	it.ID = m.offlineSeq
	cp := *it
	m.offline[it.UserID] = append(m.offline[it.UserID], &cp)
	return nil
}

func (m *Memory) OfflineCounts(_ context.Context, userID uuid.UUID) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var messages, others int
	for _, it := range m.offline[userID] {
		if it.IsMessage() {
			messages++
		} else {
			others++
		}
	}
	return messages, others, nil
}

func (m *Memory) ListOffline(_ context.Context, userID uuid.UUID, limit int) ([]*OfflineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.offline[userID]
	if len(list) > limit {
		list = list[:limit]
	}
	out := make([]*OfflineItem, 0, len(list))
	for _, it := range list {
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) DeleteOffline(_ context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	for userID, list := range m.offline {
		kept := list[:0]
		for _, it := range list {
			if !drop[it.ID] {
				kept = append(kept, it)
			}
		}
		m.offline[userID] = kept
	}
	return nil
}

func (m *Memory) DropOldestEphemeral(_ context.Context, userID uuid.UUID, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.offline[userID]
	kept := list[:0]
	dropped := 0
	for _, it := range list {
		if dropped < n && !it.IsMessage() {
			dropped++
			continue
		}
		kept = append(kept, it)
	}
	m.offline[userID] = kept
	return dropped, nil
}

func (m *Memory) SavePushSubscription(_ context.Context, sub *model.PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.pushSubs {
		if existing.UserID == sub.UserID && existing.Endpoint == sub.Endpoint {
			existing.Keys = sub.Keys
			existing.UserAgent = sub.UserAgent
			return nil
		}
	}
	cp := *sub
	m.pushSubs[sub.ID] = &cp
	return nil
}

func (m *Memory) DeletePushSubscription(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pushSubs[id]; !ok {
		return model.ErrNotFound
	}
	delete(m.pushSubs, id)
	return nil
}

func (m *Memory) DeletePushSubscriptionByEndpoint(_ context.Context, userID uuid.UUID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.pushSubs {
		if sub.UserID == userID && sub.Endpoint == endpoint {
			delete(m.pushSubs, id)
			return nil
		}
	}
	return model.ErrNotFound
}

func (m *Memory) ListPushSubscriptions(_ context.Context, userID uuid.UUID) ([]*model.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PushSubscription
	for _, sub := range m.pushSubs {
		if sub.UserID == userID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) GetNotificationSettings(_ context.Context, userID uuid.UUID) (*model.NotificationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.settings[userID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *set
	return &cp, nil
}

func (m *Memory) SaveNotificationSettings(_ context.Context, set *model.NotificationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *set
	m.settings[set.UserID] = &cp
	return nil
}

func (m *Memory) RecordNotification(_ context.Context, intent *model.PushIntent, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, memNotification{
		intent:  *intent,
		outcome: outcome,
		at:      time.Now().UTC(),
	})
	return nil
}

func (m *Memory) RecordStatusChange(_ context.Context, userID uuid.UUID, status model.PresenceStatus, custom *model.CustomStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusLog = append(m.statusLog, memStatusChange{
		userID: userID,
		status: status,
		custom: custom,
		at:     time.Now().UTC(),
	})
	return nil
}

// Migrate satisfies the startup hook; the fake has no schema.
func (m *Memory) Migrate(context.Context) error { return nil }
