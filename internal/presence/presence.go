// Package presence tracks user availability across sessions and nodes.
//
// Local truth lives in per-user state guarded by one mutex; cross-node
// visibility goes through the shared cache under presence:{user} keys. A
// short grace window on disconnect suppresses status flicker from transport
// drops, and sustained inactivity demotes online users to away.
package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/infra/pubsub"
	"github.com/chatmesh/chatmesh/internal/cache"
	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/chatmesh/chatmesh/internal/domain/registry"
	"github.com/chatmesh/chatmesh/internal/store"
)

const cacheTTL = 90 * time.Second

func cacheKey(userID uuid.UUID) string { return "presence:" + userID.String() }

type cacheEntry struct {
	Status     model.PresenceStatus `json:"status"`
	Custom     *model.CustomStatus  `json:"custom,omitempty"`
	LastActive int64                `json:"lastActive"`
}

type userState struct {
	sessions map[uuid.UUID]struct{}
	// status is the manual status when manual is set, otherwise derived.
	status     model.PresenceStatus
	custom     *model.CustomStatus
	manual     bool
	lastActive time.Time
	away       bool
	graceTimer *time.Timer
}

// effective folds the away demotion into the reported status. Manual
// statuses (busy, custom) are never demoted.
func (u *userState) effective() model.PresenceStatus {
	if len(u.sessions) == 0 {
		return model.StatusOffline
	}
	if u.manual {
		return u.status
	}
	if u.away {
		return model.StatusAway
	}
	return model.StatusOnline
}

type Registry struct {
	mu    sync.Mutex
	users map[uuid.UUID]*userState

	repo       store.Repository
	cache      cache.Cache
	hub        registry.Hubber
	dispatcher pubsub.EventDispatcher
	log        *slog.Logger

	grace     time.Duration
	awayAfter time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

func NewRegistry(cfg config.PresenceConfig, repo store.Repository, c cache.Cache, hub registry.Hubber, dispatcher pubsub.EventDispatcher, log *slog.Logger) *Registry {
	r := &Registry{
		users:      make(map[uuid.UUID]*userState),
		repo:       repo,
		cache:      c,
		hub:        hub,
		dispatcher: dispatcher,
		log:        log.With("component", "presence"),
		grace:      cfg.Grace,
		awayAfter:  cfg.AwayAfter,
		done:       make(chan struct{}),
	}
	go r.awayLoop()
	return r
}

// SessionOpened registers a live session. The first session of a user (or a
// reconnect inside the grace window) broadcasts the user's status to peers.
func (r *Registry) SessionOpened(ctx context.Context, userID, sessionID uuid.UUID) {
	r.mu.Lock()
	u, ok := r.users[userID]
	if !ok {
		u = &userState{sessions: make(map[uuid.UUID]struct{})}
		r.users[userID] = u
	}
	if u.graceTimer != nil {
		u.graceTimer.Stop()
		u.graceTimer = nil
	}
	wasOffline := len(u.sessions) == 0
	u.sessions[sessionID] = struct{}{}
	u.lastActive = time.Now()
	u.away = false
	status := u.effective()
	custom := u.custom
	r.mu.Unlock()

	if wasOffline {
		r.publish(ctx, userID, status, custom)
	} else {
		// Additional device: refresh the cache lease only.
		r.writeCache(ctx, userID, status, custom)
	}
}

// SessionClosed drops the session. When it was the last one, the offline
// broadcast is deferred by the grace window so a reconnecting client keeps
// its visible status.
func (r *Registry) SessionClosed(ctx context.Context, userID, sessionID uuid.UUID) {
	r.mu.Lock()
	u, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(u.sessions, sessionID)
	if len(u.sessions) > 0 {
		r.mu.Unlock()
		return
	}
	if u.graceTimer != nil {
		u.graceTimer.Stop()
	}
	u.graceTimer = time.AfterFunc(r.grace, func() {
		r.graceExpired(userID)
	})
	r.mu.Unlock()
}

func (r *Registry) graceExpired(userID uuid.UUID) {
	r.mu.Lock()
	u, ok := r.users[userID]
	if !ok || len(u.sessions) > 0 {
		r.mu.Unlock()
		return
	}
	custom := u.custom
	delete(r.users, userID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.publish(ctx, userID, model.StatusOffline, custom)
}

// SetStatus applies a manual status. Online clears the manual flag and
// returns the user to derived tracking.
func (r *Registry) SetStatus(ctx context.Context, userID uuid.UUID, status model.PresenceStatus, custom *model.CustomStatus) error {
	if !status.Valid() {
		return model.NewError(model.CodeBadRequest, "invalid status")
	}
	if status != model.StatusCustom {
		custom = nil
	}

	r.mu.Lock()
	u, ok := r.users[userID]
	if ok {
		u.status = status
		u.custom = custom
		u.manual = status == model.StatusBusy || status == model.StatusCustom
		u.away = false
		u.lastActive = time.Now()
	}
	r.mu.Unlock()

	if err := r.repo.UpdateUserStatus(ctx, userID, status, custom); err != nil {
		return err
	}
	if err := r.repo.RecordStatusChange(ctx, userID, status, custom); err != nil {
		r.log.Warn("status history write failed", "error", err)
	}

	r.publish(ctx, userID, status, custom)
	return nil
}

// Touch records user activity; away users are promoted back to online.
func (r *Registry) Touch(ctx context.Context, userID uuid.UUID) {
	r.mu.Lock()
	u, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	u.lastActive = time.Now()
	wasAway := u.away && !u.manual
	u.away = false
	status := u.effective()
	custom := u.custom
	r.mu.Unlock()

	if wasAway {
		r.publish(ctx, userID, status, custom)
	}
}

// Snapshot resolves presence for the given users: local state first, then
// the shared cache for users on other nodes. A cache failure degrades those
// users to unknown, never to a false offline.
func (r *Registry) Snapshot(ctx context.Context, userIDs []uuid.UUID) []model.Presence {
	out := make([]model.Presence, 0, len(userIDs))
	var remote []uuid.UUID

	r.mu.Lock()
	for _, id := range userIDs {
		if u, ok := r.users[id]; ok && len(u.sessions) > 0 {
			out = append(out, model.Presence{
				UserID:     id,
				Status:     u.effective(),
				Custom:     u.custom,
				LastActive: u.lastActive,
			})
			continue
		}
		remote = append(remote, id)
	}
	r.mu.Unlock()

	if len(remote) == 0 {
		return out
	}

	keys := make([]string, len(remote))
	for i, id := range remote {
		keys[i] = cacheKey(id)
	}
	values, err := r.cache.MGet(ctx, keys...)
	if err != nil {
		r.log.Warn("presence cache unavailable", "error", err)
		for _, id := range remote {
			out = append(out, model.Presence{UserID: id, Status: model.StatusUnknown})
		}
		return out
	}

	for i, id := range remote {
		p := model.Presence{UserID: id, Status: model.StatusOffline}
		if values[i] != "" {
			var entry cacheEntry
			if err := json.Unmarshal([]byte(values[i]), &entry); err == nil {
				p.Status = entry.Status
				p.Custom = entry.Custom
				p.LastActive = time.UnixMilli(entry.LastActive)
			}
		}
		out = append(out, p)
	}
	return out
}

// IsOnline reports whether the user has a live session on any node.
func (r *Registry) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	if r.hub.IsConnected(userID) {
		return true, nil
	}
	val, err := r.cache.Get(ctx, cacheKey(userID))
	if err != nil {
		if err == cache.ErrMiss {
			return false, nil
		}
		return false, err
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return false, nil
	}
	return entry.Status != model.StatusOffline, nil
}

// publish writes the cache entry and fans the status change out to every
// user sharing a conversation with the subject. Presence is ephemeral: it is
// delivered to live sessions (local or via the bus) and never queued.
func (r *Registry) publish(ctx context.Context, userID uuid.UUID, status model.PresenceStatus, custom *model.CustomStatus) {
	r.writeCache(ctx, userID, status, custom)

	peers, err := r.repo.PeersOf(ctx, userID)
	if err != nil {
		r.log.Error("peer lookup failed", "user_id", userID, "error", err)
		return
	}

	payload := model.Presence{
		UserID:     userID,
		Status:     status,
		Custom:     custom,
		LastActive: time.Now(),
	}
	for _, peer := range peers {
		ev := event.New(peer, event.KindUserStatus, payload)
		if r.hub.Broadcast(ev) {
			continue
		}
		if err := r.dispatcher.Publish(ctx, ev); err != nil {
			r.log.Warn("presence export failed", "peer", peer, "error", err)
		}
	}
}

func (r *Registry) writeCache(ctx context.Context, userID uuid.UUID, status model.PresenceStatus, custom *model.CustomStatus) {
	entry := cacheEntry{
		Status:     status,
		Custom:     custom,
		LastActive: time.Now().UnixMilli(),
	}
	raw, _ := json.Marshal(entry)
	if status == model.StatusOffline {
		if err := r.cache.Delete(ctx, cacheKey(userID)); err != nil {
			r.log.Warn("presence cache delete failed", "error", err)
		}
		return
	}
	if err := r.cache.Set(ctx, cacheKey(userID), string(raw), cacheTTL); err != nil {
		r.log.Warn("presence cache write failed", "error", err)
	}
}

// awayLoop demotes users whose last activity is older than the away window.
func (r *Registry) awayLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweepAway()
		}
	}
}

func (r *Registry) sweepAway() {
	type demotion struct {
		userID uuid.UUID
		custom *model.CustomStatus
	}
	var demoted []demotion

	r.mu.Lock()
	for id, u := range r.users {
		if len(u.sessions) == 0 || u.manual || u.away {
			continue
		}
		if time.Since(u.lastActive) >= r.awayAfter {
			u.away = true
			demoted = append(demoted, demotion{userID: id, custom: u.custom})
		}
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, d := range demoted {
		r.publish(ctx, d.userID, model.StatusAway, d.custom)
	}
}

func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}
