// Package delivery tracks per-(message, recipient) delivery state.
//
// The repository is the arbiter: transitions go through a rank-guarded
// upsert, so reports racing in from different nodes or devices cannot move
// a record backward. Transitions are strictly monotonic (queued, sent,
// delivered, read) and idempotent: a repeated or regressive report changes
// nothing and emits nothing. The shared cache holds a hint that
// short-circuits repeated reports before they reach the database. The
// tracker never dispatches; callers route the returned status frames so the
// emission shares the normal recipient-resolution path.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/chatmesh/internal/cache"
	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/chatmesh/chatmesh/internal/metrics"
	"github.com/chatmesh/chatmesh/internal/store"
)

// recordTTL keeps the cache hint around long enough for late acks without
// growing the cache unboundedly.
const recordTTL = 7 * 24 * time.Hour

func recordKey(messageID, recipientID uuid.UUID) string {
	return "delivery:" + messageID.String() + ":" + recipientID.String()
}

type Tracker struct {
	cache cache.Cache
	repo  store.Repository
	log   *slog.Logger
}

func NewTracker(c cache.Cache, repo store.Repository, log *slog.Logger) *Tracker {
	return &Tracker{cache: c, repo: repo, log: log.With("component", "delivery")}
}

type record struct {
	State     model.DeliveryState `json:"state"`
	UpdatedAt int64               `json:"updatedAt"`
}

// advance moves the record forward to target; reports false when the stored
// state already ranks at or above it. The cache can only under-report (a
// node may hold a stale, lower state), so a cache hit at or above target is
// proof the transition already happened somewhere.
func (t *Tracker) advance(ctx context.Context, messageID, recipientID uuid.UUID, target model.DeliveryState) (bool, error) {
	key := recordKey(messageID, recipientID)
	if raw, err := t.cache.Get(ctx, key); err == nil {
		var rec record
		if json.Unmarshal([]byte(raw), &rec) == nil && rec.State.Rank() >= target.Rank() {
			return false, nil
		}
	} else if err != cache.ErrMiss {
		// Degraded cache just means every report hits the repository.
		t.log.Warn("delivery hint read failed", "error", err)
	}

	advanced, err := t.repo.AdvanceDelivery(ctx, messageID, recipientID, target, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("delivery advance: %w", err)
	}
	if !advanced {
		return false, nil
	}

	raw, _ := json.Marshal(record{State: target, UpdatedAt: time.Now().UnixMilli()})
	if err := t.cache.Set(ctx, key, string(raw), recordTTL); err != nil {
		t.log.Warn("delivery hint write failed", "error", err)
	}
	metrics.DeliveryTransitions.WithLabelValues(string(target)).Inc()
	return true, nil
}

// Record returns the tracked state, queued when nothing is recorded yet.
func (t *Tracker) Record(ctx context.Context, messageID, recipientID uuid.UUID) (*model.DeliveryRecord, error) {
	rec, err := t.repo.GetDelivery(ctx, messageID, recipientID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	return &model.DeliveryRecord{
		MessageID:   messageID,
		RecipientID: recipientID,
		State:       model.DeliveryQueued,
	}, nil
}

// MarkSent records that the message reached the recipient's live session
// feed. The returned event is the sender's status frame, nil on a repeat.
func (t *Tracker) MarkSent(ctx context.Context, messageID, recipientID, senderID uuid.UUID) (*event.Event, error) {
	changed, err := t.advance(ctx, messageID, recipientID, model.DeliverySent)
	if err != nil || !changed {
		return nil, err
	}
	return t.statusEvent(messageID, recipientID, senderID, model.DeliverySent), nil
}

// MarkDelivered records the client's receive acknowledgement.
func (t *Tracker) MarkDelivered(ctx context.Context, messageID, recipientID uuid.UUID) (*event.Event, error) {
	m, err := t.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID == recipientID {
		return nil, nil
	}
	changed, err := t.advance(ctx, messageID, recipientID, model.DeliveryDelivered)
	if err != nil || !changed {
		return nil, err
	}
	ev := t.statusEvent(messageID, recipientID, m.SenderID, model.DeliveryDelivered)
	return ev.WithConversation(m.ConversationID), nil
}

// MarkRead records a single-message read. The read mark always persists;
// the sender's receipt is withheld when the message has receipts disabled.
func (t *Tracker) MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*event.Event, error) {
	m, err := t.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID == readerID {
		return nil, nil
	}

	fresh, err := t.repo.MarkMessageRead(ctx, messageID, readerID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	changed, err := t.advance(ctx, messageID, readerID, model.DeliveryRead)
	if err != nil {
		return nil, err
	}
	if !fresh && !changed {
		return nil, nil
	}
	if !m.ReadReceiptsEnabled {
		return nil, nil
	}
	ev := t.statusEvent(messageID, readerID, m.SenderID, model.DeliveryRead)
	return ev.WithConversation(m.ConversationID), nil
}

// MarkConversationRead promotes everything unread up to the watermark and
// returns one coalesced message-read frame per distinct sender, plus the
// reader's own badge frame so their other devices reconcile unread state.
func (t *Tracker) MarkConversationRead(ctx context.Context, convID, readerID uuid.UUID, upTo time.Time) ([]*event.Event, error) {
	promotions, err := t.repo.MarkConversationRead(ctx, convID, readerID, upTo)
	if err != nil {
		return nil, err
	}

	bySender := make(map[uuid.UUID][]uuid.UUID)
	var order []uuid.UUID
	for _, p := range promotions {
		if _, err := t.advance(ctx, p.MessageID, readerID, model.DeliveryRead); err != nil {
			t.log.Warn("read advance failed", "message_id", p.MessageID, "error", err)
		}
		if !p.ReceiptsEnabled {
			continue
		}
		if _, ok := bySender[p.SenderID]; !ok {
			order = append(order, p.SenderID)
		}
		bySender[p.SenderID] = append(bySender[p.SenderID], p.MessageID)
	}

	out := make([]*event.Event, 0, len(order)+1)
	for _, senderID := range order {
		ev := event.New(senderID, event.KindMessageRead, &event.ReadPayload{
			ConversationID: convID,
			ReaderID:       readerID,
			MessageIDs:     bySender[senderID],
		}).WithConversation(convID)
		out = append(out, ev)
	}

	if len(promotions) > 0 {
		unread, err := t.repo.UnreadCount(ctx, convID, readerID)
		if err != nil {
			t.log.Warn("unread count failed", "conversation_id", convID, "error", err)
		} else {
			out = append(out, event.New(readerID, event.KindNotificationUpdated, &event.NotificationPayload{
				ConversationID: convID,
				Unread:         unread,
			}).WithConversation(convID))
		}
	}
	return out, nil
}

// statusEvent shapes the sender-facing frame: message-status carries every
// state transition; the coalesced ReadPayload shape is reserved for
// mark-conversation-read.
func (t *Tracker) statusEvent(messageID, recipientID, senderID uuid.UUID, state model.DeliveryState) *event.Event {
	kind := event.KindMessageStatus
	if state == model.DeliveryDelivered {
		kind = event.KindMessageDelivered
	}
	return event.New(senderID, kind, &event.StatusPayload{
		MessageID:   messageID,
		RecipientID: recipientID,
		State:       state,
	})
}
