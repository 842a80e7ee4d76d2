// Package offline persists events addressed to users with no live session
// anywhere, and replays them in order when a session opens.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/chatmesh/chatmesh/internal/metrics"
	"github.com/chatmesh/chatmesh/internal/store"
)

const drainBatch = 100

type Queue struct {
	repo       store.Repository
	maxPerUser int
	log        *slog.Logger
}

func NewQueue(cfg config.OfflineConfig, repo store.Repository, log *slog.Logger) *Queue {
	return &Queue{
		repo:       repo,
		maxPerUser: cfg.MaxPerUser,
		log:        log.With("component", "offline"),
	}
}

// Enqueue appends the event to the recipient's durable FIFO, applying the
// per-user bound: at capacity, the oldest ephemeral items are evicted to
// admit a message, and a new ephemeral item is shed outright. Messages are
// never the ones dropped; a queue full of messages refuses the newcomer so
// the producer sees backpressure instead of silent loss.
func (q *Queue) Enqueue(ctx context.Context, ev *event.Event) error {
	messages, others, err := q.repo.OfflineCounts(ctx, ev.GetUserID())
	if err != nil {
		return fmt.Errorf("offline depth check: %w", err)
	}

	if messages+others >= q.maxPerUser {
		if ev.GetKind() != event.KindMessage {
			metrics.OfflineEnqueued.WithLabelValues("shed").Inc()
			q.log.Debug("offline queue full, shedding ephemeral item",
				"user_id", ev.GetUserID(), "kind", ev.GetKind())
			return nil
		}
		if others == 0 {
			metrics.OfflineEnqueued.WithLabelValues("backpressure").Inc()
			return model.NewError(model.CodeUnavailable, "offline queue full")
		}
		if _, err := q.repo.DropOldestEphemeral(ctx, ev.GetUserID(), 1); err != nil {
			q.log.Warn("ephemeral eviction failed", "user_id", ev.GetUserID(), "error", err)
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("offline payload encode: %w", err)
	}

	item := &store.OfflineItem{
		UserID:         ev.GetUserID(),
		Kind:           string(ev.GetKind()),
		ConversationID: ev.ConversationID,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}
	if ev.GetKind() == event.KindMessage {
		id := ev.ID
		item.MessageID = &id
	}

	if err := q.repo.EnqueueOffline(ctx, item); err != nil {
		return err
	}
	metrics.OfflineEnqueued.WithLabelValues("stored").Inc()
	return nil
}

// Drain replays the user's queue in enqueue order. deliver reports whether
// the event was accepted; items are deleted only after acceptance, so a
// crash mid-drain re-delivers rather than loses (recipient-side duplicate
// suppression absorbs the replay).
func (q *Queue) Drain(ctx context.Context, userID uuid.UUID, deliver func(*event.Event) bool) error {
	for {
		items, err := q.repo.ListOffline(ctx, userID, drainBatch)
		if err != nil {
			return fmt.Errorf("offline list: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		metrics.OfflineQueueDepth.Add(float64(len(items)))

		accepted := make([]int64, 0, len(items))
		stalled := false
		for _, item := range items {
			ev, err := event.Decode(item.Payload)
			if err != nil {
				q.log.Error("offline item corrupt, discarding",
					"item_id", item.ID, "user_id", userID, "error", err)
				accepted = append(accepted, item.ID)
				continue
			}
			if !deliver(ev) {
				stalled = true
				break
			}
			accepted = append(accepted, item.ID)
		}

		if err := q.repo.DeleteOffline(ctx, accepted); err != nil {
			metrics.OfflineQueueDepth.Sub(float64(len(items)))
			return fmt.Errorf("offline ack: %w", err)
		}
		metrics.OfflineQueueDepth.Sub(float64(len(items)))

		if stalled || len(items) < drainBatch {
			return nil
		}
	}
}
