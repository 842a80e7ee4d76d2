package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SavePushSubscription upserts by (user, endpoint): re-subscribing a device
// refreshes its key material instead of duplicating the row.
func (s *Store) SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	keys, _ := json.Marshal(sub.Keys)
	query := `
		INSERT INTO push_notification_subscriptions (id, user_id, endpoint, keys, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, endpoint) DO UPDATE SET keys = EXCLUDED.keys, user_agent = EXCLUDED.user_agent`

	if _, err := s.conn(ctx).Exec(ctx, query,
		sub.ID, sub.UserID, sub.Endpoint, keys, sub.UserAgent, sub.CreatedAt); err != nil {
		return fmt.Errorf("save push subscription: %w", err)
	}
	return nil
}

func (s *Store) DeletePushSubscription(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM push_notification_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) DeletePushSubscriptionByEndpoint(ctx context.Context, userID uuid.UUID, endpoint string) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM push_notification_subscriptions WHERE user_id = $1 AND endpoint = $2`,
		userID, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) ListPushSubscriptions(ctx context.Context, userID uuid.UUID) ([]*model.PushSubscription, error) {
	query := `
		SELECT id, user_id, endpoint, keys, user_agent, created_at
		FROM push_notification_subscriptions WHERE user_id = $1`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*model.PushSubscription
	for rows.Next() {
		sub := &model.PushSubscription{}
		var keys []byte
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &keys, &sub.UserAgent, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		if len(keys) > 0 {
			_ = json.Unmarshal(keys, &sub.Keys)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) GetNotificationSettings(ctx context.Context, userID uuid.UUID) (*model.NotificationSettings, error) {
	query := `SELECT user_id, settings FROM notification_settings WHERE user_id = $1`

	var (
		out  model.NotificationSettings
		blob []byte
	)
	err := s.conn(ctx).QueryRow(ctx, query, userID).Scan(&out.UserID, &blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get notification settings: %w", err)
	}
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, fmt.Errorf("decode notification settings: %w", err)
	}
	out.UserID = userID
	return &out, nil
}

func (s *Store) SaveNotificationSettings(ctx context.Context, set *model.NotificationSettings) error {
	blob, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode notification settings: %w", err)
	}
	query := `
		INSERT INTO notification_settings (user_id, settings)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET settings = EXCLUDED.settings`
	if _, err := s.conn(ctx).Exec(ctx, query, set.UserID, blob); err != nil {
		return fmt.Errorf("save notification settings: %w", err)
	}
	return nil
}

// RecordNotification appends one notification_history row per dispatched or
// suppressed intent.
func (s *Store) RecordNotification(ctx context.Context, intent *model.PushIntent, outcome string) error {
	query := `
		INSERT INTO notification_history (id, user_id, kind, conversation_id, message_id, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var msgID any
	if intent.MessageID != uuid.Nil {
		msgID = intent.MessageID
	}
	if _, err := s.conn(ctx).Exec(ctx, query,
		intent.ID, intent.UserID, intent.Kind, intent.ConversationID, msgID,
		outcome, time.Now().UTC()); err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

func (s *Store) RecordStatusChange(ctx context.Context, userID uuid.UUID, status model.PresenceStatus, custom *model.CustomStatus) error {
	var customJSON []byte
	if custom != nil {
		customJSON, _ = json.Marshal(custom)
	}
	query := `
		INSERT INTO user_status_history (user_id, status, custom_status, changed_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.conn(ctx).Exec(ctx, query, userID, status, customJSON, time.Now().UTC()); err != nil {
		return fmt.Errorf("record status change: %w", err)
	}
	return nil
}
