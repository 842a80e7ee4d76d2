package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// EnqueueOffline appends one event to the recipient's durable FIFO.
func (s *Store) EnqueueOffline(ctx context.Context, it *OfflineItem) error {
	query := `
		INSERT INTO offline_message_queue (user_id, event_kind, conversation_id, message_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := s.conn(ctx).QueryRow(ctx, query,
		it.UserID, it.Kind, it.ConversationID, it.MessageID, it.Payload, it.CreatedAt).Scan(&it.ID)
	if err != nil {
		return fmt.Errorf("enqueue offline: %w", err)
	}
	return nil
}

// OfflineCounts splits the queue depth into message and non-message items;
// the overflow policy treats the two differently.
func (s *Store) OfflineCounts(ctx context.Context, userID uuid.UUID) (int, int, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE event_kind = 'message'),
			COUNT(*) FILTER (WHERE event_kind <> 'message')
		FROM offline_message_queue WHERE user_id = $1`

	var messages, others int
	if err := s.conn(ctx).QueryRow(ctx, query, userID).Scan(&messages, &others); err != nil {
		return 0, 0, fmt.Errorf("offline counts: %w", err)
	}
	return messages, others, nil
}

// ListOffline returns up to limit items in enqueue order.
func (s *Store) ListOffline(ctx context.Context, userID uuid.UUID, limit int) ([]*OfflineItem, error) {
	query := `
		SELECT id, user_id, event_kind, conversation_id, message_id, payload, created_at
		FROM offline_message_queue
		WHERE user_id = $1
		ORDER BY id
		LIMIT $2`

	rows, err := s.conn(ctx).Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list offline: %w", err)
	}
	defer rows.Close()

	var out []*OfflineItem
	for rows.Next() {
		it := &OfflineItem{}
		if err := rows.Scan(&it.ID, &it.UserID, &it.Kind, &it.ConversationID,
			&it.MessageID, &it.Payload, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan offline item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) DeleteOffline(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM offline_message_queue WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete offline: %w", err)
	}
	return nil
}

// DropOldestEphemeral evicts up to n of the oldest non-message items, used
// when the per-user bound is hit. Messages are never dropped.
func (s *Store) DropOldestEphemeral(ctx context.Context, userID uuid.UUID, n int) (int, error) {
	query := `
		DELETE FROM offline_message_queue
		WHERE id IN (
			SELECT id FROM offline_message_queue
			WHERE user_id = $1 AND event_kind <> 'message'
			ORDER BY id
			LIMIT $2
		)`

	tag, err := s.conn(ctx).Exec(ctx, query, userID, n)
	if err != nil {
		return 0, fmt.Errorf("drop oldest ephemeral: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
