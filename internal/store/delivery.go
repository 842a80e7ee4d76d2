package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatmesh/chatmesh/internal/domain/model"
)

// AdvanceDelivery moves the per-(message, recipient) record forward. The rank
// guard makes the upsert idempotent and monotonic no matter which node or
// device reports: a stale transition affects zero rows.
func (s *Store) AdvanceDelivery(ctx context.Context, messageID, userID uuid.UUID, state model.DeliveryState, at time.Time) (bool, error) {
	query := `
		INSERT INTO message_delivery_status (message_id, user_id, state, rank, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET state = EXCLUDED.state, rank = EXCLUDED.rank, updated_at = EXCLUDED.updated_at
		WHERE message_delivery_status.rank < EXCLUDED.rank`

	tag, err := s.conn(ctx).Exec(ctx, query, messageID, userID, string(state), state.Rank(), at)
	if err != nil {
		return false, fmt.Errorf("advance delivery: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetDelivery(ctx context.Context, messageID, userID uuid.UUID) (*model.DeliveryRecord, error) {
	query := `
		SELECT state, updated_at
		FROM message_delivery_status
		WHERE message_id = $1 AND user_id = $2`

	rec := &model.DeliveryRecord{MessageID: messageID, RecipientID: userID}
	var state string
	err := s.conn(ctx).QueryRow(ctx, query, messageID, userID).Scan(&state, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	rec.State = model.DeliveryState(state)
	return rec, nil
}
