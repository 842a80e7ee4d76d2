package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateMessage inserts an accepted message. The id is client-proposed and
// server-validated; a replayed id maps to Conflict so the sender's retry is
// detected instead of duplicated.
func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, media_id, parent_message_id, created_at, read_receipts_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.conn(ctx).Exec(ctx, query,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.MediaID, m.ParentID,
		m.CreatedAt, m.ReadReceiptsEnabled)
	if err != nil {
		if isUniqueViolation(err) {
			return model.WrapError(model.CodeConflict, "duplicate message id", err)
		}
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, media_id, parent_message_id, created_at, read_receipts_enabled
		FROM messages WHERE id = $1 AND deleted_at IS NULL`

	m := &model.Message{}
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.MediaID,
		&m.ParentID, &m.CreatedAt, &m.ReadReceiptsEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ListMessages pages backwards from the given point in time.
func (s *Store) ListMessages(ctx context.Context, convID uuid.UUID, before time.Time, limit int) ([]*model.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, media_id, parent_message_id, created_at, read_receipts_enabled
		FROM messages
		WHERE conversation_id = $1 AND created_at < $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := s.conn(ctx).Query(ctx, query, convID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m := &model.Message{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content,
			&m.MediaID, &m.ParentID, &m.CreatedAt, &m.ReadReceiptsEnabled); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessageDeleted records the tombstone. The row stays; history readers
// see the deletion marker, never mutated content.
func (s *Store) MarkMessageDeleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE messages SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	tag, err := s.conn(ctx).Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark message deleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// AddReaction inserts the (message, user, emoji) triple; reports false when
// the triple already exists (idempotent toggle).
func (s *Store) AddReaction(ctx context.Context, r *model.Reaction) (bool, error) {
	query := `
		INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING`

	tag, err := s.conn(ctx).Exec(ctx, query, r.MessageID, r.UserID, r.Emoji, r.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("add reaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) RemoveReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	query := `DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`
	tag, err := s.conn(ctx).Exec(ctx, query, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("remove reaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListReactions(ctx context.Context, messageID uuid.UUID) ([]*model.Reaction, error) {
	query := `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions WHERE message_id = $1
		ORDER BY created_at`

	rows, err := s.conn(ctx).Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	var out []*model.Reaction
	for rows.Next() {
		r := &model.Reaction{}
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkMessageRead records the read mark; reports false on a repeat.
func (s *Store) MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error) {
	query := `
		INSERT INTO message_read_status (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`

	tag, err := s.conn(ctx).Exec(ctx, query, messageID, userID, at)
	if err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UnreadCount reports how many live messages in the conversation the user has
// not read yet. Feeds the badge-bookkeeping frame.
func (s *Store) UnreadCount(ctx context.Context, convID, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.conversation_id = $1
		  AND m.sender_id <> $2
		  AND m.deleted_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM message_read_status r
			WHERE r.message_id = m.id AND r.user_id = $2
		  )`

	var n int
	if err := s.conn(ctx).QueryRow(ctx, query, convID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// MarkConversationRead promotes every unread message addressed to userID up
// to and including the watermark, returning the promoted ids grouped with
// their senders for coalesced receipt emission.
func (s *Store) MarkConversationRead(ctx context.Context, convID, userID uuid.UUID, upTo time.Time) ([]ReadPromotion, error) {
	query := `
		WITH promoted AS (
			INSERT INTO message_read_status (message_id, user_id, read_at)
			SELECT m.id, $2, NOW()
			FROM messages m
			WHERE m.conversation_id = $1
			  AND m.sender_id <> $2
			  AND m.created_at <= $3
			  AND m.deleted_at IS NULL
			ON CONFLICT (message_id, user_id) DO NOTHING
			RETURNING message_id
		)
		SELECT p.message_id, m.sender_id, m.read_receipts_enabled
		FROM promoted p
		JOIN messages m ON m.id = p.message_id
		ORDER BY m.created_at`

	rows, err := s.conn(ctx).Query(ctx, query, convID, userID, upTo)
	if err != nil {
		return nil, fmt.Errorf("mark conversation read: %w", err)
	}
	defer rows.Close()

	var out []ReadPromotion
	for rows.Next() {
		var p ReadPromotion
		if err := rows.Scan(&p.MessageID, &p.SenderID, &p.ReceiptsEnabled); err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
