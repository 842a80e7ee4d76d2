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

// CreateConversation inserts the conversation and its initial participant
// set in one transaction.
func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO conversations (id, kind, name, created_at, last_activity)
			VALUES ($1, $2, $3, $4, $5)`
		if _, err := s.conn(ctx).Exec(ctx, query,
			c.ID, c.Kind, c.Name, c.CreatedAt, c.LastActivity); err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		for _, p := range c.Participants {
			if err := s.AddParticipant(ctx, c.ID, p.UserID, p.IsAdmin); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	query := `
		SELECT id, kind, name, created_at, last_activity
		FROM conversations WHERE id = $1`

	c := &model.Conversation{}
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Kind, &c.Name, &c.CreatedAt, &c.LastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	parts, err := s.listParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Participants = parts
	return c, nil
}

// FindDirectConversation returns the direct conversation between exactly the
// two given users, if one exists.
func (s *Store) FindDirectConversation(ctx context.Context, a, b uuid.UUID) (*model.Conversation, error) {
	query := `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants pa ON pa.conversation_id = c.id AND pa.user_id = $1
		JOIN conversation_participants pb ON pb.conversation_id = c.id AND pb.user_id = $2
		WHERE c.kind = 'direct'
		LIMIT 1`

	var id uuid.UUID
	err := s.conn(ctx).QueryRow(ctx, query, a, b).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}
	return s.GetConversation(ctx, id)
}

func (s *Store) ListConversations(ctx context.Context, userID uuid.UUID) ([]*model.Conversation, error) {
	query := `
		SELECT c.id, c.kind, c.name, c.created_at, c.last_activity
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.last_activity DESC`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		c := &model.Conversation{}
		if err := rows.Scan(&c.ID, &c.Kind, &c.Name, &c.CreatedAt, &c.LastActivity); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	for _, c := range out {
		if c.Participants, err = s.listParticipants(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PeersOf returns every distinct user sharing at least one conversation with
// userID. This backs the presence fan-out reverse index.
func (s *Store) PeersOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT other.user_id
		FROM conversation_participants own
		JOIN conversation_participants other
		  ON other.conversation_id = own.conversation_id
		 AND other.user_id <> own.user_id
		WHERE own.user_id = $1`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("peers of: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RenameConversation applies to groups only; direct conversations carry no
// display name.
func (s *Store) RenameConversation(ctx context.Context, id uuid.UUID, name string) error {
	query := `UPDATE conversations SET name = $2 WHERE id = $1 AND kind = 'group'`
	tag, err := s.conn(ctx).Exec(ctx, query, id, name)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) AddParticipant(ctx context.Context, convID, userID uuid.UUID, isAdmin bool) error {
	query := `
		INSERT INTO conversation_participants (conversation_id, user_id, is_admin, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, user_id) DO NOTHING`
	if _, err := s.conn(ctx).Exec(ctx, query, convID, userID, isAdmin, time.Now().UTC()); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

func (s *Store) RemoveParticipant(ctx context.Context, convID, userID uuid.UUID) error {
	query := `DELETE FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2`
	tag, err := s.conn(ctx).Exec(ctx, query, convID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// TouchConversation advances the last-activity watermark, never backwards.
func (s *Store) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE conversations SET last_activity = GREATEST(last_activity, $2) WHERE id = $1`
	if _, err := s.conn(ctx).Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *Store) listParticipants(ctx context.Context, convID uuid.UUID) ([]model.Participant, error) {
	query := `
		SELECT user_id, is_admin, joined_at
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at`

	rows, err := s.conn(ctx).Query(ctx, query, convID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.UserID, &p.IsAdmin, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
