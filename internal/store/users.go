package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// CreateUser inserts a new user. A duplicate handle maps to Conflict.
func (s *Store) CreateUser(ctx context.Context, u *model.User, passwordHash string) error {
	query := `
		INSERT INTO users (id, handle, display_name, identity_key, password_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.conn(ctx).Exec(ctx, query,
		u.ID, u.Handle, u.DisplayName, u.IdentityKey, passwordHash, u.Status, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.WrapError(model.CodeConflict, "handle already taken", err)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `
		SELECT id, handle, display_name, identity_key, status, custom_status, created_at
		FROM users WHERE id = $1`

	u, _, err := scanUser(s.conn(ctx).QueryRow(ctx, query, id), false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByHandle also returns the password hash for credential checks.
func (s *Store) GetUserByHandle(ctx context.Context, handle string) (*model.User, string, error) {
	query := `
		SELECT id, handle, display_name, identity_key, status, custom_status, created_at, password_hash
		FROM users WHERE handle = $1`

	u, hash, err := scanUser(s.conn(ctx).QueryRow(ctx, query, handle), true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", model.ErrNotFound
		}
		return nil, "", fmt.Errorf("get user by handle: %w", err)
	}
	return u, hash, nil
}

func (s *Store) UpdateUserStatus(ctx context.Context, id uuid.UUID, status model.PresenceStatus, custom *model.CustomStatus) error {
	var customJSON []byte
	if custom != nil {
		customJSON, _ = json.Marshal(custom)
	}
	query := `UPDATE users SET status = $2, custom_status = $3 WHERE id = $1`
	tag, err := s.conn(ctx).Exec(ctx, query, id, status, customJSON)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DeleteUser removes the account; dependent rows cascade via foreign keys.
func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row, withHash bool) (*model.User, string, error) {
	var (
		u          model.User
		customJSON []byte
		hash       string
	)
	dest := []any{&u.ID, &u.Handle, &u.DisplayName, &u.IdentityKey, &u.Status, &customJSON, &u.CreatedAt}
	if withHash {
		dest = append(dest, &hash)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, "", err
	}
	if len(customJSON) > 0 {
		var cs model.CustomStatus
		if err := json.Unmarshal(customJSON, &cs); err == nil {
			u.Custom = &cs
		}
	}
	return &u, hash, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
