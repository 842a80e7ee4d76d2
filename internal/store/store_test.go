package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/chatmesh/internal/domain/model"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock), mock
}

func TestCreateUserMapsUniqueViolationToConflict(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	u := &model.User{ID: uuid.New(), Handle: "ada", CreatedAt: time.Now().UTC()}

	mock.ExpectExec("INSERT INTO users").
		WithArgs(u.ID, u.Handle, u.DisplayName, u.IdentityKey, "hash", u.Status, u.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.CreateUser(ctx, u, "hash"))

	mock.ExpectExec("INSERT INTO users").
		WithArgs(u.ID, u.Handle, u.DisplayName, u.IdentityKey, "hash", u.Status, u.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	err := s.CreateUser(ctx, u, "hash")
	assert.Equal(t, model.CodeConflict, model.CodeOf(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserScansCustomStatus(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	id := uuid.New()
	created := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "handle", "display_name", "identity_key", "status", "custom_status", "created_at"}).
			AddRow(id, "ada", "Ada", []byte("ik"), model.StatusCustom, []byte(`{"message":"brb"}`), created))

	u, err := s.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ada", u.Handle)
	require.NotNil(t, u.Custom)
	assert.Equal(t, "brb", u.Custom.Message)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = s.GetUser(ctx, id)
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserStatusMissingRow(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE users SET status").
		WithArgs(id, model.StatusBusy, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateUserStatus(ctx, id, model.StatusBusy, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueOfflineAssignsRowID(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	it := &OfflineItem{
		UserID:         uuid.New(),
		Kind:           "message",
		ConversationID: uuid.New(),
		Payload:        []byte("{}"),
		CreatedAt:      time.Now().UTC(),
	}

	mock.ExpectQuery("INSERT INTO offline_message_queue").
		WithArgs(it.UserID, it.Kind, it.ConversationID, it.MessageID, it.Payload, it.CreatedAt).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	require.NoError(t, s.EnqueueOffline(ctx, it))
	assert.Equal(t, int64(42), it.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropOldestEphemeralReportsEvictions(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	userID := uuid.New()

	mock.ExpectExec("DELETE FROM offline_message_queue").
		WithArgs(userID, 3).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	dropped, err := s.DropOldestEphemeral(ctx, userID, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM users").
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(ctx context.Context) error {
		// A nested WithTx joins the open transaction instead of beginning
		// another one.
		return s.WithTx(ctx, func(ctx context.Context) error {
			return s.DeleteUser(ctx, userID)
		})
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = s.WithTx(ctx, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceDeliveryRankGuard(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	msgID, userID := uuid.New(), uuid.New()

	mock.ExpectExec("INSERT INTO message_delivery_status").
		WithArgs(msgID, userID, "delivered", 3, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	advanced, err := s.AdvanceDelivery(ctx, msgID, userID, model.DeliveryDelivered, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, advanced)

	// The stored rank already wins: zero rows change hands.
	mock.ExpectExec("INSERT INTO message_delivery_status").
		WithArgs(msgID, userID, "sent", 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	advanced, err = s.AdvanceDelivery(ctx, msgID, userID, model.DeliverySent, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, advanced)

	mock.ExpectQuery("SELECT state, updated_at FROM message_delivery_status").
		WithArgs(msgID, userID).
		WillReturnError(pgx.ErrNoRows)
	_, err = s.GetDelivery(ctx, msgID, userID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
