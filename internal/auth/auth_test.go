package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/chatmesh/config"
)

func newTestAuthenticator(accessTTL time.Duration) *Authenticator {
	return New(config.AuthConfig{
		Secret:     "test-secret-do-not-use",
		AccessTTL:  accessTTL,
		RefreshTTL: time.Hour,
	})
}

func TestIssueAndVerify(t *testing.T) {
	a := newTestAuthenticator(time.Minute)
	p := Principal{UserID: uuid.New(), Handle: "dara"}

	pair, err := a.Issue(p)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(60), pair.ExpiresIn)

	got, err := a.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, p.UserID, got.UserID)
	assert.Equal(t, p.Handle, got.Handle)
}

func TestRefreshRotatesPair(t *testing.T) {
	a := newTestAuthenticator(time.Minute)
	p := Principal{UserID: uuid.New(), Handle: "dara"}

	pair, err := a.Issue(p)
	require.NoError(t, err)

	next, err := a.Refresh(pair.RefreshToken)
	require.NoError(t, err)

	got, err := a.VerifyAccess(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, p.UserID, got.UserID)
}

func TestWrongTokenUse(t *testing.T) {
	a := newTestAuthenticator(time.Minute)
	pair, err := a.Issue(Principal{UserID: uuid.New()})
	require.NoError(t, err)

	// A refresh token must not pass as access, nor the other way round.
	_, err = a.VerifyAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrWrongTokenUse)

	_, err = a.Refresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrWrongTokenUse)
}

func TestExpiredToken(t *testing.T) {
	a := newTestAuthenticator(-time.Minute)
	pair, err := a.Issue(Principal{UserID: uuid.New()})
	require.NoError(t, err)

	_, err = a.VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestForeignSignature(t *testing.T) {
	a := newTestAuthenticator(time.Minute)
	other := New(config.AuthConfig{Secret: "different", AccessTTL: time.Minute, RefreshTTL: time.Hour})

	pair, err := other.Issue(Principal{UserID: uuid.New()})
	require.NoError(t, err)

	_, err = a.VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	a := newTestAuthenticator(time.Minute)
	_, err := a.VerifyAccess("not.a.token")
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery", hash)

	assert.True(t, CheckPassword(hash, "correct horse battery"))
	assert.False(t, CheckPassword(hash, "wrong"))
}
