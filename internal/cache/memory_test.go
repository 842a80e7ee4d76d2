package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "k", "v", 20*time.Millisecond))
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryMGetHolesForMisses(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "a", "1", 0))
	require.NoError(t, m.Set(ctx, "c", "3", 0))

	got, err := m.MGet(ctx, "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "", "3"}, got)
}

func TestMemorySetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	set, err := m.SetNX(ctx, "k", "first", 0)
	require.NoError(t, err)
	assert.True(t, set)

	set, err = m.SetNX(ctx, "k", "second", 0)
	require.NoError(t, err)
	assert.False(t, set)

	got, _ := m.Get(ctx, "k")
	assert.Equal(t, "first", got)

	// An expired entry no longer blocks SetNX.
	require.NoError(t, m.Set(ctx, "e", "old", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	set, err = m.SetNX(ctx, "e", "new", 0)
	require.NoError(t, err)
	assert.True(t, set)
}
