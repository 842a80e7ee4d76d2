// Package cache defines the shared-cache capability surface used for
// cross-process state (presence, delivery records). Production uses Redis;
// dev mode and tests use the in-process implementation.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when the key does not exist.
var ErrMiss = errors.New("cache: miss")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	// MGet returns one value per key; a miss yields an empty string at that
	// position rather than an error.
	MGet(ctx context.Context, keys ...string) ([]string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets the key only if absent; reports whether it was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
