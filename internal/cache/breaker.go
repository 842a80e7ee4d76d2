package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

var _ Cache = (*Breakered)(nil)

// Breakered wraps a Cache with a circuit breaker so a dead shared cache
// degrades to fast misses instead of piling up timeouts. Misses do not
// count as failures.
type Breakered struct {
	next Cache
	cb   *gobreaker.CircuitBreaker
}

func NewBreakered(next Cache) *Breakered {
	return &Breakered{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "shared-cache",
			Timeout: 10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrMiss)
			},
		}),
	}
}

func (b *Breakered) Get(ctx context.Context, key string) (string, error) {
	val, err := b.cb.Execute(func() (any, error) {
		return b.next.Get(ctx, key)
	})
	if err != nil {
		return "", err
	}
	return val.(string), nil
}

func (b *Breakered) MGet(ctx context.Context, keys ...string) ([]string, error) {
	val, err := b.cb.Execute(func() (any, error) {
		return b.next.MGet(ctx, keys...)
	})
	if err != nil {
		return nil, err
	}
	out, _ := val.([]string)
	return out, nil
}

func (b *Breakered) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Set(ctx, key, value, ttl)
	})
	return err
}

func (b *Breakered) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	val, err := b.cb.Execute(func() (any, error) {
		ok, err := b.next.SetNX(ctx, key, value, ttl)
		return ok, err
	})
	if err != nil {
		return false, err
	}
	return val.(bool), nil
}

func (b *Breakered) Delete(ctx context.Context, key string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Delete(ctx, key)
	})
	return err
}
