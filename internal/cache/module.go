package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chatmesh/chatmesh/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("cache",
	fx.Provide(NewFromConfig),
)

// NewFromConfig builds the configured cache: in-process for dev mode,
// breaker-wrapped Redis otherwise.
func NewFromConfig(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (Cache, error) {
	if cfg.Cache.Mock {
		logger.Warn("cache: using in-process mock")
		return NewMemory(), nil
	}

	opts, err := redis.ParseURL(cfg.Cache.URL)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	rdb := redis.NewClient(opts)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				// Startup proceeds; presence degrades to "unknown" until
				// the cache recovers.
				logger.Warn("cache: unreachable at startup", "err", err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return rdb.Close()
		},
	})

	return NewBreakered(NewRedis(rdb, cfg.Cache.Timeout)), nil
}
