package presence

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/infra/pubsub"
	"github.com/chatmesh/chatmesh/internal/cache"
	"github.com/chatmesh/chatmesh/internal/domain/registry"
	"github.com/chatmesh/chatmesh/internal/store"
)

var Module = fx.Module("presence",
	fx.Provide(
		func(cfg *config.Config, repo store.Repository, c cache.Cache, hub registry.Hubber, d pubsub.EventDispatcher, log *slog.Logger) *Registry {
			return NewRegistry(cfg.Presence, repo, c, hub, d, log)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, r *Registry) {
		lc.Append(fx.StopHook(r.Stop))
	}),
)
