package router

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/infra/pubsub"
	"github.com/chatmesh/chatmesh/internal/domain/registry"
	"github.com/chatmesh/chatmesh/internal/store"
)

var Module = fx.Module("router",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config, repo store.Repository, hub registry.Hubber, d pubsub.EventDispatcher,
			presence PresenceReader, offline OfflineQueue, push PushNotifier, tracker DeliveryTracker,
			log *slog.Logger) *Router {
			r := NewRouter(cfg.Router, repo, hub, d, presence, offline, push, tracker, log)
			lc.Append(fx.StopHook(r.Close))
			return r
		},
		NewBusConsumer,
	),
	fx.Invoke(func(c *BusConsumer, r *message.Router, p pubsub.Provider, d pubsub.EventDispatcher) error {
		return c.RegisterHandlers(r, p, d)
	}),
)
