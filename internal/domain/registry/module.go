package registry

import (
	"time"

	"github.com/chatmesh/chatmesh/config"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		func(cfg *config.Config) *Hub {
			return NewHub(
				WithEvictionInterval(15*time.Minute),
				WithIdleTimeout(30*time.Minute),
				WithMailboxSize(cfg.Gateway.SessionBuffer),
				WithSendTimeout(cfg.Gateway.SendTimeout),
			)
		},
		func(h *Hub) Hubber { return h },
	),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber) {
		lc.Append(fx.StopHook(func() {
			h.Shutdown()
		}))
	}),
)
