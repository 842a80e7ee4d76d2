package offline

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/internal/store"
)

var Module = fx.Module("offline",
	fx.Provide(
		func(cfg *config.Config, repo store.Repository, log *slog.Logger) *Queue {
			return NewQueue(cfg.Offline, repo, log)
		},
	),
)
