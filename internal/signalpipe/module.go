package signalpipe

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/internal/router"
)

var Module = fx.Module("signalpipe",
	fx.Provide(
		func(cfg *config.Config, r *router.Router, track Tracker, log *slog.Logger) *Pipeline {
			return NewPipeline(cfg.Signals, r, track, log)
		},
	),
)
