package push

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/internal/store"
)

var Module = fx.Module("push",
	fx.Provide(
		fx.Annotate(NewLogTransport, fx.As(new(Transport))),
		func(cfg *config.Config, repo store.Repository, transport Transport, log *slog.Logger) *Dispatcher {
			return NewDispatcher(cfg.Push, repo, transport, log)
		},
	),
)
