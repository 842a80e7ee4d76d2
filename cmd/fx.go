package cmd

import (
	"context"
	"log/slog"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/infra/httpserver"
	"github.com/chatmesh/chatmesh/infra/postgres"
	"github.com/chatmesh/chatmesh/infra/pubsub"
	"github.com/chatmesh/chatmesh/internal/auth"
	"github.com/chatmesh/chatmesh/internal/cache"
	"github.com/chatmesh/chatmesh/internal/delivery"
	"github.com/chatmesh/chatmesh/internal/domain/registry"
	"github.com/chatmesh/chatmesh/internal/gateway"
	apihttp "github.com/chatmesh/chatmesh/internal/handler/http"
	"github.com/chatmesh/chatmesh/internal/offline"
	"github.com/chatmesh/chatmesh/internal/presence"
	"github.com/chatmesh/chatmesh/internal/push"
	"github.com/chatmesh/chatmesh/internal/router"
	"github.com/chatmesh/chatmesh/internal/signalpipe"
	"github.com/chatmesh/chatmesh/pkg/otel"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			func(cfg *config.Config) *auth.Authenticator { return auth.New(cfg.Auth) },

			// The router's collaborators are narrow interfaces so the fan-out
			// core stays decoupled from the subsystems behind it.
			func(p *presence.Registry) router.PresenceReader { return p },
			func(q *offline.Queue) router.OfflineQueue { return q },
			func(d *push.Dispatcher) router.PushNotifier { return d },
			func(t *delivery.Tracker) router.DeliveryTracker { return t },
			func(t *delivery.Tracker) signalpipe.Tracker { return t },
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With("component", "fx")}
		}),
		fx.Invoke(registerTracing),

		registry.Module,
		cache.Module,
		postgres.Module,
		pubsub.Module,
		presence.Module,
		delivery.Module,
		offline.Module,
		push.Module,
		router.Module,
		signalpipe.Module,
		gateway.Module,
		apihttp.Module,
		httpserver.Module,
	)
}

func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}

func registerTracing(lc fx.Lifecycle) error {
	shutdown, err := otel.Init(otel.Config{
		ServiceName: ServiceName,
		Environment: os.Getenv("ENVIRONMENT"),
	})
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return shutdown(ctx) },
	})
	return nil
}
