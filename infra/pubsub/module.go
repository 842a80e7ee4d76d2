package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/chatmesh/chatmesh/config"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		NewProvider,
		NewEventDispatcher,
		NewRouter,
	),
)

func NewProvider(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (Provider, error) {
	var (
		p   Provider
		err error
	)
	if cfg.Bus.AMQPURL == "" {
		log.Warn("no AMQP url configured; event bus runs in process")
		p = NewLocal(log)
	} else {
		if p, err = NewAMQP(cfg.Bus.AMQPURL, log); err != nil {
			return nil, err
		}
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return p.Close() },
	})
	return p, nil
}

func NewRouter(lc fx.Lifecycle, log *slog.Logger) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, watermill.NewSlogLogger(log))
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// Run owns its lifetime; handler registration happens before
			// the fx start phase reaches this hook.
			go func() {
				if err := router.Run(context.Background()); err != nil {
					log.Error("bus router stopped", "error", err)
				}
			}()
			<-router.Running()
			return nil
		},
		OnStop: func(context.Context) error { return router.Close() },
	})
	return router, nil
}
