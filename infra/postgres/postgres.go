// Package postgres wires the persistence tier: a pgx pool against a real
// database, or the in-memory fake when MOCK_DATABASE is set.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/internal/store"
)

var Module = fx.Module("postgres",
	fx.Provide(NewRepository),
)

func NewRepository(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (store.Repository, error) {
	if cfg.Database.Mock {
		log.Warn("database mocked; state is process-local and volatile")
		repo := store.NewMemory()
		return repo, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	repo := store.New(pool)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("ping database: %w", err)
			}
			if err := repo.Migrate(ctx); err != nil {
				return err
			}
			log.Info("database ready")
			return nil
		},
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return repo, nil
}
