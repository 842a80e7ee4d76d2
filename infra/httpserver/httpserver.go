// Package httpserver runs the REST and websocket listener with a graceful
// drain on shutdown.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/chatmesh/chatmesh/config"
	apihttp "github.com/chatmesh/chatmesh/internal/handler/http"
)

var Module = fx.Module("httpserver",
	fx.Provide(NewServer),
	fx.Invoke(func(*http.Server) {}),
)

func NewServer(lc fx.Lifecycle, cfg *config.Config, h *apihttp.Handler, log *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", "addr", ln.Addr().String())
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			drain, cancel := context.WithTimeout(ctx, cfg.HTTP.DrainWindow)
			defer cancel()
			return srv.Shutdown(drain)
		},
	})
	return srv
}
