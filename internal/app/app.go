// Package app provides the top-level application lifecycle for the
// conditional swap service. It wires together all dependencies (stores,
// caches, blob storage, chain clients, flows, and the HTTP server) and runs
// them until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/config"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/server"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/server/handler"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/server/ws"
)

// shutdownGrace bounds how long in-flight HTTP requests may take to finish
// after the run context is cancelled.
const shutdownGrace = 15 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the
// background loops and the HTTP server, and blocks until the context is
// cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.Int64("chain_id", a.cfg.Chain.ChainID),
		slog.String("log_level", a.cfg.LogLevel),
	)
	defer a.Close()

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, gctx := errgroup.WithContext(ctx)

	// Background loops.
	g.Go(func() error { return ignoreCancel(deps.Reconciler.Run(gctx)) })

	retention := time.Duration(a.cfg.Flow.ArchiveRetentionDays) * 24 * time.Hour
	g.Go(func() error {
		return ignoreCancel(deps.Archiver.RunPeriodic(gctx, a.cfg.Flow.ArchiveInterval.Duration, retention))
	})

	// HTTP and WebSocket API.
	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error { return ignoreCancel(hub.Run(gctx)) })

		handlers := server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Orders: handler.NewOrderHandler(deps.Service, a.logger),
			Audit:  handler.NewAuditHandler(deps.Service, a.logger),
		}
		srv := server.NewServer(server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		}, handlers, hub, deps.RateLimiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ignoreCancel maps context cancellation to a clean exit so a signal-driven
// shutdown does not surface as an error.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
