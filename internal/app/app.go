// Package app provides the top-level application lifecycle: it wires
// the dependency graph and runs the feeds and the trading engine until
// the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/marketloop/spreadbot/internal/config"
	"github.com/marketloop/spreadbot/internal/domain"
)

// App is the root application object. It owns the configuration, the
// logger, and the cleanup functions registered during wiring.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and runs the market feed, the user feed,
// and the trading engine until ctx is cancelled or one of them fails
// beyond its reconnect budget.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.Bool("dry_run", a.cfg.DryRun),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := deps.MarketFeed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: market feed: %w", err)
		}
		return nil
	})

	if deps.UserFeed != nil {
		g.Go(func() error {
			if err := deps.UserFeed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("app: user feed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := deps.Maker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: maker: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, domain.ErrWSDisconnect) {
		a.logger.Error("websocket reconnect budget exhausted, exiting")
	}
	return err
}

// Close tears down all resources in reverse registration order. Safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
