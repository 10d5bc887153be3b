// Package app wires configuration, stores, services, and daemons together
// and runs the selected mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantfarm/hedged/internal/config"
)

// App is the top-level application. It owns the wired dependencies and the
// cleanup chain built during Wire.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
}

// New creates an App from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run wires the dependencies and executes the configured mode until the
// context is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.Info("starting",
		slog.String("mode", mode),
		slog.Bool("simulated", a.cfg.Simulated()),
		slog.Int("venues", len(a.cfg.Venues)))

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.cleanup = cleanup

	switch mode {
	case "trade", "simulate":
		return a.runTrading(ctx, deps)
	case "monitor":
		return a.runMonitor(ctx, deps)
	default:
		return fmt.Errorf("app: unknown mode %q", mode)
	}
}

// Close releases all wired resources in reverse order of acquisition.
func (a *App) Close() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
	a.logger.Info("shutdown complete")
}
