package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/quantfarm/hedged/internal/daemon"
	"github.com/quantfarm/hedged/internal/feed"
	"github.com/quantfarm/hedged/internal/service"
)

// runTrading runs the full daemon set: the auto-hedge scanner, the partial
// rebalancer, the risk-guard loop, and the alert pump, all under the
// supervisor so a crashed task restarts with backoff. Mark feeds run
// alongside; they reconnect on their own and do not need supervision.
// Simulate mode is the same wiring with orders forced to simulated fills.
func (a *App) runTrading(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	simulated := cfg.Simulated()
	live := cfg.Mode == "trade" && cfg.Engine.LiveOrders && !simulated

	autoHedge := daemon.NewAutoHedgeDaemon(deps.Engine, cfg.Engine.Symbols, cfg.Daemon.ScanInterval.Duration, a.logger)

	riskGuard := service.NewRiskGuard(deps.PositionStore, deps.Safety, autoHedge.State, service.RiskGuardConfig{
		MaxOpenNotional:   cfg.RiskGuard.MaxOpenNotional,
		MaxOpenPositions:  cfg.RiskGuard.MaxOpenPositions,
		PartialMaxAge:     cfg.RiskGuard.PartialMaxAge.Duration,
		MaxDaemonFailures: cfg.RiskGuard.MaxDaemonFailures,
		RejectionBurst:    cfg.RiskGuard.RejectionBurst,
		RejectionWindow:   cfg.RiskGuard.RejectionWindow.Duration,
	}, live, a.logger)
	autoHedge.OnRejection(riskGuard.RecordRejection)

	rebalancer := daemon.NewRebalancer(
		deps.PositionStore,
		deps.Venues,
		deps.PriceCache,
		deps.Risk,
		deps.Safety,
		deps.Guard,
		deps.LockManager,
		deps.Ledger,
		daemon.RebalancerConfig{
			Interval:         cfg.Rebalancer.Interval.Duration,
			RetryDelay:       cfg.Rebalancer.RetryDelay.Duration,
			MaxAttempts:      cfg.Rebalancer.MaxAttempts,
			MaxBatchNotional: cfg.Rebalancer.MaxBatchNotional,
			LockTTL:          cfg.Rebalancer.LockTTL.Duration,
		},
		simulated,
		func(string) bool { return deps.Engine.Enabled() },
		a.logger,
	)

	riskLoop := daemon.NewRiskGuardLoop(riskGuard, deps.Guard, deps.PositionStore, deps.Venues, deps.PriceCache,
		cfg.Daemon.RiskGuardInterval.Duration, a.logger)
	pump := daemon.NewAlertPump(deps.AlertBus, deps.Notifier, cfg.Daemon.AlertPumpInterval.Duration, a.logger)

	sup := daemon.NewSupervisor(cfg.Daemon.RestartBackoff.Duration, cfg.Daemon.MaxRestarts, a.logger)
	tasks := map[string]daemon.RunFunc{
		"auto_hedge": autoHedge.Run,
		"rebalancer": rebalancer.Run,
		"risk_guard": riskLoop.Run,
		"alert_pump": pump.Run,
	}
	for name, run := range tasks {
		if err := sup.Register(name, run); err != nil {
			return fmt.Errorf("app: register %s: %w", name, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	a.startFeeds(gctx, g, deps)

	if err := sup.StartAll(gctx); err != nil {
		return fmt.Errorf("app: start daemons: %w", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	err := g.Wait()
	sup.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runMonitor runs the read-only loops: risk evaluation, alert delivery, and
// mark feeds. No orders are placed and no rebalancing happens; a monitor
// instance can still force a hold when it observes a breach.
func (a *App) runMonitor(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg

	riskGuard := service.NewRiskGuard(deps.PositionStore, deps.Safety, nil, service.RiskGuardConfig{
		MaxOpenNotional:   cfg.RiskGuard.MaxOpenNotional,
		MaxOpenPositions:  cfg.RiskGuard.MaxOpenPositions,
		PartialMaxAge:     cfg.RiskGuard.PartialMaxAge.Duration,
		MaxDaemonFailures: cfg.RiskGuard.MaxDaemonFailures,
		RejectionBurst:    cfg.RiskGuard.RejectionBurst,
		RejectionWindow:   cfg.RiskGuard.RejectionWindow.Duration,
	}, false, a.logger)

	riskLoop := daemon.NewRiskGuardLoop(riskGuard, deps.Guard, deps.PositionStore, deps.Venues, deps.PriceCache,
		cfg.Daemon.RiskGuardInterval.Duration, a.logger)
	pump := daemon.NewAlertPump(deps.AlertBus, deps.Notifier, cfg.Daemon.AlertPumpInterval.Duration, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	a.startFeeds(gctx, g, deps)
	g.Go(func() error { return riskLoop.Run(gctx) })
	g.Go(func() error { return pump.Run(gctx) })

	if err := g.Wait(); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startFeeds launches one mark feed per venue that has a feed URL
// configured. Venues without one rely on the client's own mark price.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	for _, vc := range a.cfg.Venues {
		if vc.FeedURL == "" {
			continue
		}
		f := feed.NewMarkFeed(vc.Name, vc.FeedURL, a.cfg.Engine.Symbols, deps.PriceCache, a.logger)
		g.Go(func() error { return f.Run(ctx) })
	}
}
