package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfarm/hedged/internal/domain"
	"github.com/quantfarm/hedged/internal/service"
)

// AutoHedgeDaemon scans the configured symbols on a fixed interval and asks
// the engine to open a hedge wherever the spread clears the threshold. Its
// consecutive-failure streak feeds the risk guard's breach check.
type AutoHedgeDaemon struct {
	engine   *service.Engine
	symbols  []string
	interval time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	state       domain.AutoHedgeState
	onRejection func(at time.Time)
}

// NewAutoHedgeDaemon creates the scanner.
func NewAutoHedgeDaemon(engine *service.Engine, symbols []string, interval time.Duration, logger *slog.Logger) *AutoHedgeDaemon {
	return &AutoHedgeDaemon{
		engine:   engine,
		symbols:  symbols,
		interval: interval,
		logger:   logger.With(slog.String("component", "auto_hedge")),
		state:    domain.AutoHedgeState{Enabled: true},
	}
}

// OnRejection installs a callback invoked once per failed order attempt.
// It feeds the risk guard's rejection-burst breaker.
func (d *AutoHedgeDaemon) OnRejection(fn func(at time.Time)) {
	d.mu.Lock()
	d.onRejection = fn
	d.mu.Unlock()
}

// State returns a copy of the daemon's activity summary.
func (d *AutoHedgeDaemon) State() domain.AutoHedgeState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetEnabled toggles scanning and the engine together.
func (d *AutoHedgeDaemon) SetEnabled(enabled bool) {
	d.engine.SetEnabled(enabled)
	d.mu.Lock()
	d.state.Enabled = enabled
	d.mu.Unlock()
}

// Run executes one scan immediately, then one per interval until ctx ends.
func (d *AutoHedgeDaemon) Run(ctx context.Context) error {
	d.logger.Info("auto-hedge scanner starting",
		slog.Int("symbols", len(d.symbols)),
		slog.Duration("interval", d.interval),
	)
	d.scan(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("auto-hedge scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			d.scan(ctx)
		}
	}
}

// scan runs one cycle over every symbol. Expected rejections (spread too
// thin, guard blocks) are not failures; venue errors and a failed hedge leg
// are, and they extend the failure streak.
func (d *AutoHedgeDaemon) scan(ctx context.Context) {
	d.mu.Lock()
	enabled := d.state.Enabled
	d.state.LastChecked = time.Now().UTC()
	d.mu.Unlock()
	if !enabled {
		return
	}

	for _, symbol := range d.symbols {
		res, err := d.engine.OpenHedge(ctx, symbol)
		now := time.Now().UTC()

		d.mu.Lock()
		rejected := false
		switch {
		case err != nil:
			d.state.LastResult = "error: " + err.Error()
			d.state.ConsecutiveFailures++
			rejected = true
		case res.Executed:
			d.state.LastResult = string(domain.HedgeLogExecuted)
			if res.Simulated {
				d.state.LastResult = string(domain.HedgeLogSimulated)
			}
			d.state.LastExecutionAt = now
			d.state.LastSuccessAt = now
			d.state.ConsecutiveFailures = 0
		case res.Reason == domain.ReasonHedgeLegFailed:
			d.state.LastResult = res.Reason
			d.state.LastExecutionAt = now
			d.state.ConsecutiveFailures++
			rejected = true
		default:
			d.state.LastResult = res.Reason
		}
		onRejection := d.onRejection
		d.mu.Unlock()

		if rejected && onRejection != nil {
			onRejection(now)
		}

		if err != nil {
			d.logger.ErrorContext(ctx, "hedge attempt errored",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}
