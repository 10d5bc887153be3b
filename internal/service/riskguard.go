package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfarm/hedged/internal/domain"
)

// RiskGuardConfig holds the hard-breach thresholds.
type RiskGuardConfig struct {
	// MaxOpenNotional caps aggregate open non-simulated notional. Zero
	// disables the check.
	MaxOpenNotional float64
	// MaxOpenPositions caps the open non-simulated position count. Zero
	// disables the check.
	MaxOpenPositions int
	// PartialMaxAge flags a non-simulated partial position incomplete for
	// longer than this.
	PartialMaxAge time.Duration
	// MaxDaemonFailures throttles when the auto-hedge daemon's failure
	// streak reaches it.
	MaxDaemonFailures int
	// RejectionBurst and RejectionWindow define the live-trading order
	// rejection breaker.
	RejectionBurst  int
	RejectionWindow time.Duration
}

// DaemonStateFn reports the auto-hedge daemon's current state to the guard.
type DaemonStateFn func() domain.AutoHedgeState

// RiskGuard periodically evaluates hard breaches and force-engages an
// auto-throttle hold on the first one found. Breach checks run in fixed
// precedence and short-circuit.
type RiskGuard struct {
	positions   domain.PositionStore
	safety      *SafetyCenter
	daemonState DaemonStateFn
	cfg         RiskGuardConfig
	live        bool
	logger      *slog.Logger

	mu         sync.Mutex
	rejections []time.Time
}

// NewRiskGuard creates a RiskGuard. daemonState may be nil when no daemon
// is running; live enables the rejection-burst check.
func NewRiskGuard(
	positions domain.PositionStore,
	safety *SafetyCenter,
	daemonState DaemonStateFn,
	cfg RiskGuardConfig,
	live bool,
	logger *slog.Logger,
) *RiskGuard {
	return &RiskGuard{
		positions:   positions,
		safety:      safety,
		daemonState: daemonState,
		cfg:         cfg,
		live:        live,
		logger:      logger.With(slog.String("component", "risk_guard")),
	}
}

// RecordRejection counts one order rejection toward the burst breaker.
func (g *RiskGuard) RecordRejection(at time.Time) {
	if g.cfg.RejectionWindow <= 0 {
		return
	}
	cutoff := at.Add(-g.cfg.RejectionWindow)
	g.mu.Lock()
	kept := g.rejections[:0]
	for _, t := range g.rejections {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.rejections = append(kept, at)
	g.mu.Unlock()
}

// Evaluate runs one breach sweep. The first breach engages the hold via
// ForceHold; remaining checks are skipped.
func (g *RiskGuard) Evaluate(ctx context.Context) error {
	open, err := g.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("risk_guard: list open positions: %w", err)
	}

	var notional float64
	var count int
	for _, p := range open {
		if p.Simulated {
			continue
		}
		notional += p.Notional
		count++
	}

	if g.cfg.MaxOpenNotional > 0 && notional > g.cfg.MaxOpenNotional {
		return g.ForceHold(ctx, "max_notional",
			fmt.Sprintf("open notional %.2f exceeds %.2f", notional, g.cfg.MaxOpenNotional))
	}
	if g.cfg.MaxOpenPositions > 0 && count > g.cfg.MaxOpenPositions {
		return g.ForceHold(ctx, "max_positions",
			fmt.Sprintf("%d open positions exceed %d", count, g.cfg.MaxOpenPositions))
	}

	if g.cfg.PartialMaxAge > 0 {
		cutoff := time.Now().Add(-g.cfg.PartialMaxAge)
		for _, p := range open {
			if p.Simulated || p.Status != domain.PositionStatusPartial {
				continue
			}
			if p.OpenedAt.Before(cutoff) {
				return g.ForceHold(ctx, "partial_hedge_stale",
					fmt.Sprintf("position %s partial since %s", p.ID, p.OpenedAt.UTC().Format(time.RFC3339)))
			}
		}
	}

	if g.cfg.MaxDaemonFailures > 0 && g.daemonState != nil {
		if st := g.daemonState(); st.ConsecutiveFailures >= g.cfg.MaxDaemonFailures {
			return g.ForceHold(ctx, "daemon_failures",
				fmt.Sprintf("%d consecutive auto-hedge failures", st.ConsecutiveFailures))
		}
	}

	if g.live && g.cfg.RejectionBurst > 0 {
		if n := g.recentRejections(); n >= g.cfg.RejectionBurst {
			return g.ForceHold(ctx, "rejection_burst",
				fmt.Sprintf("%d order rejections within %s", n, g.cfg.RejectionWindow))
		}
	}
	return nil
}

// ForceHold engages an auto-throttle hold. Idempotence lives in the safety
// center: re-engaging the same normalized reason fires no duplicate alert.
func (g *RiskGuard) ForceHold(ctx context.Context, code, detail string) error {
	reason := domain.AutoThrottle(code, detail)
	g.logger.WarnContext(ctx, "risk breach",
		slog.String("code", code),
		slog.String("detail", detail),
	)
	if err := g.safety.EngageHold(ctx, reason, "risk_guard"); err != nil {
		return fmt.Errorf("risk_guard: force hold %s: %w", code, err)
	}
	return nil
}

func (g *RiskGuard) recentRejections() int {
	cutoff := time.Now().Add(-g.cfg.RejectionWindow)
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, t := range g.rejections {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// Exposure sums open non-simulated notional, for the PnL snapshot feed.
func (g *RiskGuard) Exposure(ctx context.Context) (float64, error) {
	open, err := g.positions.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("risk_guard: list open positions: %w", err)
	}
	var notional float64
	for _, p := range open {
		if !p.Simulated {
			notional += p.Notional
		}
	}
	return notional, nil
}
