package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfarm/hedged/internal/domain"
)

// StrategyRiskConfig holds the per-strategy breach limits.
type StrategyRiskConfig struct {
	// DailyLossLimit freezes a strategy once realized PnL today drops below
	// its negation. Zero disables the check.
	DailyLossLimit float64
	// MaxConsecutiveFailures freezes a strategy once the streak exceeds it.
	// Zero disables the check.
	MaxConsecutiveFailures int
}

// StrategyRiskManager tracks per-strategy realized PnL and failure streaks
// and freezes a strategy on its first breach. The frozen flag is sticky:
// only an explicit operator unfreeze clears it.
type StrategyRiskManager struct {
	store  domain.StrategyRiskStore
	ledger *Ledger
	cfg    StrategyRiskConfig
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]*domain.StrategyRiskState
}

// NewStrategyRiskManager creates a manager. States are created lazily per
// strategy; Load restores persisted ones.
func NewStrategyRiskManager(
	store domain.StrategyRiskStore,
	ledger *Ledger,
	cfg StrategyRiskConfig,
	logger *slog.Logger,
) *StrategyRiskManager {
	return &StrategyRiskManager{
		store:  store,
		ledger: ledger,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "strategy_risk")),
		states: make(map[string]*domain.StrategyRiskState),
	}
}

// Load restores persisted strategy states, including frozen flags from a
// previous process.
func (m *StrategyRiskManager) Load(ctx context.Context) error {
	states, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("strategy_risk: load states: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range states {
		state := st
		m.states[st.Strategy] = &state
	}
	return nil
}

// IsFrozen reports whether the strategy is frozen, with the freeze reason.
func (m *StrategyRiskManager) IsFrozen(strategy string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[strategy]
	if !ok {
		return false, ""
	}
	return st.Frozen, st.FreezeReason
}

// State returns a copy of the strategy's current state.
func (m *StrategyRiskManager) State(strategy string) domain.StrategyRiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.stateLocked(strategy)
}

// RecordFill adds realized PnL for the strategy and re-checks breach.
func (m *StrategyRiskManager) RecordFill(ctx context.Context, strategy string, pnl float64) {
	m.mutate(ctx, strategy, func(st *domain.StrategyRiskState) {
		st.RealizedPnLToday += pnl
	})
}

// RecordFailure increments the failure streak and re-checks breach.
func (m *StrategyRiskManager) RecordFailure(ctx context.Context, strategy string) {
	m.mutate(ctx, strategy, func(st *domain.StrategyRiskState) {
		st.ConsecutiveFailures++
	})
}

// RecordSuccess resets the failure streak. The frozen flag is untouched.
func (m *StrategyRiskManager) RecordSuccess(ctx context.Context, strategy string) {
	m.mutate(ctx, strategy, func(st *domain.StrategyRiskState) {
		st.ConsecutiveFailures = 0
	})
}

// Unfreeze clears the frozen flag, the freeze reason, and the failure
// streak as one audited operator action.
func (m *StrategyRiskManager) Unfreeze(ctx context.Context, strategy, operator string) {
	m.mu.Lock()
	st := m.stateLocked(strategy)
	st.Frozen = false
	st.FreezeReason = ""
	st.ConsecutiveFailures = 0
	st.UpdatedAt = time.Now().UTC()
	snapshot := *st
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	m.logger.InfoContext(ctx, "strategy unfrozen",
		slog.String("strategy", strategy),
		slog.String("operator", operator),
	)
	_ = m.ledger.Audit(ctx, "strategy_unfrozen", map[string]any{
		"strategy": strategy,
		"operator": operator,
	})
}

// ResetDaily zeroes the daily PnL counter, e.g. at the trading-day boundary.
func (m *StrategyRiskManager) ResetDaily(ctx context.Context, strategy string) {
	m.mu.Lock()
	st := m.stateLocked(strategy)
	st.RealizedPnLToday = 0
	st.UpdatedAt = time.Now().UTC()
	snapshot := *st
	m.mu.Unlock()
	m.persist(ctx, snapshot)
}

// stateLocked returns the state for strategy, creating it lazily. Caller
// must hold m.mu.
func (m *StrategyRiskManager) stateLocked(strategy string) *domain.StrategyRiskState {
	st, ok := m.states[strategy]
	if !ok {
		st = &domain.StrategyRiskState{Strategy: strategy}
		m.states[strategy] = st
	}
	return st
}

// mutate applies fn, re-checks breach, and persists. Freeze on breach is
// idempotent per reason: an already-frozen strategy is not re-audited.
func (m *StrategyRiskManager) mutate(ctx context.Context, strategy string, fn func(*domain.StrategyRiskState)) {
	m.mu.Lock()
	st := m.stateLocked(strategy)
	fn(st)
	st.UpdatedAt = time.Now().UTC()

	var frozeNow bool
	var reason string
	if !st.Frozen {
		if reason = m.breachLocked(st); reason != "" {
			st.Frozen = true
			st.FreezeReason = reason
			frozeNow = true
		}
	}
	snapshot := *st
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	if frozeNow {
		m.logger.WarnContext(ctx, "strategy frozen",
			slog.String("strategy", strategy),
			slog.String("reason", reason),
			slog.Float64("pnl_today", snapshot.RealizedPnLToday),
			slog.Int("consecutive_failures", snapshot.ConsecutiveFailures),
		)
		_ = m.ledger.Audit(ctx, "strategy_frozen", map[string]any{
			"strategy": strategy,
			"reason":   reason,
			"pnl":      snapshot.RealizedPnLToday,
			"failures": snapshot.ConsecutiveFailures,
		})
		_ = m.ledger.EmitAlert(ctx, "risk", "strategy frozen", map[string]string{
			"strategy": strategy,
			"reason":   reason,
		})
	}
}

// breachLocked returns the breach reason, or "" when within limits.
// Failures breach only past the limit, so max=2 tolerates two failures and
// freezes on the third.
func (m *StrategyRiskManager) breachLocked(st *domain.StrategyRiskState) string {
	if m.cfg.DailyLossLimit > 0 && st.RealizedPnLToday < -m.cfg.DailyLossLimit {
		return "daily_loss_limit"
	}
	if m.cfg.MaxConsecutiveFailures > 0 && st.ConsecutiveFailures > m.cfg.MaxConsecutiveFailures {
		return "consecutive_failures"
	}
	return ""
}

func (m *StrategyRiskManager) persist(ctx context.Context, st domain.StrategyRiskState) {
	if err := m.store.Upsert(ctx, st); err != nil {
		m.logger.WarnContext(ctx, "strategy risk persist failed",
			slog.String("strategy", st.Strategy),
			slog.String("error", err.Error()),
		)
	}
}
