package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/quantfarm/hedged/internal/domain"
	"github.com/quantfarm/hedged/internal/service"
	"github.com/quantfarm/hedged/internal/venue"
)

// rebalanceLockKey guards the cycle so at most one instance reconciles
// partial positions at a time.
const rebalanceLockKey = "rebalancer"

// RebalancerConfig holds the reconciliation loop parameters.
type RebalancerConfig struct {
	Interval   time.Duration
	RetryDelay time.Duration
	// MaxAttempts bounds retries per position before it is marked
	// exhausted for operator intervention.
	MaxAttempts int
	// MaxBatchNotional caps how much of the gap one attempt may fill.
	MaxBatchNotional float64
	LockTTL          time.Duration
}

// Rebalancer periodically completes under-filled hedge positions by
// topping up the lagging leg in bounded batches. Every mutation is
// persisted immediately; errors are recorded on the position and never
// crash the loop.
type Rebalancer struct {
	positions domain.PositionStore
	venues    *venue.Registry
	cache     domain.PriceCache
	risk      *service.StrategyRiskManager
	safety    *service.SafetyCenter
	guard     *service.EdgeGuard
	locks     domain.LockManager
	ledger    *service.Ledger
	cfg       RebalancerConfig
	simulated bool
	logger    *slog.Logger

	// strategyEnabled reports whether a strategy currently accepts orders.
	strategyEnabled func(strategy string) bool
}

// NewRebalancer creates the reconciliation loop.
func NewRebalancer(
	positions domain.PositionStore,
	venues *venue.Registry,
	cache domain.PriceCache,
	risk *service.StrategyRiskManager,
	safety *service.SafetyCenter,
	guard *service.EdgeGuard,
	locks domain.LockManager,
	ledger *service.Ledger,
	cfg RebalancerConfig,
	simulated bool,
	strategyEnabled func(strategy string) bool,
	logger *slog.Logger,
) *Rebalancer {
	return &Rebalancer{
		positions:       positions,
		venues:          venues,
		cache:           cache,
		risk:            risk,
		safety:          safety,
		guard:           guard,
		locks:           locks,
		ledger:          ledger,
		cfg:             cfg,
		simulated:       simulated,
		strategyEnabled: strategyEnabled,
		logger:          logger.With(slog.String("component", "rebalancer")),
	}
}

// Run executes one cycle per interval until ctx ends.
func (r *Rebalancer) Run(ctx context.Context) error {
	r.logger.Info("rebalancer starting", slog.Duration("interval", r.cfg.Interval))
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("rebalancer stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Cycle(ctx); err != nil {
				r.logger.ErrorContext(ctx, "rebalance cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Cycle reconciles every partial position once, under the distributed
// cycle lock. Another instance holding the lock skips the cycle cleanly.
func (r *Rebalancer) Cycle(ctx context.Context) error {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, rebalanceLockKey, r.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				r.logger.DebugContext(ctx, "cycle lock held elsewhere, skipping")
				return nil
			}
			return fmt.Errorf("rebalancer: acquire lock: %w", err)
		}
		defer unlock()
	}

	partials, err := r.positions.ListPartial(ctx)
	if err != nil {
		return fmt.Errorf("rebalancer: list partial positions: %w", err)
	}

	desync := ""
	for i := range partials {
		pos := partials[i]
		if pos.Notional <= 0 || pos.LongVenue == "" || pos.ShortVenue == "" {
			desync = fmt.Sprintf("position %s has inconsistent hedge metadata", pos.ID)
			r.logger.ErrorContext(ctx, "reconciliation desync", slog.String("position_id", pos.ID))
			continue
		}
		r.processPosition(ctx, &pos)
	}
	r.guard.SetDesync(desync != "", desync)
	return nil
}

// processPosition applies the per-position state machine: settle, exhaust,
// wait, skip on disabled/frozen, or top up the lagging legs.
func (r *Rebalancer) processPosition(ctx context.Context, pos *domain.Position) {
	ratio := pos.FilledRatio()
	switch {
	case ratio >= 1-domain.FillEpsilon:
		pos.Rebalance.Status = domain.RebalanceSettled
		pos.RecomputeStatus()
		r.persist(ctx, pos)
		return
	case r.cfg.MaxAttempts > 0 && pos.Rebalance.Attempts >= r.cfg.MaxAttempts:
		if pos.Rebalance.Status != domain.RebalanceExhausted {
			pos.Rebalance.Status = domain.RebalanceExhausted
			r.persist(ctx, pos)
			_ = r.ledger.EmitAlert(ctx, "rebalance", "partial hedge needs operator intervention", map[string]string{
				"position_id": pos.ID,
				"attempts":    fmt.Sprint(pos.Rebalance.Attempts),
			})
		}
		return
	case !pos.Rebalance.LastAttempt.IsZero() && time.Since(pos.Rebalance.LastAttempt) < r.cfg.RetryDelay:
		pos.Rebalance.Status = domain.RebalanceWaiting
		r.persist(ctx, pos)
		return
	case r.strategyEnabled != nil && !r.strategyEnabled(pos.Strategy):
		pos.Rebalance.Status = domain.RebalanceDisabled
		r.persist(ctx, pos)
		return
	}
	if frozen, _ := r.risk.IsFrozen(pos.Strategy); frozen {
		pos.Rebalance.Status = domain.RebalanceFrozen
		r.persist(ctx, pos)
		return
	}

	pos.Rebalance.Attempts++
	pos.Rebalance.LastAttempt = time.Now().UTC()
	pos.Rebalance.LastError = ""

	for i := range pos.Legs {
		leg := &pos.Legs[i]
		if leg.Complete() && leg.EntryPrice > 0 {
			continue
		}
		if hold := r.topUpLeg(ctx, pos, leg); hold {
			pos.Rebalance.Status = domain.RebalanceHold
			r.persist(ctx, pos)
			return
		}
	}

	pos.RecomputeStatus()
	if pos.FilledRatio() >= 1-domain.FillEpsilon {
		pos.Rebalance.Status = domain.RebalanceSettled
	} else if pos.Rebalance.LastError == "" {
		pos.Rebalance.Status = domain.RebalancePending
	}
	r.persist(ctx, pos)

	_ = r.ledger.LogHedge(ctx, domain.HedgeLogEntry{
		Kind:       domain.HedgeLogRebalanced,
		Strategy:   pos.Strategy,
		Symbol:     pos.Symbol,
		PositionID: pos.ID,
		Detail: map[string]any{
			"filled_ratio": pos.FilledRatio(),
			"attempts":     pos.Rebalance.Attempts,
			"status":       string(pos.Rebalance.Status),
		},
	})
	r.logger.InfoContext(ctx, "position rebalanced",
		slog.String("position_id", pos.ID),
		slog.Float64("filled_ratio", pos.FilledRatio()),
		slog.String("status", string(pos.Rebalance.Status)),
	)
}

// topUpLeg places one bounded batch order for an under-filled leg. Returns
// true when a hold-active signal aborted the attempt; other errors are
// recorded on the position and the loop continues.
func (r *Rebalancer) topUpLeg(ctx context.Context, pos *domain.Position, leg *domain.Leg) (holdActive bool) {
	client, err := r.venues.Get(leg.Venue)
	if err != nil {
		pos.Rebalance.LastError = err.Error()
		return false
	}

	price := leg.EntryPrice
	if mark, merr := r.markPrice(ctx, client, leg.Symbol); merr == nil && mark > 0 {
		price = mark
	}
	if leg.EntryPrice <= 0 {
		// A missing leg has no entry yet; adopt the current mark so the
		// target size is derivable.
		leg.EntryPrice = price
	}
	if price <= 0 {
		pos.Rebalance.LastError = fmt.Sprintf("no price for %s on %s", leg.Symbol, leg.Venue)
		return false
	}

	gap := (leg.TargetBaseSize() - leg.BaseSize) * price
	if gap <= 0 {
		return false
	}
	batch := gap
	if r.cfg.MaxBatchNotional > 0 {
		batch = math.Min(batch, r.cfg.MaxBatchNotional)
	}

	if err := r.safety.RegisterOrderAttempt(ctx, "rebalancer"); err != nil {
		var hold *domain.HoldActiveError
		if errors.As(err, &hold) {
			pos.Rebalance.LastError = hold.Error()
			return true
		}
		pos.Rebalance.LastError = err.Error()
		return false
	}

	var fill domain.OrderFill
	if r.simulated || pos.Simulated {
		fill = domain.OrderFill{Price: price, FilledQty: batch / price, Status: domain.FillStatusSimulated}
	} else {
		fill, err = client.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:   leg.Symbol,
			Side:     leg.Side,
			Notional: batch,
			Leverage: pos.Leverage,
		})
		if err != nil {
			pos.Rebalance.LastError = err.Error()
			r.logger.WarnContext(ctx, "top-up order failed",
				slog.String("position_id", pos.ID),
				slog.String("venue", leg.Venue),
				slog.String("error", err.Error()),
			)
			return false
		}
	}

	leg.BaseSize += fill.FilledQty
	if leg.Complete() {
		leg.Status = domain.LegStatusFilled
		if fill.Status == domain.FillStatusSimulated {
			leg.Status = domain.LegStatusSimulated
		}
	} else {
		leg.Status = domain.LegStatusPartial
	}
	return false
}

func (r *Rebalancer) markPrice(ctx context.Context, client domain.VenueClient, symbol string) (float64, error) {
	if r.cache != nil {
		if quote, err := r.cache.GetMark(ctx, client.Name(), symbol); err == nil && quote.Price > 0 {
			return quote.Price, nil
		}
	}
	return client.MarkPrice(ctx, symbol)
}

// persist writes the position immediately; a failed write is logged and the
// next cycle re-derives from whatever state is durable.
func (r *Rebalancer) persist(ctx context.Context, pos *domain.Position) {
	if err := r.positions.Update(ctx, *pos); err != nil {
		r.logger.WarnContext(ctx, "position persist failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}
