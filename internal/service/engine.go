package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantfarm/hedged/internal/domain"
	"github.com/quantfarm/hedged/internal/venue"
)

// EngineConfig holds the hedge execution parameters.
type EngineConfig struct {
	Notional  float64
	Leverage  float64
	MinSpread float64
	Strategy  string
	// Simulated makes every fill synthetic at the quoted price; nothing is
	// sent to a venue.
	Simulated bool
	// LiveOrders must be set explicitly before non-simulated orders go out.
	LiveOrders bool
}

// HedgeResult is the outcome of one hedge attempt. Rejections are data, not
// errors: Reason carries the machine-parseable code and Executed is false.
type HedgeResult struct {
	Executed   bool
	Simulated  bool
	Reason     string
	Detail     string
	Spread     float64
	PositionID string
	Position   *domain.Position
}

// rejected builds a rejection result.
func rejected(reason, detail string) HedgeResult {
	return HedgeResult{Reason: reason, Detail: detail}
}

// Engine opens and closes two-legged delta-neutral hedges. Legs are placed
// strictly sequentially, long then short, so a failure is always
// attributable to exactly one leg; the surviving leg is persisted as a
// partial position for the rebalancer.
type Engine struct {
	venues    *venue.Registry
	router    *Router
	guard     *EdgeGuard
	budget    *BudgetManager
	risk      *StrategyRiskManager
	safety    *SafetyCenter
	positions domain.PositionStore
	ledger    *Ledger
	cache     domain.PriceCache
	cfg       EngineConfig
	logger    *slog.Logger

	enabled atomic.Bool
}

// NewEngine creates an Engine. It starts enabled.
func NewEngine(
	venues *venue.Registry,
	router *Router,
	guard *EdgeGuard,
	budget *BudgetManager,
	risk *StrategyRiskManager,
	safety *SafetyCenter,
	positions domain.PositionStore,
	ledger *Ledger,
	cache domain.PriceCache,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	e := &Engine{
		venues:    venues,
		router:    router,
		guard:     guard,
		budget:    budget,
		risk:      risk,
		safety:    safety,
		positions: positions,
		ledger:    ledger,
		cache:     cache,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "engine")),
	}
	e.enabled.Store(true)
	return e
}

// SetEnabled toggles the strategy on or off. A disabled engine rejects
// every attempt with "strategy_disabled".
func (e *Engine) SetEnabled(enabled bool) { e.enabled.Store(enabled) }

// Enabled reports whether the engine accepts new hedges.
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// Strategy returns the owning strategy name.
func (e *Engine) Strategy() string { return e.cfg.Strategy }

// OpenHedge attempts one hedge on symbol: spread check, strategy and budget
// gates, routing, edge guard, then sequential leg placement. Every terminal
// failure records a strategy failure; a non-simulated full success records
// a strategy success.
func (e *Engine) OpenHedge(ctx context.Context, symbol string) (HedgeResult, error) {
	res, err := e.openHedge(ctx, symbol)
	if err != nil {
		return res, err
	}
	if !res.Executed {
		e.risk.RecordFailure(ctx, e.cfg.Strategy)
		// The partial-failure path writes its own hedge log entry.
		if res.Reason != domain.ReasonHedgeLegFailed {
			e.logger.InfoContext(ctx, "hedge rejected",
				slog.String("symbol", symbol),
				slog.String("reason", res.Reason),
				slog.String("detail", res.Detail),
			)
			_ = e.ledger.LogHedge(ctx, domain.HedgeLogEntry{
				Kind:       domain.HedgeLogRejected,
				Strategy:   e.cfg.Strategy,
				Symbol:     symbol,
				PositionID: res.PositionID,
				Reason:     res.Reason,
				Detail:     map[string]any{"detail": res.Detail, "spread": res.Spread},
			})
		}
	} else if !res.Simulated {
		e.risk.RecordSuccess(ctx, e.cfg.Strategy)
	}
	return res, nil
}

func (e *Engine) openHedge(ctx context.Context, symbol string) (HedgeResult, error) {
	// 1. Spread gate on raw marks.
	_, low, _, high, err := e.spread(ctx, symbol)
	if err != nil {
		return rejected(domain.ReasonRoutingFailed, err.Error()), nil
	}
	spread := high - low
	if spread < e.cfg.MinSpread {
		return HedgeResult{
			Reason: domain.ReasonSpreadBelowThreshold,
			Detail: fmt.Sprintf("spread %.4f below minimum %.4f", spread, e.cfg.MinSpread),
			Spread: spread,
		}, nil
	}

	// 2. Strategy and budget gates.
	if !e.enabled.Load() {
		return rejected(domain.ReasonStrategyDisabled, ""), nil
	}
	if frozen, reason := e.risk.IsFrozen(e.cfg.Strategy); frozen {
		return rejected(domain.ReasonStrategyFrozen, reason), nil
	}
	if !e.cfg.Simulated && !e.budget.CanAllocate(e.cfg.Strategy, e.cfg.Notional, 1) {
		return rejected(domain.ReasonBudgetExceeded,
			fmt.Sprintf("notional %.2f does not fit", e.cfg.Notional)), nil
	}

	// 3. Route both legs independently.
	longPlan, _, err := e.router.ChooseVenue(ctx, domain.LegSideLong, symbol, e.cfg.Notional/low)
	if err != nil {
		return rejected(domain.ReasonRoutingFailed, err.Error()), nil
	}
	shortPlan, _, err := e.router.ChooseVenue(ctx, domain.LegSideShort, symbol, e.cfg.Notional/high)
	if err != nil {
		return rejected(domain.ReasonRoutingFailed, err.Error()), nil
	}
	if longPlan.ExpectedFillPrice <= 0 || shortPlan.ExpectedFillPrice <= 0 {
		return rejected(domain.ReasonRoutingFailed, "no usable quote"), nil
	}
	if !longPlan.LiquidityOK || !shortPlan.LiquidityOK {
		v := longPlan.Venue
		if longPlan.LiquidityOK {
			v = shortPlan.Venue
		}
		return rejected(domain.ReasonInsufficientLiq, "venue "+v), nil
	}
	if longPlan.Venue == shortPlan.Venue {
		return rejected(domain.ReasonRoutingFailed, "both legs routed to "+longPlan.Venue), nil
	}
	// 4. Edge guard, with the routed plans for the liquidity signal.
	if adm := e.guard.Check(ctx, symbol, longPlan, shortPlan); !adm.Allowed {
		_ = e.ledger.EmitAlert(ctx, "edge_guard", "hedge blocked", map[string]string{
			"symbol": symbol,
			"reason": adm.Reason,
			"venue":  adm.Venue,
		})
		return rejected(adm.Reason, adm.Detail), nil
	}

	// 5. Reserve budget and place legs sequentially, long first.
	if !e.cfg.Simulated {
		e.budget.Reserve(ctx, e.cfg.Strategy, e.cfg.Notional, 1)
	}
	return e.placeLegs(ctx, symbol, spread, longPlan, shortPlan)
}

// placeLegs places the long leg then the short leg. The long leg failing
// leaves nothing to unwind; the short leg failing after a long fill engages
// a hold and persists a partial position for the rebalancer.
func (e *Engine) placeLegs(ctx context.Context, symbol string, spread float64, longPlan, shortPlan domain.ExecutionPlan) (HedgeResult, error) {
	longFill, err := e.placeLeg(ctx, longPlan, domain.LegSideLong, symbol)
	if err != nil {
		if !e.cfg.Simulated {
			e.budget.Release(ctx, e.cfg.Strategy, e.cfg.Notional, 1)
		}
		var hold *domain.HoldActiveError
		if errors.As(err, &hold) {
			return rejected(holdReasonCode(hold.Reason), hold.Reason.String()), nil
		}
		return rejected(domain.ReasonHedgeLegFailed, "long leg: "+err.Error()), nil
	}

	shortFill, err := e.placeLeg(ctx, shortPlan, domain.LegSideShort, symbol)
	if err != nil {
		return e.handleShortLegFailure(ctx, symbol, spread, longPlan, shortPlan, longFill, err)
	}

	pos := e.buildPosition(symbol, spread, longPlan, shortPlan, longFill, shortFill)
	pos.RecomputeStatus()
	if e.cfg.Simulated {
		pos.Status = domain.PositionStatusSimulated
	}
	if err := e.positions.Create(ctx, pos); err != nil {
		// The orders are already out; surface the write failure but keep
		// the result so callers see what was traded.
		e.logger.ErrorContext(ctx, "position persist failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	kind := domain.HedgeLogExecuted
	if e.cfg.Simulated {
		kind = domain.HedgeLogSimulated
	}
	_ = e.ledger.LogHedge(ctx, domain.HedgeLogEntry{
		Kind:       kind,
		Strategy:   e.cfg.Strategy,
		Symbol:     symbol,
		PositionID: pos.ID,
		Detail: map[string]any{
			"spread":      spread,
			"long_venue":  longPlan.Venue,
			"short_venue": shortPlan.Venue,
			"notional":    e.cfg.Notional,
		},
	})
	e.logger.InfoContext(ctx, "hedge opened",
		slog.String("symbol", symbol),
		slog.String("position_id", pos.ID),
		slog.Float64("spread", spread),
		slog.Bool("simulated", e.cfg.Simulated),
	)
	return HedgeResult{
		Executed:   true,
		Simulated:  e.cfg.Simulated,
		Reason:     domain.ReasonOK,
		Spread:     spread,
		PositionID: pos.ID,
		Position:   &pos,
	}, nil
}

// placeLeg registers the order attempt, then fills the leg: synthetically
// in simulated mode, via the venue client otherwise. The fill's execution
// quality is recorded either way.
func (e *Engine) placeLeg(ctx context.Context, plan domain.ExecutionPlan, side domain.LegSide, symbol string) (domain.OrderFill, error) {
	if err := e.safety.RegisterOrderAttempt(ctx, "engine"); err != nil {
		return domain.OrderFill{}, err
	}

	var fill domain.OrderFill
	var err error
	if e.cfg.Simulated {
		fill = domain.OrderFill{
			OrderID:   uuid.NewString(),
			Price:     plan.ExpectedFillPrice,
			FilledQty: e.cfg.Notional / plan.ExpectedFillPrice,
			Status:    domain.FillStatusSimulated,
		}
	} else {
		client, cerr := e.venues.Get(plan.Venue)
		if cerr != nil {
			return domain.OrderFill{}, cerr
		}
		fill, err = client.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:   symbol,
			Side:     side,
			Notional: e.cfg.Notional,
			Leverage: e.cfg.Leverage,
		})
	}

	rec := domain.ExecutionRecord{
		Strategy:     e.cfg.Strategy,
		Symbol:       symbol,
		Venue:        plan.Venue,
		Side:         side,
		PlannedPrice: plan.ExpectedFillPrice,
		Success:      err == nil,
		Simulated:    e.cfg.Simulated,
	}
	if err == nil {
		rec.FilledPrice = fill.Price
		rec.SlippageBps = slippageBps(side, plan.ExpectedFillPrice, fill.Price)
	}
	_ = e.ledger.RecordExecution(ctx, rec)

	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("engine: place %s leg on %s: %w", side, plan.Venue, err)
	}
	return fill, nil
}

// handleShortLegFailure is the asymmetric-failure path: the long leg is
// filled, the short is not. It engages a hold, persists the partial
// position, and reports the failure as data.
func (e *Engine) handleShortLegFailure(ctx context.Context, symbol string, spread float64, longPlan, shortPlan domain.ExecutionPlan, longFill domain.OrderFill, legErr error) (HedgeResult, error) {
	pos := e.buildPosition(symbol, spread, longPlan, shortPlan, longFill, domain.OrderFill{})
	short := pos.ShortLeg()
	short.Status = domain.LegStatusMissing
	short.BaseSize = 0
	pos.Status = domain.PositionStatusPartial
	pos.Rebalance = domain.RebalanceMeta{Status: domain.RebalancePending}
	pos.Rebalance.FilledRatio = pos.FilledRatio()

	if err := e.positions.Create(ctx, pos); err != nil {
		e.logger.ErrorContext(ctx, "partial position persist failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	var hold *domain.HoldActiveError
	heldAlready := errors.As(legErr, &hold)
	if !heldAlready {
		if err := e.safety.EngageHold(ctx, domain.ManualHold("hedge_leg_failed"), "engine"); err != nil {
			e.logger.ErrorContext(ctx, "hold engage failed", slog.String("error", err.Error()))
		}
	}

	_ = e.ledger.LogHedge(ctx, domain.HedgeLogEntry{
		Kind:       domain.HedgeLogPartialFailure,
		Strategy:   e.cfg.Strategy,
		Symbol:     symbol,
		PositionID: pos.ID,
		Reason:     domain.ReasonHedgeLegFailed,
		Detail: map[string]any{
			"failed_leg":  string(domain.LegSideShort),
			"long_venue":  longPlan.Venue,
			"short_venue": shortPlan.Venue,
			"error":       legErr.Error(),
		},
	})
	_ = e.ledger.EmitAlert(ctx, "hedge", "short leg failed, partial position persisted", map[string]string{
		"symbol":      symbol,
		"position_id": pos.ID,
		"error":       legErr.Error(),
	})
	e.logger.ErrorContext(ctx, "short leg failed",
		slog.String("symbol", symbol),
		slog.String("position_id", pos.ID),
		slog.String("error", legErr.Error()),
	)
	return HedgeResult{
		Reason:     domain.ReasonHedgeLegFailed,
		Detail:     legErr.Error(),
		Spread:     spread,
		PositionID: pos.ID,
		Position:   &pos,
	}, nil
}

// buildPosition assembles the position record from the routed plans and
// fills. Missing fills leave that leg empty for RecomputeStatus to flag.
func (e *Engine) buildPosition(symbol string, spread float64, longPlan, shortPlan domain.ExecutionPlan, longFill, shortFill domain.OrderFill) domain.Position {
	now := time.Now().UTC()
	legStatus := func(fill domain.OrderFill) domain.LegStatus {
		switch fill.Status {
		case domain.FillStatusSimulated:
			return domain.LegStatusSimulated
		case domain.FillStatusPartial:
			return domain.LegStatusPartial
		default:
			return domain.LegStatusFilled
		}
	}
	pos := domain.Position{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		LongVenue:       longPlan.Venue,
		ShortVenue:      shortPlan.Venue,
		Notional:        e.cfg.Notional,
		Leverage:        e.cfg.Leverage,
		EntrySpread:     spread,
		EntryLongPrice:  longFill.Price,
		EntryShortPrice: shortFill.Price,
		Simulated:       e.cfg.Simulated,
		Strategy:        e.cfg.Strategy,
		OpenedAt:        now,
		Rebalance:       domain.RebalanceMeta{Status: domain.RebalanceSettled},
	}
	pos.Legs[0] = domain.Leg{
		Venue:      longPlan.Venue,
		Symbol:     symbol,
		Side:       domain.LegSideLong,
		Status:     legStatus(longFill),
		EntryPrice: longFill.Price,
		BaseSize:   longFill.FilledQty,
		Notional:   e.cfg.Notional,
		PlacedAt:   now,
	}
	pos.Legs[1] = domain.Leg{
		Venue:      shortPlan.Venue,
		Symbol:     symbol,
		Side:       domain.LegSideShort,
		Status:     legStatus(shortFill),
		EntryPrice: shortFill.Price,
		BaseSize:   shortFill.FilledQty,
		Notional:   e.cfg.Notional,
		PlacedAt:   now,
	}
	return pos
}

// CloseHedge closes both legs of a position and realizes its PnL as
// (exit_short - exit_long) * base_size. The realized amount feeds the
// strategy risk ledger.
func (e *Engine) CloseHedge(ctx context.Context, positionID string) (domain.Position, error) {
	pos, err := e.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: close hedge: %w", err)
	}
	if pos.Status == domain.PositionStatusClosed {
		return pos, nil
	}

	exitLong := e.exitPrice(ctx, pos.LongVenue, pos.Symbol, pos.EntryLongPrice)
	exitShort := e.exitPrice(ctx, pos.ShortVenue, pos.Symbol, pos.EntryShortPrice)

	if !pos.Simulated {
		if err := e.safety.RegisterOrderAttempt(ctx, "engine"); err != nil {
			return domain.Position{}, err
		}
	}

	now := time.Now().UTC()
	pos.RealizedPnL = (exitShort - exitLong) * pos.BaseSize()
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &now
	if err := e.positions.Update(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("engine: persist close: %w", err)
	}

	if !pos.Simulated {
		e.budget.Release(ctx, pos.Strategy, pos.Notional, 1)
		e.risk.RecordFill(ctx, pos.Strategy, pos.RealizedPnL)
	}
	_ = e.ledger.LogHedge(ctx, domain.HedgeLogEntry{
		Kind:       domain.HedgeLogClosed,
		Strategy:   pos.Strategy,
		Symbol:     pos.Symbol,
		PositionID: pos.ID,
		Detail: map[string]any{
			"realized_pnl": pos.RealizedPnL,
			"exit_long":    exitLong,
			"exit_short":   exitShort,
		},
	})
	e.logger.InfoContext(ctx, "hedge closed",
		slog.String("position_id", pos.ID),
		slog.Float64("realized_pnl", pos.RealizedPnL),
	)
	return pos, nil
}

// exitPrice fetches the venue mark for closing, falling back to the entry
// price when no quote is available.
func (e *Engine) exitPrice(ctx context.Context, venueName, symbol string, fallback float64) float64 {
	if e.cache != nil {
		if quote, err := e.cache.GetMark(ctx, venueName, symbol); err == nil && quote.Price > 0 {
			return quote.Price
		}
	}
	if client, err := e.venues.Get(venueName); err == nil {
		if price, err := client.MarkPrice(ctx, symbol); err == nil && price > 0 {
			return price
		}
	}
	return fallback
}

// spread finds the cheapest and most expensive venue marks for symbol.
func (e *Engine) spread(ctx context.Context, symbol string) (lowVenue string, low float64, highVenue string, high float64, err error) {
	for _, client := range e.venues.All() {
		price, perr := e.markPrice(ctx, client, symbol)
		if perr != nil || price <= 0 {
			continue
		}
		if lowVenue == "" || price < low {
			lowVenue, low = client.Name(), price
		}
		if highVenue == "" || price > high {
			highVenue, high = client.Name(), price
		}
	}
	if lowVenue == "" || lowVenue == highVenue {
		return "", 0, "", 0, fmt.Errorf("engine: %s: quotes from fewer than two venues", symbol)
	}
	return lowVenue, low, highVenue, high, nil
}

func (e *Engine) markPrice(ctx context.Context, client domain.VenueClient, symbol string) (float64, error) {
	if e.cache != nil {
		quote, err := e.cache.GetMark(ctx, client.Name(), symbol)
		if err == nil && quote.Price > 0 && time.Since(quote.At) < markMaxAge {
			return quote.Price, nil
		}
	}
	return client.MarkPrice(ctx, symbol)
}

// slippageBps is the signed adverse-fill measure: positive means the fill
// was worse than planned for that side.
func slippageBps(side domain.LegSide, planned, filled float64) float64 {
	if planned <= 0 {
		return 0
	}
	if side == domain.LegSideLong {
		return (filled - planned) / planned * 10_000
	}
	return (planned - filled) / planned * 10_000
}

// holdReasonCode maps a hold reason to the edge-guard rejection code used
// when an attempt is aborted mid-flight.
func holdReasonCode(reason domain.HoldReason) string {
	if reason.IsAutoThrottle() {
		return domain.ReasonRiskThrottleActive
	}
	return domain.ReasonHoldActive
}
