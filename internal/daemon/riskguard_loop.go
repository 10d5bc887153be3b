package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfarm/hedged/internal/domain"
	"github.com/quantfarm/hedged/internal/service"
	"github.com/quantfarm/hedged/internal/venue"
)

// RiskGuardLoop runs the risk guard's breach sweep on a cadence and feeds
// the edge guard one PnL/exposure snapshot per cycle.
type RiskGuardLoop struct {
	guard     *service.RiskGuard
	edge      *service.EdgeGuard
	positions domain.PositionStore
	venues    *venue.Registry
	cache     domain.PriceCache
	interval  time.Duration
	logger    *slog.Logger
}

// NewRiskGuardLoop creates the cadence.
func NewRiskGuardLoop(
	guard *service.RiskGuard,
	edge *service.EdgeGuard,
	positions domain.PositionStore,
	venues *venue.Registry,
	cache domain.PriceCache,
	interval time.Duration,
	logger *slog.Logger,
) *RiskGuardLoop {
	return &RiskGuardLoop{
		guard:     guard,
		edge:      edge,
		positions: positions,
		venues:    venues,
		cache:     cache,
		interval:  interval,
		logger:    logger.With(slog.String("component", "risk_guard_loop")),
	}
}

// Run sweeps once per interval until ctx ends. A failed sweep is logged
// and retried on schedule; it never stops the loop.
func (l *RiskGuardLoop) Run(ctx context.Context) error {
	l.logger.Info("risk guard cadence starting", slog.Duration("interval", l.interval))
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("risk guard cadence stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := l.guard.Evaluate(ctx); err != nil {
				l.logger.ErrorContext(ctx, "breach sweep failed", slog.String("error", err.Error()))
			}
			l.recordSnapshot(ctx)
		}
	}
}

// recordSnapshot computes the book's unrealized PnL and exposure from the
// current marks and hands it to the edge guard's downtrend window.
func (l *RiskGuardLoop) recordSnapshot(ctx context.Context) {
	open, err := l.positions.ListOpen(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "open position scan failed", slog.String("error", err.Error()))
		return
	}

	var unrealized, exposure float64
	for _, pos := range open {
		if pos.Simulated {
			continue
		}
		exposure += pos.Notional
		longMark := l.mark(ctx, pos.LongVenue, pos.Symbol, pos.EntryLongPrice)
		shortMark := l.mark(ctx, pos.ShortVenue, pos.Symbol, pos.EntryShortPrice)
		unrealized += (shortMark - longMark) * pos.BaseSize()
	}
	l.edge.RecordPnL(domain.PnLSnapshot{
		UnrealizedPnL: unrealized,
		Exposure:      exposure,
		At:            time.Now().UTC(),
	})
}

func (l *RiskGuardLoop) mark(ctx context.Context, venueName, symbol string, fallback float64) float64 {
	if l.cache != nil {
		if quote, err := l.cache.GetMark(ctx, venueName, symbol); err == nil && quote.Price > 0 {
			return quote.Price
		}
	}
	if client, err := l.venues.Get(venueName); err == nil {
		if price, err := client.MarkPrice(ctx, symbol); err == nil && price > 0 {
			return price
		}
	}
	return fallback
}
