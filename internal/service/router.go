package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfarm/hedged/internal/domain"
	"github.com/quantfarm/hedged/internal/venue"
)

// markMaxAge bounds how old a cached mark may be before the router asks the
// venue directly.
const markMaxAge = 10 * time.Second

// Scorer optionally overrides the router's price-based pick using signals
// the router does not model, such as book depth or venue latency. Returning
// a venue absent from candidates falls back to the price-based pick.
type Scorer interface {
	Score(side domain.LegSide, symbol string, candidates []domain.ExecutionPlan) string
}

// Router chooses the venue for one leg of a hedge. It only reads quotes and
// balances; all candidates are recomputed on every call and never persisted.
type Router struct {
	venues    *venue.Registry
	fees      map[string]float64
	cache     domain.PriceCache
	scorer    Scorer
	simulated bool
	logger    *slog.Logger
}

// NewRouter creates a Router. fees maps venue name to fee in bps. scorer
// may be nil. In simulated mode liquidity checks always pass.
func NewRouter(
	venues *venue.Registry,
	fees map[string]float64,
	cache domain.PriceCache,
	scorer Scorer,
	simulated bool,
	logger *slog.Logger,
) *Router {
	return &Router{
		venues:    venues,
		fees:      fees,
		cache:     cache,
		scorer:    scorer,
		simulated: simulated,
		logger:    logger.With(slog.String("component", "router")),
	}
}

// ChooseVenue picks the venue for one leg sized in base units. Quote or
// balance failures never abort routing: the venue degrades to a
// zero-liquidity candidate and loses to any liquid one. The returned plan
// may still carry LiquidityOK=false; callers must check it.
func (r *Router) ChooseVenue(ctx context.Context, side domain.LegSide, symbol string, baseSize float64) (domain.ExecutionPlan, []domain.ExecutionPlan, error) {
	clients := r.venues.All()
	if len(clients) == 0 {
		return domain.ExecutionPlan{}, nil, fmt.Errorf("router: %s %s: no venues registered", side, symbol)
	}

	candidates := make([]domain.ExecutionPlan, 0, len(clients))
	for _, client := range clients {
		candidates = append(candidates, r.candidate(ctx, client, side, symbol, baseSize))
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if r.better(side, c, best) {
			best = c
		}
	}

	if r.scorer != nil {
		if name := r.scorer.Score(side, symbol, candidates); name != "" {
			for _, c := range candidates {
				if c.Venue == name {
					return c, candidates, nil
				}
			}
			r.logger.DebugContext(ctx, "scorer named unranked venue, using price pick",
				slog.String("venue", name),
			)
		}
	}
	return best, candidates, nil
}

// candidate builds one venue's plan for the leg.
func (r *Router) candidate(ctx context.Context, client domain.VenueClient, side domain.LegSide, symbol string, baseSize float64) domain.ExecutionPlan {
	name := client.Name()
	plan := domain.ExecutionPlan{Venue: name, FeeBps: r.fees[name]}

	price, err := r.markPrice(ctx, client, symbol)
	if err != nil || price <= 0 {
		if err != nil {
			r.logger.DebugContext(ctx, "mark price unavailable",
				slog.String("venue", name),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
		return plan
	}

	fee := plan.FeeBps / 10_000
	plan.ExpectedFillPrice = price
	if side == domain.LegSideLong {
		plan.EffectivePrice = price * (1 + fee)
	} else {
		plan.EffectivePrice = price * (1 - fee)
	}
	plan.ExpectedNotional = baseSize * price
	plan.LiquidityOK = r.liquidityOK(ctx, client, plan.ExpectedNotional)
	return plan
}

// markPrice reads the cached mark when fresh, otherwise asks the venue.
func (r *Router) markPrice(ctx context.Context, client domain.VenueClient, symbol string) (float64, error) {
	if r.cache != nil {
		quote, err := r.cache.GetMark(ctx, client.Name(), symbol)
		if err == nil && quote.Price > 0 && time.Since(quote.At) < markMaxAge {
			return quote.Price, nil
		}
	}
	return client.MarkPrice(ctx, symbol)
}

// liquidityOK checks the venue can cover the notional. Always true in
// simulated mode; on a balance fetch failure the venue counts as illiquid.
func (r *Router) liquidityOK(ctx context.Context, client domain.VenueClient, notional float64) bool {
	if r.simulated {
		return true
	}
	limits, err := client.AccountLimits(ctx)
	if err != nil {
		return false
	}
	return limits.AvailableBalance >= notional
}

// better reports whether a beats b for the given side. Liquidity dominates
// price; among equally-liquid venues buys prefer the lower effective price
// and sells the higher. A venue without a quote never wins.
func (r *Router) better(side domain.LegSide, a, b domain.ExecutionPlan) bool {
	if a.LiquidityOK != b.LiquidityOK {
		return a.LiquidityOK
	}
	if a.EffectivePrice <= 0 {
		return false
	}
	if b.EffectivePrice <= 0 {
		return true
	}
	if side == domain.LegSideLong {
		return a.EffectivePrice < b.EffectivePrice
	}
	return a.EffectivePrice > b.EffectivePrice
}
