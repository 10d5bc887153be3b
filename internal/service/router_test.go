package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfarm/hedged/internal/domain"
	"github.com/quantfarm/hedged/internal/venue"
)

func newTestRouter(simulated bool, scorer Scorer, clients ...domain.VenueClient) (*Router, *memPriceCache) {
	cache := newMemPriceCache()
	fees := map[string]float64{"alpha": 2, "beta": 5}
	return NewRouter(venue.NewRegistry(clients...), fees, cache, scorer, simulated, testLogger()), cache
}

func TestChooseVenuePrefersEffectivePrice(t *testing.T) {
	ctx := context.Background()
	alpha := venue.NewSim("alpha", 100, 1e9)
	beta := venue.NewSim("beta", 100, 1e9)
	alpha.SetMarkPrice("BTC-PERP", 100.00)
	beta.SetMarkPrice("BTC-PERP", 100.01)
	r, _ := newTestRouter(true, nil, alpha, beta)

	// Long leg buys: alpha is cheaper outright and carries the lower fee.
	plan, candidates, err := r.ChooseVenue(ctx, domain.LegSideLong, "BTC-PERP", 10)
	require.NoError(t, err)
	assert.Equal(t, "alpha", plan.Venue)
	assert.Len(t, candidates, 2)
	assert.InDelta(t, 100.00*(1+0.0002), plan.EffectivePrice, 1e-9)

	// Short leg sells: beta's higher mark wins despite the higher fee
	// (100.01 * (1 - 0.0005) < 100.00 * (1 - 0.0002), so alpha wins here).
	plan, _, err = r.ChooseVenue(ctx, domain.LegSideShort, "BTC-PERP", 10)
	require.NoError(t, err)
	assert.Equal(t, "alpha", plan.Venue)

	// With a wider raw spread the fee no longer flips the pick.
	beta.SetMarkPrice("BTC-PERP", 102)
	plan, _, err = r.ChooseVenue(ctx, domain.LegSideShort, "BTC-PERP", 10)
	require.NoError(t, err)
	assert.Equal(t, "beta", plan.Venue)
}

func TestChooseVenueLiquidityDominates(t *testing.T) {
	ctx := context.Background()
	// alpha quotes better but cannot cover the notional.
	alpha := venue.NewSim("alpha", 100, 50)
	beta := venue.NewSim("beta", 100, 1e9)
	alpha.SetMarkPrice("BTC-PERP", 99)
	beta.SetMarkPrice("BTC-PERP", 101)
	r, _ := newTestRouter(false, nil, alpha, beta)

	plan, _, err := r.ChooseVenue(ctx, domain.LegSideLong, "BTC-PERP", 10)
	require.NoError(t, err)
	assert.Equal(t, "beta", plan.Venue, "a liquid venue beats a cheaper illiquid one")
	assert.True(t, plan.LiquidityOK)
}

func TestChooseVenueAllIlliquid(t *testing.T) {
	ctx := context.Background()
	alpha := venue.NewSim("alpha", 100, 1)
	beta := venue.NewSim("beta", 100, 1)
	alpha.SetMarkPrice("BTC-PERP", 100)
	beta.SetMarkPrice("BTC-PERP", 100.5)
	r, _ := newTestRouter(false, nil, alpha, beta)

	plan, _, err := r.ChooseVenue(ctx, domain.LegSideLong, "BTC-PERP", 10)
	require.NoError(t, err)
	assert.False(t, plan.LiquidityOK, "routing degrades, callers must check the flag")
}

func TestChooseVenueNoVenues(t *testing.T) {
	r, _ := newTestRouter(true, nil)
	_, _, err := r.ChooseVenue(context.Background(), domain.LegSideLong, "BTC-PERP", 10)
	assert.Error(t, err)
}

func TestChooseVenueUsesFreshCachedMark(t *testing.T) {
	ctx := context.Background()
	alpha := venue.NewSim("alpha", 100, 1e9)
	beta := venue.NewSim("beta", 100, 1e9)
	alpha.SetMarkPrice("BTC-PERP", 100)
	beta.SetMarkPrice("BTC-PERP", 100)
	r, cache := newTestRouter(true, nil, alpha, beta)

	// Fresh cached quote undercuts alpha's direct mark and wins the buy.
	require.NoError(t, cache.SetMark(ctx, "beta", "BTC-PERP", 98, time.Now()))
	plan, _, err := r.ChooseVenue(ctx, domain.LegSideLong, "BTC-PERP", 10)
	require.NoError(t, err)
	assert.Equal(t, "beta", plan.Venue)
	assert.InDelta(t, 98, plan.ExpectedFillPrice, 1e-9)

	// A stale cached quote is ignored in favor of the venue's own mark, so
	// beta no longer undercuts alpha and alpha's lower fee wins the tie.
	require.NoError(t, cache.SetMark(ctx, "beta", "BTC-PERP", 1, time.Now().Add(-time.Minute)))
	plan, _, err = r.ChooseVenue(ctx, domain.LegSideLong, "BTC-PERP", 10)
	require.NoError(t, err)
	assert.Equal(t, "alpha", plan.Venue)
	assert.InDelta(t, 100, plan.ExpectedFillPrice, 1e-9)
}

type pinnedScorer struct{ pick string }

func (s pinnedScorer) Score(domain.LegSide, string, []domain.ExecutionPlan) string { return s.pick }

func TestChooseVenueScorerOverride(t *testing.T) {
	ctx := context.Background()
	alpha := venue.NewSim("alpha", 100, 1e9)
	beta := venue.NewSim("beta", 100, 1e9)
	alpha.SetMarkPrice("BTC-PERP", 99)
	beta.SetMarkPrice("BTC-PERP", 101)

	r, _ := newTestRouter(true, pinnedScorer{pick: "beta"}, alpha, beta)
	plan, _, err := r.ChooseVenue(ctx, domain.LegSideLong, "BTC-PERP", 10)
	require.NoError(t, err)
	assert.Equal(t, "beta", plan.Venue, "scorer overrides the price pick")

	// An unknown scorer pick falls back to the price-based winner.
	r, _ = newTestRouter(true, pinnedScorer{pick: "gamma"}, alpha, beta)
	plan, _, err = r.ChooseVenue(ctx, domain.LegSideLong, "BTC-PERP", 10)
	require.NoError(t, err)
	assert.Equal(t, "alpha", plan.Venue)
}
