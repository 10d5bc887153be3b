package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfarm/hedged/internal/domain"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func newTestBudget(limits map[string]BudgetLimits) (*BudgetManager, *memBudgetStore) {
	store := newMemBudgetStore()
	return NewBudgetManager(store, limits, testLogger()), store
}

func TestCanAllocateCeilings(t *testing.T) {
	m, _ := newTestBudget(map[string]BudgetLimits{
		"delta_neutral":     {MaxNotional: fptr(5_000), MaxPositions: iptr(3)},
		domain.CapitalScope: {MaxNotional: fptr(4_500), MaxPositions: iptr(10)},
	})

	assert.True(t, m.CanAllocate("delta_neutral", 4_500, 3))
	assert.False(t, m.CanAllocate("delta_neutral", 5_001, 1), "strategy notional ceiling")
	assert.False(t, m.CanAllocate("delta_neutral", 1_000, 4), "strategy position ceiling")

	// Capital ceiling binds even when the strategy still has headroom.
	m.Reserve(context.Background(), "delta_neutral", 4_000, 2)
	assert.True(t, m.CanAllocate("delta_neutral", 500, 1))
	assert.False(t, m.CanAllocate("delta_neutral", 800, 1), "capital notional ceiling")
}

func TestCanAllocateUnlimited(t *testing.T) {
	m, _ := newTestBudget(map[string]BudgetLimits{
		"delta_neutral": {}, // nil ceilings on both axes
	})
	assert.True(t, m.CanAllocate("delta_neutral", 1e12, 1_000_000))
	assert.True(t, m.CanAllocate("unknown_strategy", 1e12, 1), "absent scope is unlimited")
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, store := newTestBudget(map[string]BudgetLimits{
		"delta_neutral":     {MaxNotional: fptr(2_000), MaxPositions: iptr(2)},
		domain.CapitalScope: {MaxNotional: fptr(10_000)},
	})

	m.Reserve(ctx, "delta_neutral", 1_000, 1)
	m.Reserve(ctx, "delta_neutral", 1_000, 1)
	assert.False(t, m.CanAllocate("delta_neutral", 1, 0))

	m.Release(ctx, "delta_neutral", 1_000, 1)
	assert.True(t, m.CanAllocate("delta_neutral", 1_000, 1))

	// Usage is persisted for both the strategy and the capital scope.
	entry, err := store.Get(ctx, "delta_neutral")
	require.NoError(t, err)
	assert.InDelta(t, 1_000, entry.UsedNotional, 1e-9)
	assert.Equal(t, 1, entry.UsedPositions)

	capital, err := store.Get(ctx, domain.CapitalScope)
	require.NoError(t, err)
	assert.InDelta(t, 1_000, capital.UsedNotional, 1e-9)
}

func TestReleaseFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestBudget(map[string]BudgetLimits{
		"delta_neutral": {MaxNotional: fptr(2_000)},
	})

	m.Reserve(ctx, "delta_neutral", 500, 1)
	m.Release(ctx, "delta_neutral", 500, 1)
	m.Release(ctx, "delta_neutral", 500, 1) // double release

	snaps := m.Snapshot()
	for _, s := range snaps {
		assert.GreaterOrEqual(t, s.UsedNotional, 0.0, "scope %s", s.Scope)
		assert.GreaterOrEqual(t, s.UsedPositions, 0, "scope %s", s.Scope)
	}
}

func TestLoadAdoptsUsageKeepsConfigCeilings(t *testing.T) {
	ctx := context.Background()
	store := newMemBudgetStore()
	require.NoError(t, store.Upsert(ctx, domain.BudgetEntry{
		Scope:         "delta_neutral",
		MaxNotional:   fptr(99_999), // stale persisted ceiling, must not win
		UsedNotional:  750,
		UsedPositions: 2,
	}))

	m := NewBudgetManager(store, map[string]BudgetLimits{
		"delta_neutral": {MaxNotional: fptr(1_000)},
	}, testLogger())
	require.NoError(t, m.Load(ctx))

	assert.False(t, m.CanAllocate("delta_neutral", 500, 0), "persisted usage counts against the configured ceiling")
	assert.True(t, m.CanAllocate("delta_neutral", 250, 0))
}

func TestRestoreReplacesBook(t *testing.T) {
	ctx := context.Background()
	m, store := newTestBudget(map[string]BudgetLimits{
		"delta_neutral": {MaxNotional: fptr(1_000)},
	})
	m.Reserve(ctx, "delta_neutral", 900, 1)

	require.NoError(t, m.Restore(ctx, []domain.BudgetEntry{
		{Scope: "delta_neutral", MaxNotional: fptr(1_000), UsedNotional: 100, UsedPositions: 1},
	}))

	assert.True(t, m.CanAllocate("delta_neutral", 800, 0))
	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 100, entries[0].UsedNotional, 1e-9)
}

func TestHeadroom(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestBudget(map[string]BudgetLimits{
		"delta_neutral": {MaxNotional: fptr(1_000)},
		"unlimited":     {},
	})
	m.Reserve(ctx, "delta_neutral", 400, 1)

	h := m.Headroom("delta_neutral")
	require.NotNil(t, h)
	assert.InDelta(t, 600, *h, 1e-9)
	assert.Nil(t, m.Headroom("unlimited"))
	assert.Nil(t, m.Headroom("missing"))
}
