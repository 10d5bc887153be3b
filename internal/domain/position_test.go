package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLegTargetAndRatio(t *testing.T) {
	leg := Leg{EntryPrice: 100, Notional: 1_000, BaseSize: 10}
	assert.InDelta(t, 10, leg.TargetBaseSize(), 1e-12)
	assert.InDelta(t, 1, leg.FilledRatio(), 1e-12)
	assert.True(t, leg.Complete())

	leg.BaseSize = 5
	assert.InDelta(t, 0.5, leg.FilledRatio(), 1e-12)
	assert.False(t, leg.Complete())

	// Overfills cap at 1 rather than inflating the ratio.
	leg.BaseSize = 12
	assert.InDelta(t, 1, leg.FilledRatio(), 1e-12)
}

func TestLegUnknownEntryPrice(t *testing.T) {
	leg := Leg{Notional: 1_000, BaseSize: 10}
	assert.Zero(t, leg.TargetBaseSize())
	assert.Zero(t, leg.FilledRatio())
	assert.False(t, leg.Complete())
}

func TestLegCompleteWithinEpsilon(t *testing.T) {
	// A fill short by less than the relative tolerance still counts.
	leg := Leg{EntryPrice: 100, Notional: 1_000, BaseSize: 10 * (1 - FillEpsilon/2)}
	assert.True(t, leg.Complete())

	leg.BaseSize = 10 * (1 - 10*FillEpsilon)
	assert.False(t, leg.Complete())
}

func TestPositionFilledRatioTakesMinimum(t *testing.T) {
	var p Position
	p.Legs[0] = Leg{Side: LegSideLong, EntryPrice: 100, Notional: 1_000, BaseSize: 10}
	p.Legs[1] = Leg{Side: LegSideShort, EntryPrice: 102, Notional: 1_000, BaseSize: 1_000 / 102.0 / 2}
	assert.InDelta(t, 0.5, p.FilledRatio(), 1e-9)
}

func TestRecomputeStatus(t *testing.T) {
	var p Position
	p.Legs[0] = Leg{Side: LegSideLong, EntryPrice: 100, Notional: 1_000, BaseSize: 10}
	p.Legs[1] = Leg{Side: LegSideShort, EntryPrice: 102, Notional: 1_000, BaseSize: 1_000 / 102.0}

	p.RecomputeStatus()
	assert.Equal(t, PositionStatusOpen, p.Status)
	assert.InDelta(t, 1, p.Rebalance.FilledRatio, 1e-9)

	p.Legs[1].BaseSize = 0
	p.RecomputeStatus()
	assert.Equal(t, PositionStatusPartial, p.Status)
	assert.Zero(t, p.Rebalance.FilledRatio)
}

func TestRecomputeStatusLeavesTerminalStates(t *testing.T) {
	p := Position{Status: PositionStatusClosed}
	p.RecomputeStatus()
	assert.Equal(t, PositionStatusClosed, p.Status)

	p = Position{Status: PositionStatusSimulated}
	p.Legs[0] = Leg{EntryPrice: 100, Notional: 1_000, BaseSize: 10}
	p.Legs[1] = Leg{EntryPrice: 100, Notional: 1_000, BaseSize: 10}
	p.RecomputeStatus()
	assert.Equal(t, PositionStatusSimulated, p.Status)
}

func TestPositionLegAccessors(t *testing.T) {
	var p Position
	p.Legs[0] = Leg{Side: LegSideLong, EntryPrice: 50, Notional: 1_000}
	p.Legs[1] = Leg{Side: LegSideShort, EntryPrice: 52, Notional: 1_000}

	assert.Equal(t, LegSideLong, p.LongLeg().Side)
	assert.Equal(t, LegSideShort, p.ShortLeg().Side)
	assert.InDelta(t, 20, p.BaseSize(), 1e-9, "base size comes from the long leg target")

	// Accessors return pointers into the position, not copies.
	p.ShortLeg().BaseSize = 5
	assert.InDelta(t, 5, p.Legs[1].BaseSize, 1e-12)
}
