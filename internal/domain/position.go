package domain

import (
	"math"
	"time"
)

// PositionStatus tracks the lifecycle of a hedge position.
type PositionStatus string

const (
	PositionStatusOpen      PositionStatus = "open"
	PositionStatusPartial   PositionStatus = "partial"
	PositionStatusClosed    PositionStatus = "closed"
	PositionStatusSimulated PositionStatus = "simulated"
)

// LegSide identifies which side of the hedge a leg belongs to.
type LegSide string

const (
	LegSideLong  LegSide = "long"
	LegSideShort LegSide = "short"
)

// LegStatus tracks the fill state of one leg.
type LegStatus string

const (
	LegStatusOpen      LegStatus = "open"
	LegStatusPartial   LegStatus = "partial"
	LegStatusFilled    LegStatus = "filled"
	LegStatusMissing   LegStatus = "missing"
	LegStatusSimulated LegStatus = "simulated"
)

// FillEpsilon is the relative tolerance used when deciding whether a leg
// is completely filled.
const FillEpsilon = 1e-6

// Leg is one side of a two-sided hedge position on a single venue.
// BaseSize is the filled base quantity; the target base size is derived as
// Notional / EntryPrice so that base_size * entry_price ~= notional holds
// for a complete leg.
type Leg struct {
	Venue      string
	Symbol     string
	Side       LegSide
	Status     LegStatus
	EntryPrice float64
	BaseSize   float64
	Notional   float64
	PlacedAt   time.Time
}

// TargetBaseSize returns the base quantity this leg should hold when fully
// filled. Returns 0 when the entry price is unknown.
func (l Leg) TargetBaseSize() float64 {
	if l.EntryPrice <= 0 {
		return 0
	}
	return l.Notional / l.EntryPrice
}

// FilledRatio returns BaseSize relative to the target base size, capped at 1.
func (l Leg) FilledRatio() float64 {
	target := l.TargetBaseSize()
	if target <= 0 {
		return 0
	}
	r := l.BaseSize / target
	if r > 1 {
		return 1
	}
	return r
}

// Complete reports whether the leg is filled within FillEpsilon.
func (l Leg) Complete() bool {
	return l.FilledRatio() >= 1-FillEpsilon
}

// RebalanceStatus describes what the rebalancer last decided about a
// partial position.
type RebalanceStatus string

const (
	RebalancePending   RebalanceStatus = "pending"
	RebalanceWaiting   RebalanceStatus = "waiting"
	RebalanceSettled   RebalanceStatus = "settled"
	RebalanceExhausted RebalanceStatus = "exhausted"
	RebalanceDisabled  RebalanceStatus = "disabled"
	RebalanceFrozen    RebalanceStatus = "frozen"
	RebalanceHold      RebalanceStatus = "hold"
)

// RebalanceMeta carries the rebalancer's bookkeeping for one position.
type RebalanceMeta struct {
	Attempts    int
	LastAttempt time.Time
	Status      RebalanceStatus
	FilledRatio float64
	LastError   string
}

// Position is a two-legged delta-neutral hedge across two venues.
// Legs[0] is always the long leg and Legs[1] the short leg.
type Position struct {
	ID              string
	Symbol          string
	LongVenue       string
	ShortVenue      string
	Notional        float64
	Leverage        float64
	EntrySpread     float64
	EntryLongPrice  float64
	EntryShortPrice float64
	Status          PositionStatus
	Simulated       bool
	Strategy        string
	Legs            [2]Leg
	Rebalance       RebalanceMeta
	RealizedPnL     float64
	OpenedAt        time.Time
	ClosedAt        *time.Time
}

// LongLeg returns a pointer to the long leg.
func (p *Position) LongLeg() *Leg { return &p.Legs[0] }

// ShortLeg returns a pointer to the short leg.
func (p *Position) ShortLeg() *Leg { return &p.Legs[1] }

// FilledRatio is the minimum of the two legs' fill ratios.
func (p *Position) FilledRatio() float64 {
	return math.Min(p.Legs[0].FilledRatio(), p.Legs[1].FilledRatio())
}

// RecomputeStatus derives the position status from leg fill state: "open"
// when both legs are complete within FillEpsilon, "partial" otherwise.
// Closed and simulated positions are left untouched.
func (p *Position) RecomputeStatus() {
	if p.Status == PositionStatusClosed || p.Status == PositionStatusSimulated {
		return
	}
	if p.FilledRatio() >= 1-FillEpsilon {
		p.Status = PositionStatusOpen
	} else {
		p.Status = PositionStatusPartial
	}
	p.Rebalance.FilledRatio = p.FilledRatio()
}

// BaseSize returns the hedged base quantity, taken from the long leg target.
func (p *Position) BaseSize() float64 {
	return p.Legs[0].TargetBaseSize()
}
