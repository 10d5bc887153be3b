package domain

import "time"

// CapitalScope is the reserved scope name for the capital-wide budget entry.
const CapitalScope = "capital"

// BudgetEntry is the notional/position-count ceiling accounting for one
// strategy, or for the whole book under CapitalScope. A nil ceiling means
// unlimited on that axis.
type BudgetEntry struct {
	Scope         string
	MaxNotional   *float64
	MaxPositions  *int
	UsedNotional  float64
	UsedPositions int
	UpdatedAt     time.Time
}

// NotionalHeadroom returns max(ceiling - usage, 0), or nil when unlimited.
func (b BudgetEntry) NotionalHeadroom() *float64 {
	if b.MaxNotional == nil {
		return nil
	}
	h := *b.MaxNotional - b.UsedNotional
	if h < 0 {
		h = 0
	}
	return &h
}

// PositionHeadroom returns max(ceiling - usage, 0), or nil when unlimited.
func (b BudgetEntry) PositionHeadroom() *int {
	if b.MaxPositions == nil {
		return nil
	}
	h := *b.MaxPositions - b.UsedPositions
	if h < 0 {
		h = 0
	}
	return &h
}

// Blocked reports whether usage is at or over either ceiling.
func (b BudgetEntry) Blocked() bool {
	if b.MaxNotional != nil && b.UsedNotional >= *b.MaxNotional {
		return true
	}
	if b.MaxPositions != nil && b.UsedPositions >= *b.MaxPositions {
		return true
	}
	return false
}

// BudgetSnapshot is the derived, read-only view of one budget entry.
type BudgetSnapshot struct {
	Scope            string
	UsedNotional     float64
	UsedPositions    int
	MaxNotional      *float64
	MaxPositions     *int
	NotionalHeadroom *float64
	PositionHeadroom *int
	Blocked          bool
}

// Snapshot derives the read-only view.
func (b BudgetEntry) Snapshot() BudgetSnapshot {
	return BudgetSnapshot{
		Scope:            b.Scope,
		UsedNotional:     b.UsedNotional,
		UsedPositions:    b.UsedPositions,
		MaxNotional:      b.MaxNotional,
		MaxPositions:     b.MaxPositions,
		NotionalHeadroom: b.NotionalHeadroom(),
		PositionHeadroom: b.PositionHeadroom(),
		Blocked:          b.Blocked(),
	}
}
