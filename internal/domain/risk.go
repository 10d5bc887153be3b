package domain

import "time"

// StrategyRiskState is the per-strategy breach/freeze ledger. It is lazily
// created on first fill or failure and mutated only through the strategy
// risk manager.
type StrategyRiskState struct {
	Strategy            string
	RealizedPnLToday    float64
	ConsecutiveFailures int
	Frozen              bool
	FreezeReason        string
	UpdatedAt           time.Time
}

// AutoHedgeState summarizes the auto-hedge daemon's recent activity. It
// drives operator alerting and the risk guard's failure-breach check.
type AutoHedgeState struct {
	Enabled             bool
	LastChecked         time.Time
	LastResult          string
	LastExecutionAt     time.Time
	LastSuccessAt       time.Time
	ConsecutiveFailures int
}

// ExecutionRecord captures realized execution quality for one placed leg:
// the routed plan price versus the actual fill. The edge guard consumes the
// trailing window of these to gate new hedges.
type ExecutionRecord struct {
	ID           string
	Strategy     string
	Symbol       string
	Venue        string
	Side         LegSide
	PlannedPrice float64
	FilledPrice  float64
	SlippageBps  float64
	Success      bool
	Simulated    bool
	At           time.Time
}

// PnLSnapshot is one point of the unrealized-PnL/exposure trend the edge
// guard inspects for the downtrend check.
type PnLSnapshot struct {
	UnrealizedPnL float64
	Exposure      float64
	At            time.Time
}

// HedgeLogKind classifies hedge-log entries.
type HedgeLogKind string

const (
	HedgeLogExecuted       HedgeLogKind = "executed"
	HedgeLogSimulated      HedgeLogKind = "simulated"
	HedgeLogRejected       HedgeLogKind = "rejected"
	HedgeLogPartialFailure HedgeLogKind = "partial_failure"
	HedgeLogRebalanced     HedgeLogKind = "rebalanced"
	HedgeLogClosed         HedgeLogKind = "closed"
)

// HedgeLogEntry is one append-only record of a hedge attempt outcome. Reason
// carries the machine-parseable rejection or failure code when applicable.
type HedgeLogEntry struct {
	ID         string
	Kind       HedgeLogKind
	Strategy   string
	Symbol     string
	PositionID string
	Reason     string
	Detail     map[string]any
	At         time.Time
}
