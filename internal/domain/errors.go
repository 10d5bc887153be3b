package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrLockHeld        = errors.New("lock already held")
	ErrVenueUnknown    = errors.New("unknown venue")
	ErrNoQuote         = errors.New("no usable quote")
	ErrSelfApproval    = errors.New("resume approver must differ from requester")
	ErrNoResumePending = errors.New("no pending resume request")
)

// Rejection reason codes returned as data by the admission and execution
// paths. They are never raised as errors; callers feed them into strategy
// failure accounting.
const (
	ReasonOK                   = "ok"
	ReasonDesync               = "desync"
	ReasonHoldActive           = "hold_active"
	ReasonRiskThrottleActive   = "risk_throttle_active"
	ReasonInsufficientLiq      = "insufficient_liquidity"
	ReasonPartialOutstanding   = "partial_hedge_outstanding"
	ReasonSlippageDegraded     = "slippage_degraded"
	ReasonExecFailRateHigh     = "execution_fail_rate_high"
	ReasonPnLDowntrend         = "pnl_downtrend_with_exposure"
	ReasonSpreadBelowThreshold = "spread_below_threshold"
	ReasonStrategyFrozen       = "strategy_frozen"
	ReasonStrategyDisabled     = "strategy_disabled"
	ReasonBudgetExceeded       = "budget_exceeded"
	ReasonRoutingFailed        = "routing_failed"
	ReasonHedgeLegFailed       = "hedge_leg_failed"
)
