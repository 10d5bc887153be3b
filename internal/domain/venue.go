package domain

import (
	"context"
	"time"
)

// OrderFillStatus is the venue's report of an order's outcome.
type OrderFillStatus string

const (
	FillStatusFilled    OrderFillStatus = "filled"
	FillStatusPartial   OrderFillStatus = "partial"
	FillStatusRejected  OrderFillStatus = "rejected"
	FillStatusSimulated OrderFillStatus = "simulated"
)

// OrderRequest describes one leg order sized by notional.
type OrderRequest struct {
	Symbol   string
	Side     LegSide
	Notional float64
	Leverage float64
}

// OrderFill is the venue's response to a placed order.
type OrderFill struct {
	OrderID   string
	Price     float64
	FilledQty float64
	Status    OrderFillStatus
}

// AccountLimits is the venue's view of available trading capacity.
type AccountLimits struct {
	AvailableBalance float64
	MaxLeverage      float64
}

// VenueClient is the quote and order-placement primitive for one venue.
// Implementations must be safe for concurrent use; failures surface as
// ordinary errors and are funneled into the normal failure accounting.
type VenueClient interface {
	Name() string
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderFill, error)
	AccountLimits(ctx context.Context) (AccountLimits, error)
}

// ExecutionPlan is the router's per-venue candidate for one leg. It is
// ephemeral: recomputed on every routing call and never persisted.
type ExecutionPlan struct {
	Venue             string
	ExpectedFillPrice float64
	FeeBps            float64
	EffectivePrice    float64
	LiquidityOK       bool
	ExpectedNotional  float64
}

// MarkQuote is a cached venue mark price with its observation time.
type MarkQuote struct {
	Venue  string
	Symbol string
	Price  float64
	At     time.Time
}
