// Package venue holds the venue client registry and the simulated venue
// used by simulate mode and tests.
package venue

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfarm/hedged/internal/domain"
)

// SimClient is a deterministic in-process venue. Quotes follow a slow
// sinusoidal walk around the start price so two sim venues with different
// phases produce a realistic, occasionally-crossing spread. Fills are
// immediate at the quoted price unless failure injection is armed.
type SimClient struct {
	name       string
	startPrice float64
	phase      float64
	epoch      time.Time

	mu       sync.Mutex
	balance  float64
	failNext int
	override map[string]float64
}

// SimOption customizes a SimClient.
type SimOption func(*SimClient)

// WithPhase offsets the price walk so two sim venues diverge.
func WithPhase(phase float64) SimOption {
	return func(c *SimClient) { c.phase = phase }
}

// NewSim creates a simulated venue client.
func NewSim(name string, startPrice, balance float64, opts ...SimOption) *SimClient {
	c := &SimClient{
		name:       name,
		startPrice: startPrice,
		epoch:      time.Now(),
		balance:    balance,
		override:   make(map[string]float64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the venue name.
func (c *SimClient) Name() string { return c.name }

// MarkPrice returns the current synthetic mark for symbol.
func (c *SimClient) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.override[symbol]; ok {
		return p, nil
	}
	// ~0.3% amplitude over a 5 minute period. Deterministic given epoch.
	t := time.Since(c.epoch).Seconds()
	drift := math.Sin(t/300*2*math.Pi+c.phase) * 0.003
	return c.startPrice * (1 + drift), nil
}

// SetMarkPrice pins the quote for symbol. Tests and simulate mode use it
// to stage exact spreads.
func (c *SimClient) SetMarkPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override[symbol] = price
}

// FailNext makes the next n PlaceOrder calls return an error. Used to
// exercise the partial-hedge path.
func (c *SimClient) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// PlaceOrder fills the order at the current mark. The fill debits the sim
// balance by the margin requirement (notional / leverage).
func (c *SimClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderFill, error) {
	price, err := c.MarkPrice(ctx, req.Symbol)
	if err != nil {
		return domain.OrderFill{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return domain.OrderFill{}, fmt.Errorf("venue %s: order rejected", c.name)
	}

	leverage := req.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	margin := req.Notional / leverage
	if margin > c.balance {
		return domain.OrderFill{}, fmt.Errorf("venue %s: insufficient balance %.2f for margin %.2f", c.name, c.balance, margin)
	}
	c.balance -= margin

	return domain.OrderFill{
		OrderID:   uuid.NewString(),
		Price:     price,
		FilledQty: req.Notional / price,
		Status:    domain.FillStatusSimulated,
	}, nil
}

// AccountLimits returns the remaining sim balance.
func (c *SimClient) AccountLimits(ctx context.Context) (domain.AccountLimits, error) {
	if err := ctx.Err(); err != nil {
		return domain.AccountLimits{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.AccountLimits{AvailableBalance: c.balance, MaxLeverage: 10}, nil
}

// Credit adds funds back to the sim balance, e.g. when a position closes.
func (c *SimClient) Credit(amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance += amount
}

var _ domain.VenueClient = (*SimClient)(nil)
