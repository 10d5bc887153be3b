package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest mark price per venue/symbol.
type PriceCache interface {
	SetMark(ctx context.Context, venue, symbol string, price float64, at time.Time) error
	GetMark(ctx context.Context, venue, symbol string) (MarkQuote, error)
}

// RateLimiter provides distributed sliding-window rate limiting. It backs
// the runaway-trade breaker in front of every order placement.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking; the rebalancer takes a lock per
// cycle so at most one instance reconciles partial positions at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Alert is one operator notification, published to the alert stream and
// drained by the alert pump. Emission is fire-and-forget: a failed publish
// must never abort a trade decision.
type Alert struct {
	Kind  string
	Text  string
	Extra map[string]string
	At    time.Time
}

// StreamMessage is a single entry read from the alert stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// AlertBus is the pub/sub + durable stream transport for alerts.
type AlertBus interface {
	Publish(ctx context.Context, alert Alert) error
	Read(ctx context.Context, lastID string, count int) ([]StreamMessage, error)
}
