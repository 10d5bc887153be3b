package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfarm/hedged/internal/domain"
)

// alertStream is the durable stream alerts are appended to; the alert pump
// daemon drains it into the notification channels.
const alertStream = "alerts"

// AlertBus implements domain.AlertBus using a Redis stream with approximate
// MAXLEN trimming. Publishing is cheap enough to sit on the trading path;
// delivery latency lives entirely in the pump.
type AlertBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewAlertBus creates an AlertBus backed by the given Client. maxLen caps
// the stream length (approximate trim); zero or negative uses 10,000.
func NewAlertBus(c *Client, maxLen int64) *AlertBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &AlertBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish appends an alert to the stream using XADD.
func (b *AlertBus) Publish(ctx context.Context, alert domain.Alert) error {
	if alert.At.IsZero() {
		alert.At = time.Now().UTC()
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("redis: marshal alert: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: alertStream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: alert publish: %w", err)
	}
	return nil
}

// Read returns up to count alert messages appended after lastID. Use "0" as
// lastID to read from the beginning. A nil slice with no error means no new
// entries.
func (b *AlertBus) Read(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}
	streams, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{alertStream, lastID},
		Count:   int64(count),
		Block:   -1, // non-blocking
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: alert read: %w", err)
	}

	var out []domain.StreamMessage
	for _, s := range streams {
		for _, msg := range s.Messages {
			payload, _ := msg.Values["payload"].(string)
			out = append(out, domain.StreamMessage{ID: msg.ID, Payload: []byte(payload)})
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.AlertBus = (*AlertBus)(nil)
