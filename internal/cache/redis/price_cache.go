package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfarm/hedged/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each
// venue/symbol mark price is stored as a hash at key
// "mark:{venue}:{symbol}" with fields "price" and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A non-zero
// ttl expires stale marks so routing never sees quotes the feed stopped
// refreshing.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func markKey(venue, symbol string) string {
	return "mark:" + venue + ":" + symbol
}

// SetMark stores the latest mark price for a venue/symbol pair.
func (pc *PriceCache) SetMark(ctx context.Context, venue, symbol string, price float64, at time.Time) error {
	key := markKey(venue, symbol)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(at.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set mark %s/%s: %w", venue, symbol, err)
	}
	if pc.ttl > 0 {
		_ = pc.rdb.Expire(ctx, key, pc.ttl).Err()
	}
	return nil
}

// GetMark retrieves the latest mark price for a venue/symbol pair. It
// returns domain.ErrNotFound when no mark has been cached.
func (pc *PriceCache) GetMark(ctx context.Context, venue, symbol string) (domain.MarkQuote, error) {
	vals, err := pc.rdb.HGetAll(ctx, markKey(venue, symbol)).Result()
	if err != nil {
		return domain.MarkQuote{}, fmt.Errorf("redis: get mark %s/%s: %w", venue, symbol, err)
	}
	if len(vals) == 0 {
		return domain.MarkQuote{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.MarkQuote{}, fmt.Errorf("redis: parse mark price %s/%s: %w", venue, symbol, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.MarkQuote{}, fmt.Errorf("redis: parse mark ts %s/%s: %w", venue, symbol, err)
	}

	return domain.MarkQuote{
		Venue:  venue,
		Symbol: symbol,
		Price:  price,
		At:     time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
