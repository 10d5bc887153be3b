// Package feed keeps the mark price cache warm from venue websocket feeds.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfarm/hedged/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before reconnecting.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the reconnect backoff.
	maxReconnectDelay = 60 * time.Second
)

// markMessage is the wire format of one mark price update.
type markMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TS     int64   `json:"ts"`
}

// subscribeCommand asks the venue feed for mark updates on the given symbols.
type subscribeCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// MarkFeed maintains one websocket connection to a venue's mark price feed
// and writes each update into the price cache. It reconnects with
// exponential backoff and tracks the last update time for staleness checks.
type MarkFeed struct {
	venue   string
	url     string
	symbols []string
	cache   domain.PriceCache
	logger  *slog.Logger

	mu         sync.RWMutex
	lastUpdate time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// NewMarkFeed creates a feed for one venue.
func NewMarkFeed(venue, url string, symbols []string, cache domain.PriceCache, logger *slog.Logger) *MarkFeed {
	return &MarkFeed{
		venue:   venue,
		url:     url,
		symbols: symbols,
		cache:   cache,
		logger: logger.With(
			slog.String("component", "mark_feed"),
			slog.String("venue", venue),
		),
		done: make(chan struct{}),
	}
}

// LastUpdate returns the wall-clock time of the most recent mark received.
func (f *MarkFeed) LastUpdate() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastUpdate
}

// Run connects and pumps updates until ctx is cancelled or Close is called.
func (f *MarkFeed) Run(ctx context.Context) error {
	if f.url == "" || len(f.symbols) == 0 {
		f.logger.Info("feed not configured, exiting")
		return nil
	}
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed.
func (f *MarkFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *MarkFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", f.venue, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := subscribeCommand{Type: "subscribe", Channel: "mark", Symbols: f.symbols}
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", f.venue, err)
	}
	f.logger.Info("feed subscribed", slog.Int("symbols", len(f.symbols)))

	// Close the connection when ctx ends so ReadMessage unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-f.done:
			conn.Close()
		case <-stop:
		}
	}()
	go f.pingLoop(conn, stop)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return nil
			default:
			}
			return fmt.Errorf("feed: read %s: %w", f.venue, err)
		}
		f.handleMessage(ctx, raw)
	}
}

func (f *MarkFeed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *MarkFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg markMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		// Drop unparseable messages.
		return
	}
	if msg.Type != "mark" || msg.Symbol == "" || msg.Price <= 0 {
		return
	}
	at := time.Now()
	if msg.TS > 0 {
		at = time.UnixMilli(msg.TS)
	}
	if err := f.cache.SetMark(ctx, f.venue, msg.Symbol, msg.Price, at); err != nil {
		f.logger.Warn("cache mark update failed",
			slog.String("symbol", msg.Symbol),
			slog.String("error", err.Error()))
		return
	}
	f.mu.Lock()
	f.lastUpdate = at
	f.mu.Unlock()
}
