package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfarm/hedged/internal/domain"
	"github.com/quantfarm/hedged/internal/notify"
)

// rawBus serves pre-built stream messages so tests can inject corrupt
// payloads and read errors.
type rawBus struct {
	msgs    []domain.StreamMessage
	readErr error
}

func (b *rawBus) Publish(context.Context, domain.Alert) error { return nil }

func (b *rawBus) Read(_ context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if b.readErr != nil {
		return nil, b.readErr
	}
	var out []domain.StreamMessage
	seen := lastID == "0"
	for _, msg := range b.msgs {
		if seen {
			out = append(out, msg)
			if count > 0 && len(out) == count {
				break
			}
			continue
		}
		if msg.ID == lastID {
			seen = true
		}
	}
	return out, nil
}

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	bodies []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, body)
	return nil
}

func (s *recordingSender) Name() string { return "recorder" }

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.titles))
	copy(out, s.titles)
	return out
}

func newTestPump(bus domain.AlertBus, sender notify.Sender, kinds []string) *AlertPump {
	notifier := notify.NewNotifier([]notify.Sender{sender}, kinds, testLogger())
	return NewAlertPump(bus, notifier, time.Second, testLogger())
}

func TestDrainDeliversQueuedAlerts(t *testing.T) {
	ctx := context.Background()
	bus := &memAlertBus{}
	sender := &recordingSender{}
	pump := newTestPump(bus, sender, nil)

	require.NoError(t, bus.Publish(ctx, domain.Alert{Kind: "hold", Text: "trading held"}))
	require.NoError(t, bus.Publish(ctx, domain.Alert{Kind: "risk", Text: "breach"}))

	pump.drain(ctx)
	assert.Equal(t, []string{"[hold]", "[risk]"}, sender.sent())

	// The cursor advanced; a second drain resends nothing.
	pump.drain(ctx)
	assert.Len(t, sender.sent(), 2)

	// New alerts published later still go out.
	require.NoError(t, bus.Publish(ctx, domain.Alert{Kind: "rebalance", Text: "exhausted"}))
	pump.drain(ctx)
	assert.Equal(t, []string{"[hold]", "[risk]", "[rebalance]"}, sender.sent())
}

func TestDrainSkipsCorruptPayload(t *testing.T) {
	bus := &rawBus{msgs: []domain.StreamMessage{
		{ID: "1", Payload: []byte("not json")},
		{ID: "2", Payload: []byte(`{"kind":"hold","text":"trading held"}`)},
	}}
	sender := &recordingSender{}
	pump := newTestPump(bus, sender, nil)

	pump.drain(context.Background())
	assert.Equal(t, []string{"[hold]"}, sender.sent(), "the corrupt entry is skipped, not fatal")
	assert.Equal(t, "2", pump.lastID)
}

func TestDrainAdvancesPastFailedDelivery(t *testing.T) {
	ctx := context.Background()
	bus := &memAlertBus{}
	sender := &recordingSender{err: errors.New("webhook down")}
	pump := newTestPump(bus, sender, nil)

	require.NoError(t, bus.Publish(ctx, domain.Alert{Kind: "hold", Text: "trading held"}))
	pump.drain(ctx)
	assert.Empty(t, sender.sent())
	assert.Equal(t, "1", pump.lastID, "one attempt per message, no redelivery loop")

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()
	pump.drain(ctx)
	assert.Empty(t, sender.sent(), "the failed message is not retried")
}

func TestDrainKindFilter(t *testing.T) {
	ctx := context.Background()
	bus := &memAlertBus{}
	sender := &recordingSender{}
	pump := newTestPump(bus, sender, []string{"risk"})

	require.NoError(t, bus.Publish(ctx, domain.Alert{Kind: "hold", Text: "trading held"}))
	require.NoError(t, bus.Publish(ctx, domain.Alert{Kind: "risk", Text: "breach"}))

	pump.drain(ctx)
	assert.Equal(t, []string{"[risk]"}, sender.sent())
	assert.Equal(t, "2", pump.lastID, "filtered alerts still advance the cursor")
}

func TestDrainReadErrorLeavesCursor(t *testing.T) {
	bus := &rawBus{readErr: errors.New("stream gone")}
	sender := &recordingSender{}
	pump := newTestPump(bus, sender, nil)

	pump.drain(context.Background())
	assert.Empty(t, sender.sent())
	assert.Equal(t, "0", pump.lastID)
}

func TestPumpRunStopsOnCancel(t *testing.T) {
	pump := newTestPump(&memAlertBus{}, &recordingSender{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pump.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
