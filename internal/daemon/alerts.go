package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/quantfarm/hedged/internal/domain"
	"github.com/quantfarm/hedged/internal/notify"
)

// AlertPump drains the alert stream to the notify channels so trading
// paths never block on Telegram or Discord latency. Delivery is at-least-
// once: the cursor only advances past a message after a delivery attempt.
type AlertPump struct {
	bus      domain.AlertBus
	notifier *notify.Notifier
	interval time.Duration
	logger   *slog.Logger

	lastID string
}

// NewAlertPump creates the pump. It starts reading from the beginning of
// the stream so alerts emitted while no pump was running still go out.
func NewAlertPump(bus domain.AlertBus, notifier *notify.Notifier, interval time.Duration, logger *slog.Logger) *AlertPump {
	return &AlertPump{
		bus:      bus,
		notifier: notifier,
		interval: interval,
		logger:   logger.With(slog.String("component", "alert_pump")),
		lastID:   "0",
	}
}

// Run drains once per interval until ctx ends.
func (p *AlertPump) Run(ctx context.Context) error {
	p.logger.Info("alert pump starting", slog.Duration("interval", p.interval))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("alert pump stopped")
			return ctx.Err()
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

// drain forwards every queued alert to the notifier.
func (p *AlertPump) drain(ctx context.Context) {
	for {
		msgs, err := p.bus.Read(ctx, p.lastID, 100)
		if err != nil {
			p.logger.WarnContext(ctx, "alert stream read failed", slog.String("error", err.Error()))
			return
		}
		if len(msgs) == 0 {
			return
		}
		for _, msg := range msgs {
			var alert domain.Alert
			if err := json.Unmarshal(msg.Payload, &alert); err != nil {
				p.logger.WarnContext(ctx, "bad alert payload, skipping",
					slog.String("id", msg.ID),
					slog.String("error", err.Error()),
				)
				p.lastID = msg.ID
				continue
			}
			if err := p.notifier.SendAlert(ctx, alert); err != nil {
				p.logger.WarnContext(ctx, "alert delivery failed", slog.String("error", err.Error()))
			}
			p.lastID = msg.ID
		}
	}
}
