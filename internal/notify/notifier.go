// Package notify delivers operator alerts to one or more channels (Telegram,
// Discord). Alerts can be filtered by kind so operators only receive the
// classes of events they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/quantfarm/hedged/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a message with the given title and body.
	Send(ctx context.Context, title, body string) error
	// Name identifies the channel, e.g. "telegram".
	Name() string
}

// Notifier fans an alert out to all configured senders. Only alerts whose
// Kind is in the allowed set are delivered; an empty set allows everything.
type Notifier struct {
	senders []Sender
	kinds   map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. kinds
// restricts delivery to those alert kinds; empty means no filtering.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[k] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// SendAlert delivers one alert to every sender, subject to kind filtering.
// Sender failures are collected; one failing channel does not block the rest.
func (n *Notifier) SendAlert(ctx context.Context, alert domain.Alert) error {
	if len(n.kinds) > 0 && !n.kinds[alert.Kind] {
		n.logger.DebugContext(ctx, "alert filtered out", slog.String("kind", alert.Kind))
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	title := fmt.Sprintf("[%s]", alert.Kind)
	body := formatBody(alert)

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, body); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("kind", alert.Kind),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// formatBody renders the alert text plus its extra fields in stable order.
func formatBody(alert domain.Alert) string {
	var b strings.Builder
	b.WriteString(alert.Text)
	if len(alert.Extra) > 0 {
		keys := make([]string, 0, len(alert.Extra))
		for k := range alert.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, alert.Extra[k])
		}
	}
	if !alert.At.IsZero() {
		fmt.Fprintf(&b, "\nat: %s", alert.At.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return b.String()
}
