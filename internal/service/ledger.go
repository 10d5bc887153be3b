package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantfarm/hedged/internal/domain"
)

// Ledger is the ops-log collaborator: hedge log, execution records, audit
// events, and alert emission. Every method returns its error so the
// best-effort policy stays visible at the call site; trading paths discard
// these errors deliberately after the Ledger has logged them.
type Ledger struct {
	hedgeLog   domain.HedgeLogStore
	executions domain.ExecutionStore
	audit      domain.AuditStore
	alerts     domain.AlertBus
	logger     *slog.Logger
}

// NewLedger creates a Ledger. Any collaborator may be nil; the matching
// method then becomes a no-op.
func NewLedger(
	hedgeLog domain.HedgeLogStore,
	executions domain.ExecutionStore,
	audit domain.AuditStore,
	alerts domain.AlertBus,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		hedgeLog:   hedgeLog,
		executions: executions,
		audit:      audit,
		alerts:     alerts,
		logger:     logger.With(slog.String("component", "ledger")),
	}
}

// LogHedge appends one hedge log entry, filling ID and timestamp when unset.
func (l *Ledger) LogHedge(ctx context.Context, entry domain.HedgeLogEntry) error {
	if l.hedgeLog == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	if err := l.hedgeLog.Append(ctx, entry); err != nil {
		l.logger.WarnContext(ctx, "hedge log append failed",
			slog.String("kind", string(entry.Kind)),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// RecordExecution appends one per-leg execution quality record.
func (l *Ledger) RecordExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	if l.executions == nil {
		return nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	if err := l.executions.Append(ctx, rec); err != nil {
		l.logger.WarnContext(ctx, "execution record failed",
			slog.String("venue", rec.Venue),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// Audit records one audit event.
func (l *Ledger) Audit(ctx context.Context, event string, detail map[string]any) error {
	if l.audit == nil {
		return nil
	}
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// EmitAlert publishes an operator alert to the alert stream. The alert pump
// delivers it to the notify channels out of band.
func (l *Ledger) EmitAlert(ctx context.Context, kind, text string, extra map[string]string) error {
	if l.alerts == nil {
		return nil
	}
	alert := domain.Alert{Kind: kind, Text: text, Extra: extra, At: time.Now().UTC()}
	if err := l.alerts.Publish(ctx, alert); err != nil {
		l.logger.WarnContext(ctx, "alert publish failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
