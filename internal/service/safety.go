package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfarm/hedged/internal/domain"
)

// SafetyConfig holds the runaway-trade breaker parameters.
type SafetyConfig struct {
	// AttemptLimit is the maximum number of order placements allowed within
	// AttemptWindow before the breaker engages a hold.
	AttemptLimit  int
	AttemptWindow time.Duration
}

// SafetyCenter owns the global trading hold: the flag itself, idempotent
// engagement, the two-man resume flow, and the per-order runaway breaker.
// It keeps the current state in memory and persists every transition.
type SafetyCenter struct {
	holds   domain.HoldStore
	limiter domain.RateLimiter
	ledger  *Ledger
	cfg     SafetyConfig
	logger  *slog.Logger

	mu    sync.Mutex
	state domain.HoldState
}

// NewSafetyCenter creates a SafetyCenter. Call Load before serving traffic
// so a hold engaged by a previous process is honored.
func NewSafetyCenter(
	holds domain.HoldStore,
	limiter domain.RateLimiter,
	ledger *Ledger,
	cfg SafetyConfig,
	logger *slog.Logger,
) *SafetyCenter {
	return &SafetyCenter{
		holds:   holds,
		limiter: limiter,
		ledger:  ledger,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "safety")),
	}
}

// Load restores the persisted hold state into memory.
func (s *SafetyCenter) Load(ctx context.Context) error {
	state, err := s.holds.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("safety: load hold state: %w", err)
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if state.Active {
		s.logger.WarnContext(ctx, "hold active at startup",
			slog.String("reason", state.Reason.String()),
			slog.String("source", state.Source),
		)
	}
	return nil
}

// IsHoldActive reports whether the global hold is engaged.
func (s *SafetyCenter) IsHoldActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Active
}

// HoldState returns a copy of the current hold state.
func (s *SafetyCenter) HoldState() domain.HoldState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EngageHold halts trading. Idempotent: re-engaging with a reason whose
// normalized form equals the active one changes nothing and fires no
// duplicate alert. A new engagement persists the state, files a pending
// resume request, audits, and alerts.
func (s *SafetyCenter) EngageHold(ctx context.Context, reason domain.HoldReason, source string) error {
	s.mu.Lock()
	if s.state.Active && s.state.Reason.Equal(reason) {
		s.mu.Unlock()
		return nil
	}
	state := domain.HoldState{
		Active:    true,
		Reason:    reason,
		Source:    source,
		EngagedAt: time.Now().UTC(),
	}
	s.state = state
	s.mu.Unlock()

	if err := s.holds.SaveState(ctx, state); err != nil {
		return fmt.Errorf("safety: engage hold: %w", err)
	}

	// A fresh engagement invalidates any prior pending request; file a new
	// one tied to this reason so resume approval references the right halt.
	req := domain.ResumeRequest{
		ID:          uuid.NewString(),
		HoldReason:  reason,
		RequestedBy: source,
		Status:      domain.ResumePending,
		RequestedAt: state.EngagedAt,
	}
	if err := s.holds.CreateResumeRequest(ctx, req); err != nil {
		s.logger.WarnContext(ctx, "resume request create failed", slog.String("error", err.Error()))
	}

	s.logger.WarnContext(ctx, "hold engaged",
		slog.String("reason", reason.String()),
		slog.String("source", source),
	)
	_ = s.ledger.Audit(ctx, "hold_engaged", map[string]any{
		"reason": reason.String(),
		"detail": reason.Detail,
		"source": source,
	})
	_ = s.ledger.EmitAlert(ctx, "hold", "trading hold engaged", map[string]string{
		"reason": reason.String(),
		"detail": reason.Detail,
		"source": source,
	})
	return nil
}

// RequestResume files a resume request under the given operator identity,
// replacing the auto-filed one so the two-man rule binds to a real person.
// Returns the pending request.
func (s *SafetyCenter) RequestResume(ctx context.Context, requestedBy string) (domain.ResumeRequest, error) {
	s.mu.Lock()
	active := s.state.Active
	reason := s.state.Reason
	s.mu.Unlock()
	if !active {
		return domain.ResumeRequest{}, domain.ErrNoResumePending
	}

	req, err := s.holds.PendingResumeRequest(ctx)
	switch {
	case err == nil:
		req.RequestedBy = requestedBy
		if uerr := s.holds.UpdateResumeRequest(ctx, req); uerr != nil {
			return domain.ResumeRequest{}, fmt.Errorf("safety: update resume request: %w", uerr)
		}
	case errors.Is(err, domain.ErrNoResumePending):
		req = domain.ResumeRequest{
			ID:          uuid.NewString(),
			HoldReason:  reason,
			RequestedBy: requestedBy,
			Status:      domain.ResumePending,
			RequestedAt: time.Now().UTC(),
		}
		if cerr := s.holds.CreateResumeRequest(ctx, req); cerr != nil {
			return domain.ResumeRequest{}, fmt.Errorf("safety: create resume request: %w", cerr)
		}
	default:
		return domain.ResumeRequest{}, fmt.Errorf("safety: pending resume request: %w", err)
	}

	_ = s.ledger.Audit(ctx, "resume_requested", map[string]any{
		"reason":       req.HoldReason.String(),
		"requested_by": requestedBy,
	})
	return req, nil
}

// ApproveResume clears the hold once a second operator approves the pending
// resume request. The approver must differ from the requester (two-man
// rule); a matching identity returns domain.ErrSelfApproval.
func (s *SafetyCenter) ApproveResume(ctx context.Context, approvedBy string) error {
	req, err := s.holds.PendingResumeRequest(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoResumePending) {
			return err
		}
		return fmt.Errorf("safety: pending resume request: %w", err)
	}
	if req.RequestedBy == approvedBy {
		return fmt.Errorf("safety: approver %q filed the request: %w", approvedBy, domain.ErrSelfApproval)
	}

	now := time.Now().UTC()
	req.ApprovedBy = approvedBy
	req.Status = domain.ResumeApproved
	req.ApprovedAt = &now
	if err := s.holds.UpdateResumeRequest(ctx, req); err != nil {
		return fmt.Errorf("safety: approve resume request: %w", err)
	}

	s.mu.Lock()
	s.state = domain.HoldState{}
	s.mu.Unlock()
	if err := s.holds.SaveState(ctx, domain.HoldState{}); err != nil {
		return fmt.Errorf("safety: clear hold: %w", err)
	}

	s.logger.InfoContext(ctx, "hold cleared",
		slog.String("requested_by", req.RequestedBy),
		slog.String("approved_by", approvedBy),
	)
	_ = s.ledger.Audit(ctx, "hold_cleared", map[string]any{
		"reason":       req.HoldReason.String(),
		"requested_by": req.RequestedBy,
		"approved_by":  approvedBy,
	})
	_ = s.ledger.EmitAlert(ctx, "hold", "trading hold cleared", map[string]string{
		"reason":      req.HoldReason.String(),
		"approved_by": approvedBy,
	})
	return nil
}

// RegisterOrderAttempt must be called before every order placement. It
// aborts with HoldActiveError when the hold is engaged, and counts the
// attempt against the sliding-window breaker; exceeding the window engages
// an auto-throttle hold and aborts the same way.
func (s *SafetyCenter) RegisterOrderAttempt(ctx context.Context, source string) error {
	s.mu.Lock()
	if s.state.Active {
		reason := s.state.Reason
		s.mu.Unlock()
		return &domain.HoldActiveError{Reason: reason}
	}
	s.mu.Unlock()

	if s.limiter == nil || s.cfg.AttemptLimit <= 0 {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, "orders", s.cfg.AttemptLimit, s.cfg.AttemptWindow)
	if err != nil {
		// The breaker backend being down must not halt trading on its own.
		s.logger.WarnContext(ctx, "attempt limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if allowed {
		return nil
	}

	reason := domain.AutoThrottle("order_rate",
		fmt.Sprintf("more than %d order attempts in %s", s.cfg.AttemptLimit, s.cfg.AttemptWindow))
	if err := s.EngageHold(ctx, reason, source); err != nil {
		s.logger.ErrorContext(ctx, "order rate hold engage failed", slog.String("error", err.Error()))
	}
	return &domain.HoldActiveError{Reason: reason}
}
