package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfarm/hedged/internal/domain"
)

// HoldStore implements domain.HoldStore using PostgreSQL. The hold flag is
// a single row; resume requests are append-only with in-place approval.
type HoldStore struct {
	pool *pgxpool.Pool
}

// NewHoldStore creates a new HoldStore.
func NewHoldStore(pool *pgxpool.Pool) *HoldStore {
	return &HoldStore{pool: pool}
}

// SaveState persists the global hold flag.
func (s *HoldStore) SaveState(ctx context.Context, state domain.HoldState) error {
	var engagedAt any
	if !state.EngagedAt.IsZero() {
		engagedAt = state.EngagedAt
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE hold_state SET active = $1, reason = $2, detail = $3, source = $4, engaged_at = $5
		WHERE singleton`,
		state.Active, state.Reason.String(), state.Reason.Detail, state.Source, engagedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save hold state: %w", err)
	}
	return nil
}

// LoadState returns the persisted hold flag.
func (s *HoldStore) LoadState(ctx context.Context) (domain.HoldState, error) {
	var st domain.HoldState
	var reason, detail string
	err := s.pool.QueryRow(ctx,
		"SELECT active, reason, detail, source, COALESCE(engaged_at, 'epoch'::timestamptz) FROM hold_state WHERE singleton",
	).Scan(&st.Active, &reason, &detail, &st.Source, &st.EngagedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.HoldState{}, nil
		}
		return domain.HoldState{}, fmt.Errorf("postgres: load hold state: %w", err)
	}
	st.Reason = domain.ParseHoldReason(reason)
	st.Reason.Detail = detail
	return st, nil
}

// CreateResumeRequest files a new resume request.
func (s *HoldStore) CreateResumeRequest(ctx context.Context, req domain.ResumeRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO resume_requests (id, hold_reason, requested_by, approved_by, status, requested_at, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.ID, req.HoldReason.String(), req.RequestedBy, req.ApprovedBy,
		string(req.Status), req.RequestedAt, req.ApprovedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create resume request %s: %w", req.ID, err)
	}
	return nil
}

// PendingResumeRequest returns the most recent pending request, or
// domain.ErrNoResumePending when none exists.
func (s *HoldStore) PendingResumeRequest(ctx context.Context) (domain.ResumeRequest, error) {
	var req domain.ResumeRequest
	var reason, status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, hold_reason, requested_by, approved_by, status, requested_at, approved_at
		FROM resume_requests WHERE status = 'pending'
		ORDER BY requested_at DESC LIMIT 1`,
	).Scan(&req.ID, &reason, &req.RequestedBy, &req.ApprovedBy, &status,
		&req.RequestedAt, &req.ApprovedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResumeRequest{}, domain.ErrNoResumePending
		}
		return domain.ResumeRequest{}, fmt.Errorf("postgres: pending resume request: %w", err)
	}
	req.HoldReason = domain.ParseHoldReason(reason)
	req.Status = domain.ResumeRequestStatus(status)
	return req, nil
}

// UpdateResumeRequest replaces a resume request's mutable fields.
func (s *HoldStore) UpdateResumeRequest(ctx context.Context, req domain.ResumeRequest) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE resume_requests SET approved_by = $2, status = $3, approved_at = $4
		WHERE id = $1`,
		req.ID, req.ApprovedBy, string(req.Status), req.ApprovedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update resume request %s: %w", req.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.HoldStore = (*HoldStore)(nil)
