package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// PositionStore persists hedge positions. Created by the execution engine,
// mutated by the rebalancer and by explicit close.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	// ListOpen returns positions with status "open" or "partial".
	ListOpen(ctx context.Context) ([]Position, error)
	// ListPartial returns positions with status "partial".
	ListPartial(ctx context.Context) ([]Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
}

// BudgetStore durably persists budget entries. ApplySnapshot replaces the
// whole set atomically and is the rollback primitive.
type BudgetStore interface {
	Get(ctx context.Context, scope string) (BudgetEntry, error)
	Upsert(ctx context.Context, entry BudgetEntry) error
	List(ctx context.Context) ([]BudgetEntry, error)
	ApplySnapshot(ctx context.Context, entries []BudgetEntry) error
}

// StrategyRiskStore persists per-strategy breach/freeze state.
type StrategyRiskStore interface {
	Get(ctx context.Context, strategy string) (StrategyRiskState, error)
	Upsert(ctx context.Context, state StrategyRiskState) error
	List(ctx context.Context) ([]StrategyRiskState, error)
}

// HoldStore persists the global hold flag and resume requests.
type HoldStore interface {
	SaveState(ctx context.Context, state HoldState) error
	LoadState(ctx context.Context) (HoldState, error)
	CreateResumeRequest(ctx context.Context, req ResumeRequest) error
	PendingResumeRequest(ctx context.Context) (ResumeRequest, error)
	UpdateResumeRequest(ctx context.Context, req ResumeRequest) error
}

// ExecutionStore persists per-leg execution quality records.
type ExecutionStore interface {
	Append(ctx context.Context, rec ExecutionRecord) error
	// ListRecent returns the most recent records, newest first.
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
}

// HedgeLogStore is the append-only hedge attempt log.
type HedgeLogStore interface {
	Append(ctx context.Context, entry HedgeLogEntry) error
	ListRecent(ctx context.Context, limit int) ([]HedgeLogEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
