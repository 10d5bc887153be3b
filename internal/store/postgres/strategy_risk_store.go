package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfarm/hedged/internal/domain"
)

// StrategyRiskStore implements domain.StrategyRiskStore using PostgreSQL.
type StrategyRiskStore struct {
	pool *pgxpool.Pool
}

// NewStrategyRiskStore creates a new StrategyRiskStore.
func NewStrategyRiskStore(pool *pgxpool.Pool) *StrategyRiskStore {
	return &StrategyRiskStore{pool: pool}
}

// Get returns the risk state for one strategy.
func (s *StrategyRiskStore) Get(ctx context.Context, strategy string) (domain.StrategyRiskState, error) {
	var st domain.StrategyRiskState
	err := s.pool.QueryRow(ctx, `
		SELECT strategy, realized_pnl_today, consecutive_failures, frozen, freeze_reason, updated_at
		FROM strategy_risk WHERE strategy = $1`,
		strategy,
	).Scan(&st.Strategy, &st.RealizedPnLToday, &st.ConsecutiveFailures,
		&st.Frozen, &st.FreezeReason, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StrategyRiskState{}, domain.ErrNotFound
		}
		return domain.StrategyRiskState{}, fmt.Errorf("postgres: get strategy risk %s: %w", strategy, err)
	}
	return st, nil
}

// Upsert inserts or replaces one strategy's risk state.
func (s *StrategyRiskStore) Upsert(ctx context.Context, st domain.StrategyRiskState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO strategy_risk (strategy, realized_pnl_today, consecutive_failures, frozen, freeze_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (strategy) DO UPDATE SET
			realized_pnl_today   = EXCLUDED.realized_pnl_today,
			consecutive_failures = EXCLUDED.consecutive_failures,
			frozen               = EXCLUDED.frozen,
			freeze_reason        = EXCLUDED.freeze_reason,
			updated_at           = NOW()`,
		st.Strategy, st.RealizedPnLToday, st.ConsecutiveFailures, st.Frozen, st.FreezeReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy risk %s: %w", st.Strategy, err)
	}
	return nil
}

// List returns all strategy risk states.
func (s *StrategyRiskStore) List(ctx context.Context) ([]domain.StrategyRiskState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT strategy, realized_pnl_today, consecutive_failures, frozen, freeze_reason, updated_at
		FROM strategy_risk ORDER BY strategy`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategy risk: %w", err)
	}
	defer rows.Close()

	var states []domain.StrategyRiskState
	for rows.Next() {
		var st domain.StrategyRiskState
		if err := rows.Scan(&st.Strategy, &st.RealizedPnLToday, &st.ConsecutiveFailures,
			&st.Frozen, &st.FreezeReason, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy risk: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// Compile-time interface check.
var _ domain.StrategyRiskStore = (*StrategyRiskStore)(nil)
