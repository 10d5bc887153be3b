package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfarm/hedged/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Append records a single per-leg execution.
func (s *ExecutionStore) Append(ctx context.Context, rec domain.ExecutionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (id, strategy, symbol, venue, side, planned_price, filled_price, slippage_bps, success, simulated, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.Strategy, rec.Symbol, rec.Venue, string(rec.Side),
		rec.PlannedPrice, rec.FilledPrice, rec.SlippageBps, rec.Success, rec.Simulated, rec.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: append execution %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns the most recent execution records, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, strategy, symbol, venue, side, planned_price, filled_price, slippage_bps, success, simulated, at
		FROM executions ORDER BY at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var recs []domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		var side string
		if err := rows.Scan(&rec.ID, &rec.Strategy, &rec.Symbol, &rec.Venue, &side,
			&rec.PlannedPrice, &rec.FilledPrice, &rec.SlippageBps, &rec.Success, &rec.Simulated, &rec.At); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		rec.Side = domain.LegSide(side)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return recs, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
