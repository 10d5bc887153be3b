package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfarm/hedged/internal/domain"
)

// BudgetStore implements domain.BudgetStore using PostgreSQL.
type BudgetStore struct {
	pool *pgxpool.Pool
}

// NewBudgetStore creates a new BudgetStore.
func NewBudgetStore(pool *pgxpool.Pool) *BudgetStore {
	return &BudgetStore{pool: pool}
}

// Get returns the budget entry for one scope.
func (s *BudgetStore) Get(ctx context.Context, scope string) (domain.BudgetEntry, error) {
	var e domain.BudgetEntry
	err := s.pool.QueryRow(ctx, `
		SELECT scope, max_notional, max_positions, used_notional, used_positions, updated_at
		FROM budgets WHERE scope = $1`,
		scope,
	).Scan(&e.Scope, &e.MaxNotional, &e.MaxPositions, &e.UsedNotional, &e.UsedPositions, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BudgetEntry{}, domain.ErrNotFound
		}
		return domain.BudgetEntry{}, fmt.Errorf("postgres: get budget %s: %w", scope, err)
	}
	return e, nil
}

// Upsert inserts or replaces one budget entry.
func (s *BudgetStore) Upsert(ctx context.Context, e domain.BudgetEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO budgets (scope, max_notional, max_positions, used_notional, used_positions, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (scope) DO UPDATE SET
			max_notional   = EXCLUDED.max_notional,
			max_positions  = EXCLUDED.max_positions,
			used_notional  = EXCLUDED.used_notional,
			used_positions = EXCLUDED.used_positions,
			updated_at     = NOW()`,
		e.Scope, e.MaxNotional, e.MaxPositions, e.UsedNotional, e.UsedPositions,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert budget %s: %w", e.Scope, err)
	}
	return nil
}

// List returns all budget entries.
func (s *BudgetStore) List(ctx context.Context) ([]domain.BudgetEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT scope, max_notional, max_positions, used_notional, used_positions, updated_at
		FROM budgets ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list budgets: %w", err)
	}
	defer rows.Close()

	var entries []domain.BudgetEntry
	for rows.Next() {
		var e domain.BudgetEntry
		if err := rows.Scan(&e.Scope, &e.MaxNotional, &e.MaxPositions,
			&e.UsedNotional, &e.UsedPositions, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan budget: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ApplySnapshot atomically replaces the whole budget set. This is the
// rollback primitive: a failed multi-entry mutation restores the snapshot
// taken before it.
func (s *BudgetStore) ApplySnapshot(ctx context.Context, entries []domain.BudgetEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM budgets"); err != nil {
		return fmt.Errorf("postgres: clear budgets: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO budgets (scope, max_notional, max_positions, used_notional, used_positions, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())`,
			e.Scope, e.MaxNotional, e.MaxPositions, e.UsedNotional, e.UsedPositions,
		); err != nil {
			return fmt.Errorf("postgres: snapshot budget %s: %w", e.Scope, err)
		}
	}

	return tx.Commit(ctx)
}

// Compile-time interface check.
var _ domain.BudgetStore = (*BudgetStore)(nil)
