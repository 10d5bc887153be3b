package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfarm/hedged/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Each
// position row owns exactly two rows in position_legs, keyed by side.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, symbol, long_venue, short_venue, notional, leverage,
	entry_spread, entry_long_price, entry_short_price, status, simulated,
	strategy_name, realized_pnl, reb_attempts, reb_last_attempt, reb_status,
	reb_filled_ratio, reb_last_error, opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status, rebStatus string

	err := row.Scan(
		&p.ID, &p.Symbol, &p.LongVenue, &p.ShortVenue, &p.Notional, &p.Leverage,
		&p.EntrySpread, &p.EntryLongPrice, &p.EntryShortPrice, &status, &p.Simulated,
		&p.Strategy, &p.RealizedPnL, &p.Rebalance.Attempts, &p.Rebalance.LastAttempt,
		&rebStatus, &p.Rebalance.FilledRatio, &p.Rebalance.LastError,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	p.Rebalance.Status = domain.RebalanceStatus(rebStatus)
	return p, nil
}

func (s *PositionStore) loadLegs(ctx context.Context, p *domain.Position) error {
	rows, err := s.pool.Query(ctx, `
		SELECT side, venue, symbol, status, entry_price, base_size, notional, placed_at
		FROM position_legs WHERE position_id = $1`,
		p.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var leg domain.Leg
		var side, status string
		if err := rows.Scan(&side, &leg.Venue, &leg.Symbol, &status,
			&leg.EntryPrice, &leg.BaseSize, &leg.Notional, &leg.PlacedAt); err != nil {
			return err
		}
		leg.Side = domain.LegSide(side)
		leg.Status = domain.LegStatus(status)
		switch leg.Side {
		case domain.LegSideLong:
			p.Legs[0] = leg
		case domain.LegSideShort:
			p.Legs[1] = leg
		}
	}
	return rows.Err()
}

func upsertLeg(ctx context.Context, tx pgx.Tx, positionID string, leg domain.Leg) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO position_legs (position_id, side, venue, symbol, status, entry_price, base_size, notional, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (position_id, side) DO UPDATE SET
			venue = EXCLUDED.venue,
			symbol = EXCLUDED.symbol,
			status = EXCLUDED.status,
			entry_price = EXCLUDED.entry_price,
			base_size = EXCLUDED.base_size,
			notional = EXCLUDED.notional,
			placed_at = EXCLUDED.placed_at`,
		positionID, string(leg.Side), leg.Venue, leg.Symbol, string(leg.Status),
		leg.EntryPrice, leg.BaseSize, leg.Notional, leg.PlacedAt,
	)
	return err
}

// Create inserts a position and both its legs in one transaction.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO positions (
			id, symbol, long_venue, short_venue, notional, leverage,
			entry_spread, entry_long_price, entry_short_price, status, simulated,
			strategy_name, realized_pnl, reb_attempts, reb_last_attempt, reb_status,
			reb_filled_ratio, reb_last_error, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19, $20, NOW()
		)`,
		p.ID, p.Symbol, p.LongVenue, p.ShortVenue, p.Notional, p.Leverage,
		p.EntrySpread, p.EntryLongPrice, p.EntryShortPrice, string(p.Status), p.Simulated,
		p.Strategy, p.RealizedPnL, p.Rebalance.Attempts, p.Rebalance.LastAttempt,
		string(p.Rebalance.Status), p.Rebalance.FilledRatio, p.Rebalance.LastError,
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}

	for _, leg := range p.Legs {
		if err := upsertLeg(ctx, tx, p.ID, leg); err != nil {
			return fmt.Errorf("postgres: create position %s legs: %w", p.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// Update replaces all mutable fields of a position and its legs.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE positions SET
			status           = $2,
			realized_pnl     = $3,
			reb_attempts     = $4,
			reb_last_attempt = $5,
			reb_status       = $6,
			reb_filled_ratio = $7,
			reb_last_error   = $8,
			closed_at        = $9,
			updated_at       = NOW()
		WHERE id = $1`,
		p.ID, string(p.Status), p.RealizedPnL,
		p.Rebalance.Attempts, p.Rebalance.LastAttempt, string(p.Rebalance.Status),
		p.Rebalance.FilledRatio, p.Rebalance.LastError, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	for _, leg := range p.Legs {
		if err := upsertLeg(ctx, tx, p.ID, leg); err != nil {
			return fmt.Errorf("postgres: update position %s legs: %w", p.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns a position with its legs.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+positionCols+" FROM positions WHERE id = $1", id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	if err := s.loadLegs(ctx, &p); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s legs: %w", id, err)
	}
	return p, nil
}

func (s *PositionStore) listByStatus(ctx context.Context, statuses []string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+positionCols+" FROM positions WHERE status = ANY($1) ORDER BY opened_at", statuses)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}

	for i := range positions {
		if err := s.loadLegs(ctx, &positions[i]); err != nil {
			return nil, fmt.Errorf("postgres: list position %s legs: %w", positions[i].ID, err)
		}
	}
	return positions, nil
}

// ListOpen returns positions with status "open" or "partial".
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return s.listByStatus(ctx, []string{
		string(domain.PositionStatusOpen),
		string(domain.PositionStatusPartial),
	})
}

// ListPartial returns positions with status "partial".
func (s *PositionStore) ListPartial(ctx context.Context) ([]domain.Position, error) {
	return s.listByStatus(ctx, []string{string(domain.PositionStatusPartial)})
}

// ListHistory returns positions ordered newest first.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+positionCols+" FROM positions ORDER BY opened_at DESC LIMIT $1 OFFSET $2",
		limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list history: %w", err)
	}

	for i := range positions {
		if err := s.loadLegs(ctx, &positions[i]); err != nil {
			return nil, fmt.Errorf("postgres: history position %s legs: %w", positions[i].ID, err)
		}
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
