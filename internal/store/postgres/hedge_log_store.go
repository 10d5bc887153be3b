package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfarm/hedged/internal/domain"
)

// HedgeLogStore implements domain.HedgeLogStore using PostgreSQL. Detail
// maps are stored as JSONB so entries stay queryable without a migration
// per new field.
type HedgeLogStore struct {
	pool *pgxpool.Pool
}

// NewHedgeLogStore creates a new HedgeLogStore.
func NewHedgeLogStore(pool *pgxpool.Pool) *HedgeLogStore {
	return &HedgeLogStore{pool: pool}
}

// Append writes a single hedge log entry.
func (s *HedgeLogStore) Append(ctx context.Context, entry domain.HedgeLogEntry) error {
	var detail []byte
	if entry.Detail != nil {
		b, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("postgres: marshal hedge log detail: %w", err)
		}
		detail = b
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hedge_log (id, kind, strategy, symbol, position_id, reason, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, string(entry.Kind), entry.Strategy, entry.Symbol,
		entry.PositionID, entry.Reason, detail, entry.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: append hedge log %s: %w", entry.ID, err)
	}
	return nil
}

// ListRecent returns the most recent hedge log entries, newest first.
func (s *HedgeLogStore) ListRecent(ctx context.Context, limit int) ([]domain.HedgeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, strategy, symbol, position_id, reason, detail, at
		FROM hedge_log ORDER BY at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list hedge log: %w", err)
	}
	defer rows.Close()

	var entries []domain.HedgeLogEntry
	for rows.Next() {
		var entry domain.HedgeLogEntry
		var kind string
		var detail []byte
		if err := rows.Scan(&entry.ID, &kind, &entry.Strategy, &entry.Symbol,
			&entry.PositionID, &entry.Reason, &detail, &entry.At); err != nil {
			return nil, fmt.Errorf("postgres: scan hedge log: %w", err)
		}
		entry.Kind = domain.HedgeLogKind(kind)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &entry.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal hedge log detail: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list hedge log: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.HedgeLogStore = (*HedgeLogStore)(nil)
