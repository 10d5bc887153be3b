package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quantfarm/hedged/internal/domain"
)

// BudgetLimits is the configured ceiling pair for one scope. Nil means
// unlimited on that axis.
type BudgetLimits struct {
	MaxNotional  *float64
	MaxPositions *int
}

// BudgetManager tracks notional and open-position usage against per-strategy
// ceilings and the capital-wide ceiling. Usage is mutated only through
// paired Reserve/Release calls and persisted synchronously; a failed write
// is logged but never blocks the trading path.
type BudgetManager struct {
	store  domain.BudgetStore
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*domain.BudgetEntry
}

// NewBudgetManager creates a manager with entries for every configured
// scope. limits may include domain.CapitalScope for the book-wide ceiling.
func NewBudgetManager(store domain.BudgetStore, limits map[string]BudgetLimits, logger *slog.Logger) *BudgetManager {
	entries := make(map[string]*domain.BudgetEntry, len(limits))
	for scope, lim := range limits {
		entries[scope] = &domain.BudgetEntry{
			Scope:        scope,
			MaxNotional:  lim.MaxNotional,
			MaxPositions: lim.MaxPositions,
		}
	}
	return &BudgetManager{
		store:   store,
		logger:  logger.With(slog.String("component", "budget")),
		entries: entries,
	}
}

// Load adopts persisted usage counters. Ceilings stay config-owned; scopes
// persisted but no longer configured are restored as unlimited.
func (m *BudgetManager) Load(ctx context.Context) error {
	persisted, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("budget: load entries: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range persisted {
		entry, ok := m.entries[p.Scope]
		if !ok {
			entry = &domain.BudgetEntry{Scope: p.Scope}
			m.entries[p.Scope] = entry
		}
		entry.UsedNotional = p.UsedNotional
		entry.UsedPositions = p.UsedPositions
		entry.UpdatedAt = p.UpdatedAt
	}
	return nil
}

// CanAllocate reports whether the strategy and the capital book can both
// absorb the requested notional and position count. Pure check, no
// mutation; an absent scope or nil ceiling is unlimited.
func (m *BudgetManager) CanAllocate(strategy string, notional float64, positions int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fitsLocked(strategy, notional, positions) &&
		m.fitsLocked(domain.CapitalScope, notional, positions)
}

func (m *BudgetManager) fitsLocked(scope string, notional float64, positions int) bool {
	entry, ok := m.entries[scope]
	if !ok {
		return true
	}
	if entry.MaxNotional != nil && entry.UsedNotional+notional > *entry.MaxNotional {
		return false
	}
	if entry.MaxPositions != nil && entry.UsedPositions+positions > *entry.MaxPositions {
		return false
	}
	return true
}

// Reserve adds the requested usage to the strategy scope and the capital
// scope. Callers pair it with Release on every terminal failure path.
func (m *BudgetManager) Reserve(ctx context.Context, strategy string, notional float64, positions int) {
	m.apply(ctx, strategy, notional, positions)
}

// Release returns previously reserved usage. Usage floors at zero so a
// double release cannot drive counters negative.
func (m *BudgetManager) Release(ctx context.Context, strategy string, notional float64, positions int) {
	m.apply(ctx, strategy, -notional, -positions)
}

func (m *BudgetManager) apply(ctx context.Context, strategy string, notional float64, positions int) {
	m.mu.Lock()
	updated := []domain.BudgetEntry{
		m.applyLocked(strategy, notional, positions),
		m.applyLocked(domain.CapitalScope, notional, positions),
	}
	m.mu.Unlock()

	for _, entry := range updated {
		if err := m.store.Upsert(ctx, entry); err != nil {
			m.logger.WarnContext(ctx, "budget persist failed",
				slog.String("scope", entry.Scope),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (m *BudgetManager) applyLocked(scope string, notional float64, positions int) domain.BudgetEntry {
	entry, ok := m.entries[scope]
	if !ok {
		entry = &domain.BudgetEntry{Scope: scope}
		m.entries[scope] = entry
	}
	entry.UsedNotional += notional
	if entry.UsedNotional < 0 {
		entry.UsedNotional = 0
	}
	entry.UsedPositions += positions
	if entry.UsedPositions < 0 {
		entry.UsedPositions = 0
	}
	entry.UpdatedAt = time.Now().UTC()
	return *entry
}

// Snapshot returns the derived view of every scope in stable order.
func (m *BudgetManager) Snapshot() []domain.BudgetSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.BudgetSnapshot, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

// Headroom returns the notional headroom for one scope, or nil when the
// scope is unlimited or unknown.
func (m *BudgetManager) Headroom(scope string) *float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[scope]
	if !ok {
		return nil
	}
	return entry.NotionalHeadroom()
}

// Restore atomically replaces all persisted entries and the in-memory view.
// Used to roll the book back to a known-good snapshot.
func (m *BudgetManager) Restore(ctx context.Context, entries []domain.BudgetEntry) error {
	if err := m.store.ApplySnapshot(ctx, entries); err != nil {
		return fmt.Errorf("budget: apply snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*domain.BudgetEntry, len(entries))
	for _, e := range entries {
		entry := e
		m.entries[e.Scope] = &entry
	}
	return nil
}
