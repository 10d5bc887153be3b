package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quantfarm/hedged/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// In-memory stores
// ---------------------------------------------------------------------------

type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	order     []string
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]domain.Position)}
}

func (s *memPositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.positions[pos.ID] = pos
	s.order = append(s.order, pos.ID)
	return nil
}

func (s *memPositionStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *memPositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositionStore) list(match func(domain.Position) bool) []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, id := range s.order {
		if pos := s.positions[id]; match(pos) {
			out = append(out, pos)
		}
	}
	return out
}

func (s *memPositionStore) ListOpen(context.Context) ([]domain.Position, error) {
	return s.list(func(p domain.Position) bool {
		return p.Status == domain.PositionStatusOpen || p.Status == domain.PositionStatusPartial
	}), nil
}

func (s *memPositionStore) ListPartial(context.Context) ([]domain.Position, error) {
	return s.list(func(p domain.Position) bool { return p.Status == domain.PositionStatusPartial }), nil
}

func (s *memPositionStore) ListHistory(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	all := s.list(func(domain.Position) bool { return true })
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

type memBudgetStore struct {
	mu      sync.Mutex
	entries map[string]domain.BudgetEntry
}

func newMemBudgetStore() *memBudgetStore {
	return &memBudgetStore{entries: make(map[string]domain.BudgetEntry)}
}

func (s *memBudgetStore) Get(_ context.Context, scope string) (domain.BudgetEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[scope]
	if !ok {
		return domain.BudgetEntry{}, domain.ErrNotFound
	}
	return entry, nil
}

func (s *memBudgetStore) Upsert(_ context.Context, entry domain.BudgetEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Scope] = entry
	return nil
}

func (s *memBudgetStore) List(context.Context) ([]domain.BudgetEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BudgetEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}

func (s *memBudgetStore) ApplySnapshot(_ context.Context, entries []domain.BudgetEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]domain.BudgetEntry, len(entries))
	for _, e := range entries {
		s.entries[e.Scope] = e
	}
	return nil
}

type memRiskStore struct {
	mu     sync.Mutex
	states map[string]domain.StrategyRiskState
}

func newMemRiskStore() *memRiskStore {
	return &memRiskStore{states: make(map[string]domain.StrategyRiskState)}
}

func (s *memRiskStore) Get(_ context.Context, strategy string) (domain.StrategyRiskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[strategy]
	if !ok {
		return domain.StrategyRiskState{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *memRiskStore) Upsert(_ context.Context, st domain.StrategyRiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.Strategy] = st
	return nil
}

func (s *memRiskStore) List(context.Context) ([]domain.StrategyRiskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StrategyRiskState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	return out, nil
}

type memHoldStore struct {
	mu       sync.Mutex
	state    domain.HoldState
	requests []domain.ResumeRequest
}

func newMemHoldStore() *memHoldStore { return &memHoldStore{} }

func (s *memHoldStore) SaveState(_ context.Context, state domain.HoldState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}

func (s *memHoldStore) LoadState(context.Context) (domain.HoldState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *memHoldStore) CreateResumeRequest(_ context.Context, req domain.ResumeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return nil
}

func (s *memHoldStore) PendingResumeRequest(context.Context) (domain.ResumeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Status == domain.ResumePending {
			return s.requests[i], nil
		}
	}
	return domain.ResumeRequest{}, domain.ErrNoResumePending
}

func (s *memHoldStore) UpdateResumeRequest(_ context.Context, req domain.ResumeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.requests {
		if s.requests[i].ID == req.ID {
			s.requests[i] = req
			return nil
		}
	}
	return domain.ErrNotFound
}

type memExecutionStore struct {
	mu   sync.Mutex
	recs []domain.ExecutionRecord
}

func newMemExecutionStore() *memExecutionStore { return &memExecutionStore{} }

func (s *memExecutionStore) Append(_ context.Context, rec domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memExecutionStore) ListRecent(_ context.Context, limit int) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ExecutionRecord, 0, len(s.recs))
	for i := len(s.recs) - 1; i >= 0; i-- {
		out = append(out, s.recs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type memHedgeLogStore struct {
	mu      sync.Mutex
	entries []domain.HedgeLogEntry
}

func newMemHedgeLogStore() *memHedgeLogStore { return &memHedgeLogStore{} }

func (s *memHedgeLogStore) Append(_ context.Context, entry domain.HedgeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memHedgeLogStore) ListRecent(_ context.Context, limit int) ([]domain.HedgeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.HedgeLogEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		out = append(out, s.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memHedgeLogStore) byKind(kind domain.HedgeLogKind) []domain.HedgeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.HedgeLogEntry
	for _, e := range s.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func newMemAuditStore() *memAuditStore { return &memAuditStore{} }

func (s *memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *memAuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, len(s.entries))
	copy(out, s.entries)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *memAuditStore) events(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Event == event {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Fake caches and transports
// ---------------------------------------------------------------------------

type memPriceCache struct {
	mu     sync.Mutex
	quotes map[string]domain.MarkQuote
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{quotes: make(map[string]domain.MarkQuote)}
}

func (c *memPriceCache) SetMark(_ context.Context, venue, symbol string, price float64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[venue+"|"+symbol] = domain.MarkQuote{Venue: venue, Symbol: symbol, Price: price, At: at}
	return nil
}

func (c *memPriceCache) GetMark(_ context.Context, venue, symbol string) (domain.MarkQuote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	quote, ok := c.quotes[venue+"|"+symbol]
	if !ok {
		return domain.MarkQuote{}, domain.ErrNotFound
	}
	return quote, nil
}

type fakeLimiter struct {
	mu        sync.Mutex
	remaining int
	unlimited bool
	err       error
}

func (l *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.unlimited {
		return true, nil
	}
	if l.remaining <= 0 {
		return false, nil
	}
	l.remaining--
	return true, nil
}

type memAlertBus struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func newMemAlertBus() *memAlertBus { return &memAlertBus{} }

func (b *memAlertBus) Publish(_ context.Context, alert domain.Alert) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts = append(b.alerts, alert)
	return nil
}

func (b *memAlertBus) Read(_ context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if lastID != "0" {
		fmt.Sscanf(lastID, "%d", &start)
	}
	var out []domain.StreamMessage
	for i := start; i < len(b.alerts) && (count <= 0 || len(out) < count); i++ {
		payload, _ := json.Marshal(b.alerts[i])
		out = append(out, domain.StreamMessage{ID: fmt.Sprintf("%d", i+1), Payload: payload})
	}
	return out, nil
}

func (b *memAlertBus) kindCount(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, a := range b.alerts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Interface checks
// ---------------------------------------------------------------------------

var (
	_ domain.PositionStore     = (*memPositionStore)(nil)
	_ domain.BudgetStore       = (*memBudgetStore)(nil)
	_ domain.StrategyRiskStore = (*memRiskStore)(nil)
	_ domain.HoldStore         = (*memHoldStore)(nil)
	_ domain.ExecutionStore    = (*memExecutionStore)(nil)
	_ domain.HedgeLogStore     = (*memHedgeLogStore)(nil)
	_ domain.AuditStore        = (*memAuditStore)(nil)
	_ domain.PriceCache        = (*memPriceCache)(nil)
	_ domain.RateLimiter       = (*fakeLimiter)(nil)
	_ domain.AlertBus          = (*memAlertBus)(nil)
)
