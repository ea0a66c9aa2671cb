package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pinchmarket/internal/model"
)

// MemStore is an in-memory ledger.Store with the same per-call atomicity
// guarantees as the Postgres store. It backs tests and the
// `DATABASE_URL=memory` dev mode; it is not a durable system of record.
type MemStore struct {
	mu        sync.Mutex
	agents    map[string]*model.Agent
	markets   map[string]*model.Market
	positions map[string]*model.Position
	events    []model.Event
	nextEvent int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		agents:    make(map[string]*model.Agent),
		markets:   make(map[string]*model.Market),
		positions: make(map[string]*model.Position),
	}
}

// ── Agents ───────────────────────────────────────────

func (s *MemStore) GetAgent(_ context.Context, id string) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyAgent(s.agents[id]), nil
}

func (s *MemStore) GetAgentByCredentialHash(_ context.Context, hash string) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.CredentialHash == hash {
			return copyAgent(a), nil
		}
	}
	return nil, nil
}

func (s *MemStore) GetAgentByName(_ context.Context, name string) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if strings.EqualFold(a.Name, name) {
			return copyAgent(a), nil
		}
	}
	return nil, nil
}

func (s *MemStore) InsertAgent(_ context.Context, name, credentialHash string, balance int64) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.CredentialHash == credentialHash {
			return nil, model.E(model.KindConflict, "agent already registered")
		}
		if strings.EqualFold(a.Name, name) {
			return nil, model.E(model.KindConflict, "name taken")
		}
	}
	a := &model.Agent{
		ID:             uuid.NewString(),
		Name:           name,
		CredentialHash: credentialHash,
		Balance:        balance,
		CreatedAt:      time.Now(),
	}
	s.agents[a.ID] = a
	return copyAgent(a), nil
}

func (s *MemStore) DebitAgent(_ context.Context, agentID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return 0, model.E(model.KindNotFound, "agent not found")
	}
	if a.Balance < amount {
		return 0, model.E(model.KindInsufficientBalance, "balance too low for debit")
	}
	a.Balance -= amount
	return a.Balance, nil
}

func (s *MemStore) CreditAgent(_ context.Context, agentID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return model.E(model.KindNotFound, "agent not found")
	}
	a.Balance += amount
	return nil
}

func (s *MemStore) ListAgents(_ context.Context) ([]model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ── Markets ──────────────────────────────────────────

func (s *MemStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMarket(s.markets[id]), nil
}

func (s *MemStore) InsertMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemStore) ListMarkets(_ context.Context, f model.MarketFilter) ([]model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Market{}
	for _, m := range s.markets {
		if f.Category != "" && m.Category != f.Category {
			continue
		}
		if f.Status == "active" && m.Resolution != nil {
			continue
		}
		if f.Status == "resolved" && m.Resolution == nil {
			continue
		}
		out = append(out, *copyMarket(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemStore) MarkResolved(_ context.Context, marketID string, outcome model.Resolution, source string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[marketID]
	if !ok {
		return model.E(model.KindNotFound, "market not found")
	}
	if m.Resolution != nil {
		return model.E(model.KindConflict, "market already resolved")
	}
	m.Resolution = &outcome
	m.ResolutionDate = &when
	if source != "" {
		m.ResolutionSource = source
	}
	return nil
}

func (s *MemStore) AddMarketVolume(_ context.Context, marketID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.markets[marketID]; ok {
		m.TotalVolume += delta
	}
	return nil
}

// ── Positions ────────────────────────────────────────

func (s *MemStore) GetPosition(_ context.Context, agentID, marketID string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.AgentID == agentID && p.MarketID == marketID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemStore) GetPositionsForMarket(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Position{}
	for _, p := range s.positions {
		if p.MarketID == marketID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) GetPositionsForAgent(_ context.Context, agentID string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Position{}
	for _, p := range s.positions {
		if p.AgentID == agentID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) InsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.positions {
		if ex.AgentID == p.AgentID && ex.MarketID == p.MarketID {
			return model.E(model.KindConflict, "duplicate row")
		}
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemStore) AddToPosition(_ context.Context, positionID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[positionID]
	if !ok {
		return model.E(model.KindNotFound, "position not found")
	}
	p.Amount += delta
	return nil
}

func (s *MemStore) DeletePosition(_ context.Context, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, positionID)
	return nil
}

// ── Events ───────────────────────────────────────────

func (s *MemStore) AppendEvent(_ context.Context, evType string, agentID, marketID *string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvent++
	s.events = append(s.events, model.Event{
		ID:        s.nextEvent,
		Type:      evType,
		AgentID:   agentID,
		MarketID:  marketID,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemStore) ListEvents(_ context.Context, limit int) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// ── Helpers ──────────────────────────────────────────

func copyAgent(a *model.Agent) *model.Agent {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

func copyMarket(m *model.Market) *model.Market {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Resolution != nil {
		r := *m.Resolution
		cp.Resolution = &r
	}
	if m.ResolutionDate != nil {
		t := *m.ResolutionDate
		cp.ResolutionDate = &t
	}
	return &cp
}
