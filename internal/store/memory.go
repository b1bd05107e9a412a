package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oiltrade/risk-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	prices    map[string][]model.PricePoint // product → ascending by date
	positions map[string]*model.Position
	physicals []model.PhysicalExposure
	groups    map[string]*model.TradeGroup
	daily     map[string]model.DailyRiskRecord // yyyy-mm-dd → record
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prices:    make(map[string][]model.PricePoint),
		positions: make(map[string]*model.Position),
		groups:    make(map[string]*model.TradeGroup),
		daily:     make(map[string]model.DailyRiskRecord),
	}
}

// --- Seeding helpers (not part of the Store interface) ---

// SeedPrices appends price points for a product and keeps the series
// sorted by date.
func (s *MemoryStore) SeedPrices(points ...model.PricePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.prices[p.Product] = append(s.prices[p.Product], p)
	}
	for product := range s.prices {
		series := s.prices[product]
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
		s.prices[product] = series
	}
}

// SeedPositions inserts positions into the book.
func (s *MemoryStore) SeedPositions(positions ...model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		copy := p
		s.positions[p.ID] = &copy
	}
}

// SeedPhysicals inserts physical contract exposures.
func (s *MemoryStore) SeedPhysicals(exposures ...model.PhysicalExposure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.physicals = append(s.physicals, exposures...)
}

// --- Price history ---

func (s *MemoryStore) GetPriceHistory(_ context.Context, product string, asOf time.Time, limit int) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.prices[product]
	var eligible []model.PricePoint
	for _, p := range series {
		if !p.Date.After(asOf) {
			eligible = append(eligible, p)
		}
	}
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[len(eligible)-limit:]
	}
	return eligible, nil
}

func (s *MemoryStore) GetLatestPrice(_ context.Context, product string, asOf time.Time) (*model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.prices[product]
	for i := len(series) - 1; i >= 0; i-- {
		if !series[i].Date.After(asOf) {
			copy := series[i]
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("no price for %s at or before %s", product, asOf.Format("2006-01-02"))
}

// --- Position book ---

func (s *MemoryStore) ListOpenPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []model.Position
	for _, p := range s.positions {
		if p.Status == model.PositionOpen {
			open = append(open, *p)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	return open, nil
}

func (s *MemoryStore) ListPhysicalExposures(_ context.Context) ([]model.PhysicalExposure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.PhysicalExposure, len(s.physicals))
	copy(out, s.physicals)
	return out, nil
}

// --- Trade groups ---

func (s *MemoryStore) CreateTradeGroup(_ context.Context, g *model.TradeGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[g.ID]; exists {
		return fmt.Errorf("trade group %s already exists", g.ID)
	}
	copy := *g
	s.groups[g.ID] = &copy
	return nil
}

func (s *MemoryStore) GetTradeGroup(_ context.Context, id string) (*model.TradeGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("trade group %s not found", id)
	}
	copy := *g
	return &copy, nil
}

func (s *MemoryStore) ListTradeGroups(_ context.Context) ([]model.TradeGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]model.TradeGroup, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

func (s *MemoryStore) AssignPositionToGroup(_ context.Context, groupID, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("trade group %s not found", groupID)
	}
	if g.Status == model.GroupClosed {
		return ErrGroupClosed
	}
	p, ok := s.positions[positionID]
	if !ok {
		return fmt.Errorf("position %s not found", positionID)
	}
	if p.TradeGroupID != "" && p.TradeGroupID != groupID {
		return ErrPositionGrouped
	}
	p.TradeGroupID = groupID
	return nil
}

func (s *MemoryStore) RemovePositionFromGroup(_ context.Context, groupID, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("trade group %s not found", groupID)
	}
	if g.Status == model.GroupClosed {
		return ErrGroupClosed
	}
	p, ok := s.positions[positionID]
	if !ok {
		return fmt.Errorf("position %s not found", positionID)
	}
	if p.TradeGroupID != groupID {
		return fmt.Errorf("position %s is not in group %s", positionID, groupID)
	}
	p.TradeGroupID = ""
	return nil
}

func (s *MemoryStore) CloseTradeGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return fmt.Errorf("trade group %s not found", id)
	}
	g.Status = model.GroupClosed
	return nil
}

// --- Daily risk snapshots ---

func (s *MemoryStore) SaveDailyRisk(_ context.Context, rec *model.DailyRiskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.daily[rec.Date.Format("2006-01-02")] = *rec
	return nil
}

func (s *MemoryStore) GetDailyRisk(_ context.Context, start, end time.Time) ([]model.DailyRiskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []model.DailyRiskRecord
	for _, rec := range s.daily {
		if !rec.Date.Before(start) && !rec.Date.After(end) {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
	return records, nil
}
