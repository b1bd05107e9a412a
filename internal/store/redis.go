package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oiltrade/risk-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: price history and the open position book.
// Trade-group writes invalidate the position cache; reads check Redis
// first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPriceHistory(ctx context.Context, product string, asOf time.Time, limit int) ([]model.PricePoint, error) {
	key := historyKey(product, asOf, limit)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var points []model.PricePoint
		if json.Unmarshal(data, &points) == nil {
			return points, nil
		}
	}

	// Cache miss: read from primary.
	points, err := s.primary.GetPriceHistory(ctx, product, asOf, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(points); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return points, nil
}

func (s *CachedStore) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListOpenPositions(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey, data, s.ttl)
	}
	return positions, nil
}

// --- Writes (invalidate affected cache entries) ---

func (s *CachedStore) AssignPositionToGroup(ctx context.Context, groupID, positionID string) error {
	if err := s.primary.AssignPositionToGroup(ctx, groupID, positionID); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey)
	return nil
}

func (s *CachedStore) RemovePositionFromGroup(ctx context.Context, groupID, positionID string) error {
	if err := s.primary.RemovePositionFromGroup(ctx, groupID, positionID); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey)
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetLatestPrice(ctx context.Context, product string, asOf time.Time) (*model.PricePoint, error) {
	return s.primary.GetLatestPrice(ctx, product, asOf)
}

func (s *CachedStore) ListPhysicalExposures(ctx context.Context) ([]model.PhysicalExposure, error) {
	return s.primary.ListPhysicalExposures(ctx)
}

func (s *CachedStore) CreateTradeGroup(ctx context.Context, g *model.TradeGroup) error {
	return s.primary.CreateTradeGroup(ctx, g)
}

func (s *CachedStore) GetTradeGroup(ctx context.Context, id string) (*model.TradeGroup, error) {
	return s.primary.GetTradeGroup(ctx, id)
}

func (s *CachedStore) ListTradeGroups(ctx context.Context) ([]model.TradeGroup, error) {
	return s.primary.ListTradeGroups(ctx)
}

func (s *CachedStore) CloseTradeGroup(ctx context.Context, id string) error {
	return s.primary.CloseTradeGroup(ctx, id)
}

func (s *CachedStore) SaveDailyRisk(ctx context.Context, rec *model.DailyRiskRecord) error {
	return s.primary.SaveDailyRisk(ctx, rec)
}

func (s *CachedStore) GetDailyRisk(ctx context.Context, start, end time.Time) ([]model.DailyRiskRecord, error) {
	return s.primary.GetDailyRisk(ctx, start, end)
}

// --- Cache keys ---

const positionsKey = "risk:positions:open"

func historyKey(product string, asOf time.Time, limit int) string {
	return fmt.Sprintf("risk:history:%s:%s:%d", product, asOf.Format("2006-01-02"), limit)
}
