// Package store defines the persistence interface for the risk engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The engine treats positions, physical exposures, and price history as
// read-only snapshots. The only writes it owns are trade-group lifecycle
// changes and daily risk snapshots.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/oiltrade/risk-engine/internal/model"
)

var (
	// ErrGroupClosed is returned when a membership change targets a
	// closed trade group. Closed groups are frozen.
	ErrGroupClosed = errors.New("store: trade group is closed")

	// ErrPositionGrouped is returned when a position already belongs to
	// another trade group. A position belongs to at most one group.
	ErrPositionGrouped = errors.New("store: position already assigned to a trade group")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Price history (read-only) ---

	// GetPriceHistory returns up to limit daily settlement prices for a
	// product at or before asOf, in ascending date order.
	GetPriceHistory(ctx context.Context, product string, asOf time.Time, limit int) ([]model.PricePoint, error)

	// GetLatestPrice returns the most recent price at or before asOf.
	// When no exact-date price exists the latest earlier one is returned;
	// the PricePoint carries its own date so callers can see staleness.
	GetLatestPrice(ctx context.Context, product string, asOf time.Time) (*model.PricePoint, error)

	// --- Position book (read-only snapshot) ---

	// ListOpenPositions returns all open paper positions.
	ListOpenPositions(ctx context.Context) ([]model.Position, error)

	// ListPhysicalExposures returns open physical contract exposures.
	ListPhysicalExposures(ctx context.Context) ([]model.PhysicalExposure, error)

	// --- Trade group lifecycle ---

	// CreateTradeGroup persists a new open trade group.
	CreateTradeGroup(ctx context.Context, g *model.TradeGroup) error

	// GetTradeGroup retrieves a trade group by ID.
	GetTradeGroup(ctx context.Context, id string) (*model.TradeGroup, error)

	// ListTradeGroups returns all trade groups.
	ListTradeGroups(ctx context.Context) ([]model.TradeGroup, error)

	// AssignPositionToGroup adds a position to an open group. Fails with
	// ErrGroupClosed on closed groups and ErrPositionGrouped when the
	// position already belongs to a different group.
	AssignPositionToGroup(ctx context.Context, groupID, positionID string) error

	// RemovePositionFromGroup detaches a position from an open group.
	RemovePositionFromGroup(ctx context.Context, groupID, positionID string) error

	// CloseTradeGroup transitions a group to Closed. Terminal.
	CloseTradeGroup(ctx context.Context, id string) error

	// --- Daily risk snapshots (backtest input) ---

	// SaveDailyRisk upserts one end-of-day risk record.
	SaveDailyRisk(ctx context.Context, rec *model.DailyRiskRecord) error

	// GetDailyRisk returns records with start <= date <= end, ascending.
	GetDailyRisk(ctx context.Context, start, end time.Time) ([]model.DailyRiskRecord, error)
}
