package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oiltrade/risk-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetPriceHistory(ctx context.Context, product string, asOf time.Time, limit int) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product, date, price::TEXT
		 FROM (
		   SELECT product, date, price
		   FROM price_history
		   WHERE product = $1 AND date <= $2
		   ORDER BY date DESC
		   LIMIT $3
		 ) recent
		 ORDER BY date ASC`, product, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("price history %s: %w", product, err)
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var priceS string
		if err := rows.Scan(&p.Product, &p.Date, &priceS); err != nil {
			return nil, err
		}
		p.Price, _ = decimal.NewFromString(priceS)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *PostgresStore) GetLatestPrice(ctx context.Context, product string, asOf time.Time) (*model.PricePoint, error) {
	var p model.PricePoint
	var priceS string

	err := s.pool.QueryRow(ctx,
		`SELECT product, date, price::TEXT
		 FROM price_history
		 WHERE product = $1 AND date <= $2
		 ORDER BY date DESC
		 LIMIT 1`, product, asOf).
		Scan(&p.Product, &p.Date, &priceS)
	if err != nil {
		return nil, fmt.Errorf("latest price %s: %w", product, err)
	}
	p.Price, _ = decimal.NewFromString(priceS)
	return &p, nil
}

func (s *PostgresStore) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product, contract_month, direction,
		        quantity::TEXT, lot_size::TEXT, entry_price::TEXT, current_price::TEXT,
		        status, realized_pnl::TEXT, unrealized_pnl::TEXT, daily_pnl::TEXT,
		        COALESCE(trade_group_id, '')
		 FROM positions WHERE status = 'Open' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qty, lot, entry, current, realized, unrealized, daily string
		if err := rows.Scan(&p.ID, &p.Product, &p.ContractMonth, &p.Direction,
			&qty, &lot, &entry, &current,
			&p.Status, &realized, &unrealized, &daily,
			&p.TradeGroupID); err != nil {
			return nil, err
		}
		p.Quantity, _ = decimal.NewFromString(qty)
		p.LotSize, _ = decimal.NewFromString(lot)
		p.EntryPrice, _ = decimal.NewFromString(entry)
		p.CurrentPrice, _ = decimal.NewFromString(current)
		p.RealizedPnL, _ = decimal.NewFromString(realized)
		p.UnrealizedPnL, _ = decimal.NewFromString(unrealized)
		p.DailyPnL, _ = decimal.NewFromString(daily)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListPhysicalExposures(ctx context.Context) ([]model.PhysicalExposure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT contract_id, product, quantity::TEXT, value::TEXT, COALESCE(trade_group_id, '')
		 FROM physical_exposures WHERE status = 'Open' ORDER BY contract_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exposures []model.PhysicalExposure
	for rows.Next() {
		var e model.PhysicalExposure
		var qty, value string
		if err := rows.Scan(&e.ContractID, &e.Product, &qty, &value, &e.TradeGroupID); err != nil {
			return nil, err
		}
		e.Quantity, _ = decimal.NewFromString(qty)
		e.Value, _ = decimal.NewFromString(value)
		exposures = append(exposures, e)
	}
	return exposures, rows.Err()
}

func (s *PostgresStore) CreateTradeGroup(ctx context.Context, g *model.TradeGroup) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trade_groups (id, name, strategy, status, risk_level, max_loss, target_profit, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		g.ID, g.Name, g.Strategy, g.Status, g.RiskLevel,
		g.MaxLoss.String(), g.TargetProfit.String(), g.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetTradeGroup(ctx context.Context, id string) (*model.TradeGroup, error) {
	var g model.TradeGroup
	var maxLoss, target string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, strategy, status, COALESCE(risk_level, ''),
		        max_loss::TEXT, target_profit::TEXT, created_at
		 FROM trade_groups WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.Strategy, &g.Status, &g.RiskLevel,
			&maxLoss, &target, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get trade group %s: %w", id, err)
	}
	g.MaxLoss, _ = decimal.NewFromString(maxLoss)
	g.TargetProfit, _ = decimal.NewFromString(target)
	return &g, nil
}

func (s *PostgresStore) ListTradeGroups(ctx context.Context) ([]model.TradeGroup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, strategy, status, COALESCE(risk_level, ''),
		        max_loss::TEXT, target_profit::TEXT, created_at
		 FROM trade_groups ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []model.TradeGroup
	for rows.Next() {
		var g model.TradeGroup
		var maxLoss, target string
		if err := rows.Scan(&g.ID, &g.Name, &g.Strategy, &g.Status, &g.RiskLevel,
			&maxLoss, &target, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.MaxLoss, _ = decimal.NewFromString(maxLoss)
		g.TargetProfit, _ = decimal.NewFromString(target)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AssignPositionToGroup enforces membership invariants in a single
// transaction: the group must be open and the position unassigned.
func (s *PostgresStore) AssignPositionToGroup(ctx context.Context, groupID, positionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	if err := tx.QueryRow(ctx,
		`SELECT status FROM trade_groups WHERE id = $1 FOR UPDATE`, groupID).
		Scan(&status); err != nil {
		return fmt.Errorf("get trade group %s: %w", groupID, err)
	}
	if status == model.GroupClosed {
		return ErrGroupClosed
	}

	var existing string
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(trade_group_id, '') FROM positions WHERE id = $1 FOR UPDATE`, positionID).
		Scan(&existing); err != nil {
		return fmt.Errorf("get position %s: %w", positionID, err)
	}
	if existing != "" && existing != groupID {
		return ErrPositionGrouped
	}

	if _, err := tx.Exec(ctx,
		`UPDATE positions SET trade_group_id = $2 WHERE id = $1`,
		positionID, groupID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) RemovePositionFromGroup(ctx context.Context, groupID, positionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	if err := tx.QueryRow(ctx,
		`SELECT status FROM trade_groups WHERE id = $1 FOR UPDATE`, groupID).
		Scan(&status); err != nil {
		return fmt.Errorf("get trade group %s: %w", groupID, err)
	}
	if status == model.GroupClosed {
		return ErrGroupClosed
	}

	tag, err := tx.Exec(ctx,
		`UPDATE positions SET trade_group_id = NULL
		 WHERE id = $1 AND trade_group_id = $2`,
		positionID, groupID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s is not in group %s", positionID, groupID)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CloseTradeGroup(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE trade_groups SET status = 'Closed' WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) SaveDailyRisk(ctx context.Context, rec *model.DailyRiskRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO risk_snapshots (date, var95, var99, realized_pnl)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC)
		 ON CONFLICT (date) DO UPDATE
		 SET var95 = EXCLUDED.var95, var99 = EXCLUDED.var99, realized_pnl = EXCLUDED.realized_pnl`,
		rec.Date, rec.VaR95.String(), rec.VaR99.String(), rec.RealizedPnL.String(),
	)
	return err
}

func (s *PostgresStore) GetDailyRisk(ctx context.Context, start, end time.Time) ([]model.DailyRiskRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT date, var95::TEXT, var99::TEXT, realized_pnl::TEXT
		 FROM risk_snapshots
		 WHERE date >= $1 AND date <= $2
		 ORDER BY date ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.DailyRiskRecord
	for rows.Next() {
		var r model.DailyRiskRecord
		var v95, v99, pnl string
		if err := rows.Scan(&r.Date, &v95, &v99, &pnl); err != nil {
			return nil, err
		}
		r.VaR95, _ = decimal.NewFromString(v95)
		r.VaR99, _ = decimal.NewFromString(v99)
		r.RealizedPnL, _ = decimal.NewFromString(pnl)
		records = append(records, r)
	}
	return records, rows.Err()
}
