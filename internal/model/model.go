// Package model defines the core domain types shared across the risk engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Dimensionless quantities (returns, volatilities, ratios) are float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position directions.
const (
	DirectionLong  = "Long"
	DirectionShort = "Short"
)

// Position statuses.
const (
	PositionOpen   = "Open"
	PositionClosed = "Closed"
)

// Trade group statuses. A closed group's membership is frozen.
const (
	GroupOpen   = "Open"
	GroupClosed = "Closed"
)

// System risk statuses consumed by the risk gate.
const (
	StatusNormal    = "Normal"
	StatusElevated  = "Elevated"
	StatusEmergency = "Emergency"
)

// Position is a paper (derivative) contract position. Exposure contribution
// is |quantity × lotSize × currentPrice|; direction determines sign.
// The engine reads positions as an immutable snapshot per invocation;
// mark-to-market updates are a separate collaborator.
type Position struct {
	ID            string          `json:"id" db:"id"`
	Product       string          `json:"product" db:"product"`
	ContractMonth string          `json:"contract_month" db:"contract_month"`
	Direction     string          `json:"direction" db:"direction"` // "Long" or "Short"
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	LotSize       decimal.Decimal `json:"lot_size" db:"lot_size"`
	EntryPrice    decimal.Decimal `json:"entry_price" db:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"`
	Status        string          `json:"status" db:"status"` // "Open" or "Closed"
	RealizedPnL   decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	DailyPnL      decimal.Decimal `json:"daily_pnl" db:"daily_pnl"`
	TradeGroupID  string          `json:"trade_group_id,omitempty" db:"trade_group_id"` // empty = standalone
}

// GrossValue returns |quantity × lotSize × currentPrice|, the position's
// contribution to gross exposure.
func (p Position) GrossValue() decimal.Decimal {
	return p.Quantity.Mul(p.LotSize).Mul(p.CurrentPrice).Abs()
}

// NetValue returns the signed exposure: positive for Long, negative for Short.
func (p Position) NetValue() decimal.Decimal {
	v := p.GrossValue()
	if p.Direction == DirectionShort {
		return v.Neg()
	}
	return v
}

// PhysicalExposure is the engine's view of a physical purchase/sales
// contract: a scalar exposure contribution. The contract itself is owned
// by contract management.
type PhysicalExposure struct {
	ContractID   string          `json:"contract_id" db:"contract_id"`
	Product      string          `json:"product" db:"product"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	Value        decimal.Decimal `json:"value" db:"value"` // signed: + purchase, - sale
	TradeGroupID string          `json:"trade_group_id,omitempty" db:"trade_group_id"`
}

// TradeGroup is a named multi-leg strategy. It holds back-references only;
// member positions carry the group ID.
type TradeGroup struct {
	ID           string          `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Strategy     string          `json:"strategy" db:"strategy"` // e.g. "CrackSpread", "CalendarSpread"
	Status       string          `json:"status" db:"status"`     // "Open" or "Closed"
	RiskLevel    string          `json:"risk_level,omitempty" db:"risk_level"`
	MaxLoss      decimal.Decimal `json:"max_loss" db:"max_loss"`
	TargetProfit decimal.Decimal `json:"target_profit" db:"target_profit"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// PricePoint is one stored daily settlement price for a product.
type PricePoint struct {
	Product string          `json:"product" db:"product"`
	Date    time.Time       `json:"date" db:"date"`
	Price   decimal.Decimal `json:"price" db:"price"`
}

// RiskMetrics is a computed risk result for a book, a trade group, or the
// aggregate portfolio. Computed on demand, never authoritative state.
type RiskMetrics struct {
	Scope                  string                     `json:"scope"` // "portfolio", "standalone", or group ID
	NetExposure            decimal.Decimal            `json:"net_exposure"`
	GrossExposure          decimal.Decimal            `json:"gross_exposure"`
	VaR95                  decimal.Decimal            `json:"var95"`
	VaR99                  decimal.Decimal            `json:"var99"`
	DailyVolatility        float64                    `json:"daily_volatility"`
	Concentration          float64                    `json:"concentration"` // Herfindahl index
	DiversificationBenefit decimal.Decimal            `json:"diversification_benefit"`
	DiversificationRatio   float64                    `json:"diversification_ratio"` // |net| / gross, in [0,1]
	ExposureByProduct      map[string]decimal.Decimal `json:"exposure_by_product,omitempty"`
	Warnings               []string                   `json:"warnings,omitempty"`
	ComputedAt             time.Time                  `json:"computed_at"`
}

// Limit types evaluated by the limit evaluator.
const (
	LimitTotalExposure   = "TotalExposure"
	LimitProductExposure = "ProductExposure"
	LimitVaR             = "VaR"
	LimitConcentration   = "Concentration"
)

// Breach severities.
const (
	SeverityWarning  = "Warning"
	SeverityCritical = "Critical"
)

// RiskLimit is one configured limit. CriticalMultiplier scales the
// threshold to the Critical severity boundary (e.g. 1.2 → Critical at
// 120% of the limit).
type RiskLimit struct {
	Type               string          `json:"type"`
	Category           string          `json:"category"` // "portfolio", "product", or "strategy"
	Product            string          `json:"product,omitempty"`
	Threshold          decimal.Decimal `json:"threshold"`
	CriticalMultiplier float64         `json:"critical_multiplier"`
}

// LimitBreach is an ephemeral computation output describing one exceeded
// limit. Not persisted by the engine.
type LimitBreach struct {
	LimitType string          `json:"limit_type"`
	Category  string          `json:"category"`
	Product   string          `json:"product,omitempty"`
	Threshold decimal.Decimal `json:"threshold"`
	Current   decimal.Decimal `json:"current"`
	Excess    decimal.Decimal `json:"excess"`
	Severity  string          `json:"severity"`
}

// RiskCheckResult is produced once per gated operation and never mutated
// after creation.
type RiskCheckResult struct {
	ID           string          `json:"id"`
	Approved     bool            `json:"approved"`
	RiskScore    float64         `json:"risk_score"`
	Violations   []string        `json:"violations,omitempty"`
	Tier         string          `json:"tier"`
	VaRReference decimal.Decimal `json:"var_reference"`
	OverrideUsed bool            `json:"override_used"`
	CheckedAt    time.Time       `json:"checked_at"`
}

// RiskAlert is pushed to the alerting sink on limit breaches and gate
// overrides. Delivery is fire-and-forget.
type RiskAlert struct {
	ID        string    `json:"id"`
	Severity  string    `json:"severity"`
	LimitType string    `json:"limit_type,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DailyRiskRecord is one persisted end-of-day snapshot pairing the day's
// VaR estimates with its realized P&L. Input to the backtest validator.
type DailyRiskRecord struct {
	Date        time.Time       `json:"date" db:"date"`
	VaR95       decimal.Decimal `json:"var95" db:"var95"`
	VaR99       decimal.Decimal `json:"var99" db:"var99"`
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
}
