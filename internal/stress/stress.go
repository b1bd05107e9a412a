// Package stress revalues the open book under named price-shock scenarios
// and reports the P&L impact per scenario. A scenario whose loss exceeds
// the configured threshold is flagged as a violation for the risk gate.
package stress

import (
	"github.com/shopspring/decimal"

	"github.com/oiltrade/risk-engine/internal/model"
)

// Scenario is one named stress test. Shocks maps product → fractional
// price shift (e.g. -0.20 for a 20% drop); products not present use
// DefaultShock. A zero DefaultShock with no product entry leaves that
// product unshocked.
type Scenario struct {
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Shocks       map[string]float64 `json:"shocks,omitempty"`
	DefaultShock float64            `json:"default_shock"`
}

// Result is the outcome of one scenario run.
type Result struct {
	Scenario    string          `json:"scenario"`
	Description string          `json:"description"`
	PnLImpact   decimal.Decimal `json:"pnl_impact"` // signed; losses negative
	WorstLoss   decimal.Decimal `json:"worst_loss"` // positive magnitude, 0 if profitable
	Violation   bool            `json:"violation"`
}

// DefaultThreshold is the stress loss above which a scenario counts as a
// violation.
var DefaultThreshold = decimal.NewFromInt(500_000)

// DefaultScenarios mirrors the standing desk scenario set: symmetric 10%
// shocks, a crude-only 20% shock, and a repeat of the historical worst
// one-day decline.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "-10% Shock", Description: "10% decline in all oil and fuel prices", DefaultShock: -0.10},
		{Name: "+10% Shock", Description: "10% increase in all oil and fuel prices", DefaultShock: 0.10},
		{
			Name:        "-20% Crude Shock",
			Description: "20% decline in crude benchmarks only",
			Shocks:      map[string]float64{"BRENT": -0.20, "WTI": -0.20, "DUBAI": -0.20},
		},
		{Name: "Historical Worst", Description: "Repeat of historical worst daily oil price decline", DefaultShock: -0.15},
	}
}

// Engine runs scenarios against position snapshots.
type Engine struct {
	threshold decimal.Decimal
}

// NewEngine creates a stress engine with the given violation threshold.
// A non-positive threshold falls back to DefaultThreshold.
func NewEngine(threshold decimal.Decimal) *Engine {
	if threshold.LessThanOrEqual(decimal.Zero) {
		threshold = DefaultThreshold
	}
	return &Engine{threshold: threshold}
}

// Run revalues all open positions under each scenario.
func (e *Engine) Run(positions []model.Position, scenarios []Scenario) []Result {
	results := make([]Result, 0, len(scenarios))
	for _, sc := range scenarios {
		impact := Impact(positions, sc)

		worst := decimal.Zero
		if impact.IsNegative() {
			worst = impact.Neg()
		}

		results = append(results, Result{
			Scenario:    sc.Name,
			Description: sc.Description,
			PnLImpact:   impact,
			WorstLoss:   worst,
			Violation:   worst.GreaterThan(e.threshold),
		})
	}
	return results
}

// Impact computes the signed P&L of shifting each position's mark price
// by the scenario's shock. Closed positions contribute nothing.
func Impact(positions []model.Position, sc Scenario) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if p.Status != model.PositionOpen {
			continue
		}
		shock, ok := sc.Shocks[p.Product]
		if !ok {
			shock = sc.DefaultShock
		}
		if shock == 0 {
			continue
		}

		priceChange := p.CurrentPrice.Mul(decimal.NewFromFloat(shock))
		impact := priceChange.Mul(p.Quantity).Mul(p.LotSize)
		if p.Direction == model.DirectionShort {
			impact = impact.Neg()
		}
		total = total.Add(impact)
	}
	return total.Round(2)
}
