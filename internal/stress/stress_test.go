package stress

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/oiltrade/risk-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func longPosition(product string, qty, lot, price float64) model.Position {
	return model.Position{
		Product:      product,
		Direction:    model.DirectionLong,
		Quantity:     d(qty),
		LotSize:      d(lot),
		CurrentPrice: d(price),
		Status:       model.PositionOpen,
	}
}

func TestImpact_LongLosesOnDownShock(t *testing.T) {
	positions := []model.Position{longPosition("BRENT", 100, 1000, 80)}

	impact := Impact(positions, Scenario{Name: "-10%", DefaultShock: -0.10})

	// 100 × 1000 × 80 × -0.10 = -800,000
	if !impact.Equal(d(-800_000)) {
		t.Errorf("expected -800000, got %s", impact)
	}
}

func TestImpact_ShortGainsOnDownShock(t *testing.T) {
	pos := longPosition("BRENT", 100, 1000, 80)
	pos.Direction = model.DirectionShort

	impact := Impact([]model.Position{pos}, Scenario{DefaultShock: -0.10})

	if !impact.Equal(d(800_000)) {
		t.Errorf("short should profit from a down shock, got %s", impact)
	}
}

func TestImpact_ClosedPositionsIgnored(t *testing.T) {
	pos := longPosition("BRENT", 100, 1000, 80)
	pos.Status = model.PositionClosed

	impact := Impact([]model.Position{pos}, Scenario{DefaultShock: -0.10})

	if !impact.IsZero() {
		t.Errorf("closed positions must not contribute, got %s", impact)
	}
}

func TestImpact_ProductSpecificShocks(t *testing.T) {
	positions := []model.Position{
		longPosition("BRENT", 100, 1000, 80), // shocked -20%
		longPosition("JET", 50, 1000, 90),    // untouched
	}
	sc := Scenario{
		Name:   "-20% Crude Shock",
		Shocks: map[string]float64{"BRENT": -0.20},
	}

	impact := Impact(positions, sc)

	// Only BRENT moves: 100 × 1000 × 80 × -0.20 = -1,600,000
	if !impact.Equal(d(-1_600_000)) {
		t.Errorf("expected -1600000, got %s", impact)
	}
}

func TestRun_ViolationFlag(t *testing.T) {
	positions := []model.Position{longPosition("BRENT", 100, 1000, 80)}
	engine := NewEngine(d(500_000))

	results := engine.Run(positions, []Scenario{
		{Name: "-10% Shock", DefaultShock: -0.10}, // loss 800k > 500k
		{Name: "+10% Shock", DefaultShock: 0.10},  // profit, no violation
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Violation {
		t.Error("800k loss against a 500k threshold must be a violation")
	}
	if !results[0].WorstLoss.Equal(d(800_000)) {
		t.Errorf("expected worst loss 800000, got %s", results[0].WorstLoss)
	}
	if results[1].Violation {
		t.Error("a profitable scenario is never a violation")
	}
	if !results[1].WorstLoss.IsZero() {
		t.Errorf("profitable scenario has zero worst loss, got %s", results[1].WorstLoss)
	}
}

func TestRun_HedgedBookOffsets(t *testing.T) {
	short := longPosition("WTI", 100, 1000, 80)
	short.Direction = model.DirectionShort
	positions := []model.Position{
		longPosition("BRENT", 100, 1000, 80),
		short,
	}
	engine := NewEngine(DefaultThreshold)

	results := engine.Run(positions, []Scenario{{Name: "-10%", DefaultShock: -0.10}})

	if !results[0].PnLImpact.IsZero() {
		t.Errorf("a perfectly hedged book has zero stress impact, got %s",
			results[0].PnLImpact)
	}
}

func TestNewEngine_NonPositiveThreshold(t *testing.T) {
	engine := NewEngine(decimal.Zero)
	positions := []model.Position{longPosition("BRENT", 100, 1000, 80)}

	results := engine.Run(positions, []Scenario{{Name: "-10%", DefaultShock: -0.10}})

	// 800k loss against the 500k default threshold.
	if !results[0].Violation {
		t.Error("zero threshold should fall back to the default")
	}
}

func TestDefaultScenarios_Complete(t *testing.T) {
	scenarios := DefaultScenarios()
	names := make(map[string]bool, len(scenarios))
	for _, sc := range scenarios {
		names[sc.Name] = true
	}
	for _, want := range []string{"-10% Shock", "+10% Shock", "-20% Crude Shock", "Historical Worst"} {
		if !names[want] {
			t.Errorf("missing default scenario %q", want)
		}
	}
}
