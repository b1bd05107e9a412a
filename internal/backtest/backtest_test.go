package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oiltrade/risk-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// records builds n daily records with VaR95=100, VaR99=150, of which
// breach95 lose more than VaR95 (but not VaR99) and breach99 lose more
// than both. The rest gain.
func records(n, breach95, breach99 int) []model.DailyRiskRecord {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.DailyRiskRecord, n)
	for i := range out {
		rec := model.DailyRiskRecord{
			Date:        day.AddDate(0, 0, i),
			VaR95:       d(100),
			VaR99:       d(150),
			RealizedPnL: d(50),
		}
		switch {
		case i < breach99:
			rec.RealizedPnL = d(-200) // breaches both levels
		case i < breach99+breach95:
			rec.RealizedPnL = d(-120) // breaches 95 only
		}
		out[i] = rec
	}
	return out
}

func TestRun_WellCalibrated(t *testing.T) {
	// 252 days with exactly 5% VaR95 breaches (13/252 ≈ 5.2%) and ~1%
	// VaR99 breaches (3/252 ≈ 1.2%) — both inside tolerance.
	recs := records(252, 10, 3)

	result := Run(recs, recs[0].Date, recs[len(recs)-1].Date)

	if result.Days != 252 {
		t.Errorf("expected 252 observations, got %d", result.Days)
	}
	if result.VaR95.Breaches != 13 {
		t.Errorf("expected 13 VaR95 breaches, got %d", result.VaR95.Breaches)
	}
	if result.VaR99.Breaches != 3 {
		t.Errorf("expected 3 VaR99 breaches, got %d", result.VaR99.Breaches)
	}
	if !result.VaR95.WellCalibrated {
		t.Errorf("5.2%% breach rate is within the ±2pp band, rate=%f", result.VaR95.BreachRate)
	}
	if !result.VaR99.WellCalibrated {
		t.Errorf("1.2%% breach rate is within the ±0.5pp band, rate=%f", result.VaR99.BreachRate)
	}
	if !result.Passed {
		t.Error("both levels calibrated means the backtest passes")
	}
}

func TestRun_TooManyBreaches(t *testing.T) {
	// 20% VaR95 breach rate is far outside the ±2pp band.
	recs := records(100, 20, 0)

	result := Run(recs, recs[0].Date, recs[len(recs)-1].Date)

	if result.VaR95.WellCalibrated {
		t.Error("a 20% breach rate must fail the 95% level")
	}
	if result.Passed {
		t.Error("one failed level fails the whole backtest")
	}
}

func TestRun_TooFewBreachesAlsoFails(t *testing.T) {
	// Zero breaches at 95% means the model overstates risk: |0 - 0.05| >
	// 0.02, outside the acceptance band.
	recs := records(252, 0, 0)

	result := Run(recs, recs[0].Date, recs[len(recs)-1].Date)

	if result.VaR95.WellCalibrated {
		t.Error("zero breaches at the 95% level indicates an overstated model")
	}
	// |0 - 0.01| = 0.01 > 0.005, so the 99% level fails too.
	if result.VaR99.WellCalibrated {
		t.Error("zero breaches at the 99% level is outside the ±0.5pp band")
	}
}

func TestRun_ProfitableDaysNeverBreach(t *testing.T) {
	recs := []model.DailyRiskRecord{
		{Date: time.Now(), VaR95: d(100), VaR99: d(150), RealizedPnL: d(500)},
	}
	result := Run(recs, recs[0].Date, recs[0].Date)

	if result.VaR95.Breaches != 0 || result.VaR99.Breaches != 0 {
		t.Error("a profitable day is never a VaR breach")
	}
}

func TestRun_LossEqualToVaRIsNotABreach(t *testing.T) {
	recs := []model.DailyRiskRecord{
		{Date: time.Now(), VaR95: d(100), VaR99: d(150), RealizedPnL: d(-100)},
	}
	result := Run(recs, recs[0].Date, recs[0].Date)

	if result.VaR95.Breaches != 0 {
		t.Error("a loss exactly at VaR does not exceed it")
	}
}

func TestRun_EmptyRecords(t *testing.T) {
	result := Run(nil, time.Now(), time.Now())

	if result.Passed {
		t.Error("an empty record set cannot pass calibration")
	}
	if result.Days != 0 {
		t.Errorf("expected 0 observations, got %d", result.Days)
	}
}
