// Package backtest validates VaR model calibration by comparing realized
// breach rates against theoretical confidence levels (Kupiec-style
// acceptance test).
package backtest

import (
	"time"

	"github.com/oiltrade/risk-engine/internal/model"
)

// Theoretical breach rates and acceptance tolerance bands (in rate units,
// e.g. 0.02 = 2 percentage points).
const (
	TheoreticalRate95 = 0.05
	TheoreticalRate99 = 0.01
	Tolerance95       = 0.02
	Tolerance99       = 0.005
)

// LevelResult is the calibration verdict for one confidence level.
type LevelResult struct {
	Confidence      float64 `json:"confidence"`
	Observations    int     `json:"observations"`
	Breaches        int     `json:"breaches"`
	BreachRate      float64 `json:"breach_rate"`
	TheoreticalRate float64 `json:"theoretical_rate"`
	Tolerance       float64 `json:"tolerance"`
	WellCalibrated  bool    `json:"well_calibrated"`
}

// Result is the full backtest outcome over a date range.
type Result struct {
	Start   time.Time   `json:"start"`
	End     time.Time   `json:"end"`
	Days    int         `json:"days"`
	VaR95   LevelResult `json:"var95"`
	VaR99   LevelResult `json:"var99"`
	Passed  bool        `json:"passed"` // both levels well-calibrated
}

// Run counts the days where the realized loss exceeded each VaR estimate
// and tests the observed breach rate against the theoretical rate. An
// empty record set yields a failed (uncalibratable) result, not an error.
func Run(records []model.DailyRiskRecord, start, end time.Time) Result {
	result := Result{Start: start, End: end, Days: len(records)}

	var breaches95, breaches99 int
	for _, rec := range records {
		loss := rec.RealizedPnL.Neg() // positive magnitude when losing
		if loss.GreaterThan(rec.VaR95) {
			breaches95++
		}
		if loss.GreaterThan(rec.VaR99) {
			breaches99++
		}
	}

	result.VaR95 = levelResult(0.95, len(records), breaches95, TheoreticalRate95, Tolerance95)
	result.VaR99 = levelResult(0.99, len(records), breaches99, TheoreticalRate99, Tolerance99)
	result.Passed = result.VaR95.WellCalibrated && result.VaR99.WellCalibrated
	return result
}

func levelResult(confidence float64, n, breaches int, theoretical, tolerance float64) LevelResult {
	lr := LevelResult{
		Confidence:      confidence,
		Observations:    n,
		Breaches:        breaches,
		TheoreticalRate: theoretical,
		Tolerance:       tolerance,
	}
	if n == 0 {
		return lr
	}
	lr.BreachRate = float64(breaches) / float64(n)

	diff := lr.BreachRate - theoretical
	if diff < 0 {
		diff = -diff
	}
	lr.WellCalibrated = diff <= tolerance
	return lr
}
