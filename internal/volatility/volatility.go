// Package volatility computes sample volatility from daily return series.
//
// One unit convention holds across the engine: volatility is DAILY unless
// a name says otherwise. Annualized figures exist for reporting only and
// are never fed back into VaR formulas.
package volatility

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization base.
const TradingDaysPerYear = 252

// Daily returns the sample standard deviation (n−1 denominator) of a
// daily return series. Fewer than two points yield 0, not an error.
func Daily(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

// Annualized scales a daily volatility by √252.
func Annualized(daily float64) float64 {
	return daily * math.Sqrt(TradingDaysPerYear)
}

// Leg pairs one product's daily volatility with its share of gross
// exposure.
type Leg struct {
	Product    string
	Volatility float64 // daily
	Weight     float64 // share of gross exposure, in [0,1]
}

// Portfolio combines per-product volatilities weighted by gross-exposure
// share. Cross-product covariance is ignored — this is the documented
// approximation used when no covariance matrix is available, and it
// overstates rather than understates risk (treats products as perfectly
// correlated):
//
//	σ_p = Σ w_i × σ_i
func Portfolio(legs []Leg) float64 {
	var vol float64
	for _, leg := range legs {
		vol += leg.Weight * leg.Volatility
	}
	return vol
}
