// Package varcalc computes Value-at-Risk at 95% and 99% confidence using
// three selectable methods: historical simulation, parametric
// (variance-covariance), and Monte Carlo.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Internal statistics run in float64 (gonum), with results immediately
// converted to decimal at the boundary.
//
// Failure semantics: missing return data degrades to a zero contribution
// plus a warning; a VaR99 < VaR95 inversion is clamped up and flagged as a
// data-quality warning. Neither is a hard error, so callers always get a
// best-effort figure.
package varcalc

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Method selects the VaR estimator.
type Method string

const (
	// Historical replays the observed return distribution against the
	// current book.
	Historical Method = "historical"

	// Parametric applies the variance-covariance formula
	// VaR_c = |net exposure| × daily volatility × z_c.
	Parametric Method = "parametric"

	// MonteCarlo simulates correlated normal return shocks and takes the
	// percentile loss.
	MonteCarlo Method = "montecarlo"
)

// Normal quantiles for the two confidence levels.
const (
	Z95 = 1.645
	Z99 = 2.326
)

// Simulation bounds. MaxSimulations caps worst-case latency per request.
const (
	DefaultSimulations = 10_000
	MaxSimulations     = 100_000
)

// DefaultSeed makes unscoped runs reproducible.
const DefaultSeed = 42

// MoneyScale is the number of decimal places for VaR amounts.
const MoneyScale int32 = 2

// ErrUnknownMethod is returned for an unrecognized method tag.
var ErrUnknownMethod = errors.New("varcalc: unknown VaR method")

// Leg is one product's contribution to the book for simulation methods.
// Weight is the signed share of gross exposure: positive for net long in
// the product, negative for net short. Σ|Weight| = 1 for a fully priced
// book.
type Leg struct {
	Product string
	Weight  float64
	Returns []float64 // daily, oldest first
}

// Input carries everything an estimator may need. Net exposure feeds the
// parametric method; gross exposure scales simulated returns into P&L.
type Input struct {
	NetExposure     decimal.Decimal
	GrossExposure   decimal.Decimal
	DailyVolatility float64 // parametric only
	Legs            []Leg   // historical and Monte Carlo
	Simulations     int     // 0 → DefaultSimulations, capped at MaxSimulations
	Seed            int64   // 0 → DefaultSeed
}

// Result is a computed VaR pair. VaR99 >= VaR95 always holds on output;
// an input that violated it is clamped and flagged in Warnings.
type Result struct {
	Method   Method          `json:"method"`
	VaR95    decimal.Decimal `json:"var95"`
	VaR99    decimal.Decimal `json:"var99"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Compute dispatches to the estimator selected by method.
func Compute(method Method, in Input) (Result, error) {
	switch method {
	case Historical:
		return computeHistorical(in), nil
	case Parametric:
		return computeParametric(in), nil
	case MonteCarlo:
		return computeMonteCarlo(in), nil
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// --- Historical simulation ---

func computeHistorical(in Input) Result {
	res := Result{Method: Historical}

	portReturns, warnings := portfolioReturns(in.Legs)
	res.Warnings = warnings
	if len(portReturns) == 0 {
		res.VaR95, res.VaR99 = decimal.Zero, decimal.Zero
		return res
	}

	gross := in.GrossExposure.Abs().InexactFloat64()
	pnl := make([]float64, len(portReturns))
	for i, r := range portReturns {
		pnl[i] = r * gross
	}

	v95, v99 := varFromPnL(pnl)
	finishResult(&res, v95, v99)
	return res
}

// portfolioReturns combines per-leg returns into a weighted portfolio
// series over the longest common window. Legs without data contribute
// zero and produce a warning.
func portfolioReturns(legs []Leg) ([]float64, []string) {
	var warnings []string

	minLen := math.MaxInt
	any := false
	for _, leg := range legs {
		if len(leg.Returns) == 0 {
			warnings = append(warnings, fmt.Sprintf("no return data for %s; leg contributes zero", leg.Product))
			continue
		}
		any = true
		if len(leg.Returns) < minLen {
			minLen = len(leg.Returns)
		}
	}
	if !any {
		return nil, warnings
	}

	out := make([]float64, minLen)
	for _, leg := range legs {
		if len(leg.Returns) == 0 {
			continue
		}
		// Use the most recent minLen observations of each leg.
		recent := leg.Returns[len(leg.Returns)-minLen:]
		for i, r := range recent {
			out[i] += leg.Weight * r
		}
	}
	return out, warnings
}

// --- Parametric (variance-covariance) ---

func computeParametric(in Input) Result {
	res := Result{Method: Parametric}

	// Net, not gross: gross exposure here is a known source of
	// over-statement for hedged books.
	net := in.NetExposure.Abs().InexactFloat64()
	v95 := net * in.DailyVolatility * Z95
	v99 := net * in.DailyVolatility * Z99

	finishResult(&res, v95, v99)
	return res
}

// --- Monte Carlo ---

func computeMonteCarlo(in Input) Result {
	res := Result{Method: MonteCarlo}

	sims := in.Simulations
	if sims <= 0 {
		sims = DefaultSimulations
	}
	if sims > MaxSimulations {
		sims = MaxSimulations
	}
	seed := in.Seed
	if seed == 0 {
		seed = DefaultSeed
	}
	rng := rand.New(rand.NewSource(seed))

	// Keep only legs with data; the rest contribute zero.
	var legs []Leg
	for _, leg := range in.Legs {
		if len(leg.Returns) >= 2 {
			legs = append(legs, leg)
		} else {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("no return data for %s; leg contributes zero", leg.Product))
		}
	}
	if len(legs) == 0 {
		res.VaR95, res.VaR99 = decimal.Zero, decimal.Zero
		return res
	}

	gross := in.GrossExposure.Abs().InexactFloat64()
	pnl := make([]float64, sims)

	if len(legs) == 1 {
		mu := stat.Mean(legs[0].Returns, nil)
		sigma := stat.StdDev(legs[0].Returns, nil)
		w := legs[0].Weight
		for i := 0; i < sims; i++ {
			pnl[i] = w * (mu + sigma*rng.NormFloat64()) * gross
		}
		v95, v99 := varFromPnL(pnl)
		finishResult(&res, v95, v99)
		return res
	}

	means, chol, ok := covarianceFactor(legs)
	if !ok {
		// Covariance not positive definite: fall back to independent
		// draws. Explicit, not implicit — callers see the warning.
		res.Warnings = append(res.Warnings,
			"covariance matrix not positive definite; using independent draws")
		sigmas := make([]float64, len(legs))
		for j, leg := range legs {
			sigmas[j] = stat.StdDev(leg.Returns, nil)
		}
		for i := 0; i < sims; i++ {
			var port float64
			for j, leg := range legs {
				port += leg.Weight * (means[j] + sigmas[j]*rng.NormFloat64())
			}
			pnl[i] = port * gross
		}
		v95, v99 := varFromPnL(pnl)
		finishResult(&res, v95, v99)
		return res
	}

	n := len(legs)
	var lower mat.TriDense
	chol.LTo(&lower)

	z := make([]float64, n)
	shock := make([]float64, n)
	for i := 0; i < sims; i++ {
		for j := range z {
			z[j] = rng.NormFloat64()
		}
		// shock = mean + L·z
		for r := 0; r < n; r++ {
			sum := means[r]
			for c := 0; c <= r; c++ {
				sum += lower.At(r, c) * z[c]
			}
			shock[r] = sum
		}
		var port float64
		for j, leg := range legs {
			port += leg.Weight * shock[j]
		}
		pnl[i] = port * gross
	}

	v95, v99 := varFromPnL(pnl)
	finishResult(&res, v95, v99)
	return res
}

// covarianceFactor computes per-leg means and the Cholesky factor of the
// sample covariance over the longest common window. ok is false when the
// matrix is not positive definite.
func covarianceFactor(legs []Leg) (means []float64, chol *mat.Cholesky, ok bool) {
	minLen := len(legs[0].Returns)
	for _, leg := range legs[1:] {
		if len(leg.Returns) < minLen {
			minLen = len(leg.Returns)
		}
	}

	n := len(legs)
	samples := mat.NewDense(minLen, n, nil)
	means = make([]float64, n)
	for j, leg := range legs {
		recent := leg.Returns[len(leg.Returns)-minLen:]
		for i, r := range recent {
			samples.Set(i, j, r)
		}
		means[j] = stat.Mean(recent, nil)
	}

	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, samples, nil)

	chol = &mat.Cholesky{}
	if !chol.Factorize(cov) {
		return means, nil, false
	}
	return means, chol, true
}

// --- Shared helpers ---

// varFromPnL sorts simulated P&L outcomes and reads the 5th/1st percentile
// losses as positive magnitudes. All-profit distributions yield zero.
func varFromPnL(pnl []float64) (v95, v99 float64) {
	sort.Float64s(pnl)
	q05 := stat.Quantile(0.05, stat.Empirical, pnl, nil)
	q01 := stat.Quantile(0.01, stat.Empirical, pnl, nil)
	v95 = math.Abs(math.Min(q05, 0))
	v99 = math.Abs(math.Min(q01, 0))
	return v95, v99
}

// finishResult converts float VaR figures to decimal and enforces the
// VaR99 >= VaR95 invariant, clamping and flagging on violation.
func finishResult(res *Result, v95, v99 float64) {
	if v99 < v95 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("VaR99 (%.2f) below VaR95 (%.2f); clamped — check input data quality", v99, v95))
		v99 = v95
	}
	res.VaR95 = decimal.NewFromFloat(v95).Round(MoneyScale)
	res.VaR99 = decimal.NewFromFloat(v99).Round(MoneyScale)
}
