// Package limits compares current exposure, VaR, and concentration
// metrics against configured risk limits and classifies every breach
// found by severity. All breaches are reported, never just the first.
package limits

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/oiltrade/risk-engine/internal/model"
)

// DefaultCriticalMultiplier marks the Critical boundary when a limit does
// not configure its own (current > multiplier × threshold ⇒ Critical).
const DefaultCriticalMultiplier = 1.2

// Metrics is the slice of current portfolio state the evaluator reads.
type Metrics struct {
	TotalExposure     decimal.Decimal            // gross
	VaR95             decimal.Decimal
	ExposureByProduct map[string]decimal.Decimal // gross per product
}

// CheckResult is the outcome of one full limit evaluation.
type CheckResult struct {
	HasBreaches bool                `json:"has_breaches"`
	Breaches    []model.LimitBreach `json:"breaches,omitempty"`
}

// Evaluator holds the configured limit set.
type Evaluator struct {
	limits []model.RiskLimit
}

// NewEvaluator creates a limit evaluator over a configured limit set.
func NewEvaluator(limits []model.RiskLimit) *Evaluator {
	return &Evaluator{limits: limits}
}

// Evaluate checks every configured limit against the current metrics and
// returns all breaches found.
func (e *Evaluator) Evaluate(m Metrics) CheckResult {
	var breaches []model.LimitBreach

	for _, lim := range e.limits {
		current, ok := currentValue(lim, m)
		if !ok {
			continue
		}
		if current.LessThanOrEqual(lim.Threshold) {
			continue
		}

		mult := lim.CriticalMultiplier
		if mult <= 1 {
			mult = DefaultCriticalMultiplier
		}
		criticalAt := lim.Threshold.Mul(decimal.NewFromFloat(mult))

		severity := model.SeverityWarning
		if current.GreaterThanOrEqual(criticalAt) {
			severity = model.SeverityCritical
		}

		breaches = append(breaches, model.LimitBreach{
			LimitType: lim.Type,
			Category:  lim.Category,
			Product:   lim.Product,
			Threshold: lim.Threshold,
			Current:   current,
			Excess:    current.Sub(lim.Threshold),
			Severity:  severity,
		})
	}

	return CheckResult{HasBreaches: len(breaches) > 0, Breaches: breaches}
}

// currentValue maps a limit type to the metric it constrains. ok is false
// when the metric is not applicable (e.g. product limit for a product not
// in the book).
func currentValue(lim model.RiskLimit, m Metrics) (decimal.Decimal, bool) {
	switch lim.Type {
	case model.LimitTotalExposure:
		return m.TotalExposure, true
	case model.LimitVaR:
		return m.VaR95, true
	case model.LimitProductExposure:
		exp, ok := m.ExposureByProduct[lim.Product]
		return exp, ok
	case model.LimitConcentration:
		h := Herfindahl(m.ExposureByProduct)
		return decimal.NewFromFloat(h), h > 0
	default:
		return decimal.Zero, false
	}
}

// Herfindahl computes the concentration index Σ(share²) over gross
// product exposures. Ranges over [1/n, 1] for n products; 1 for a
// single-product book; 0 for an empty book.
func Herfindahl(exposureByProduct map[string]decimal.Decimal) float64 {
	gross := decimal.Zero
	for _, exp := range exposureByProduct {
		gross = gross.Add(exp.Abs())
	}
	if gross.IsZero() {
		return 0
	}

	// Deterministic iteration keeps float summation stable across runs.
	products := make([]string, 0, len(exposureByProduct))
	for p := range exposureByProduct {
		products = append(products, p)
	}
	sort.Strings(products)

	grossF := gross.InexactFloat64()
	var h float64
	for _, p := range products {
		share := exposureByProduct[p].Abs().InexactFloat64() / grossF
		h += share * share
	}
	return h
}
