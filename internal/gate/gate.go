// Package gate implements the tiered pre/post-action risk check that
// approves, blocks, or allows-with-override gated operations.
//
// The original system expressed this as a cross-cutting interceptor; here
// it is an explicit middleware composed around each gated route, with the
// system risk state injected as a snapshot taken once per evaluation —
// never re-queried mid-decision.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oiltrade/risk-engine/internal/model"
)

// Tier is the strictness level of a gated operation. Each tier runs all
// checks of the tiers below it.
type Tier string

const (
	TierBasic    Tier = "Basic"
	TierStandard Tier = "Standard"
	TierEnhanced Tier = "Enhanced"
	TierCritical Tier = "Critical"
)

// ParseTier maps a request string to a Tier, defaulting to Standard.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierBasic, TierStandard, TierEnhanced, TierCritical:
		return Tier(s)
	default:
		return TierStandard
	}
}

// failsClosed reports whether a tier denies on infrastructure failure.
// Basic/Standard fail open so routine operations survive hiccups;
// Enhanced/Critical must not proceed on unverifiable risk.
func (t Tier) failsClosed() bool {
	return t == TierEnhanced || t == TierCritical
}

// rank orders tiers for cumulative checks.
func (t Tier) rank() int {
	switch t {
	case TierBasic:
		return 0
	case TierStandard:
		return 1
	case TierEnhanced:
		return 2
	default:
		return 3
	}
}

// Snapshot is the system risk state read once per gate evaluation. All
// fields are point-in-time consistent; the gate never queries live state.
type Snapshot struct {
	Status           string              // model.StatusNormal / Elevated / Emergency
	VaR95            decimal.Decimal
	VaR95Limit       decimal.Decimal
	MonteCarloVaR99  decimal.Decimal
	VaR99Limit       decimal.Decimal
	ActiveBreaches   []model.LimitBreach
	StressViolations []string // names of violated scenarios
	CorrelationRisk  float64  // portfolio diversification ratio proxy
	CorrelationLimit float64
	TakenAt          time.Time
}

// SnapshotFunc produces the risk snapshot for one evaluation. An error
// here is an infrastructure failure and triggers the tier's
// fail-open/fail-closed policy.
type SnapshotFunc func(ctx context.Context, tier Tier) (Snapshot, error)

// Options carries per-request gate inputs.
type Options struct {
	Exempt            bool // configuration-driven role bypass
	OverrideRequested bool
	AllowOverride     bool // the operation explicitly permits override
}

// Gate evaluates tiered risk checks against injected snapshots.
type Gate struct {
	snapshot SnapshotFunc
}

// New creates a gate over a snapshot provider.
func New(snapshot SnapshotFunc) *Gate {
	return &Gate{snapshot: snapshot}
}

// Evaluate runs the tier's cumulative checks and produces an immutable
// check result.
func (g *Gate) Evaluate(ctx context.Context, tier Tier, opts Options) model.RiskCheckResult {
	result := model.RiskCheckResult{
		ID:        uuid.New().String(),
		Tier:      string(tier),
		CheckedAt: time.Now().UTC(),
	}

	// Exempt roles bypass checking entirely, including the snapshot read.
	if opts.Exempt {
		result.Approved = true
		return result
	}

	snap, err := g.snapshot(ctx, tier)
	if err != nil {
		if tier.failsClosed() {
			result.Approved = false
			result.Violations = []string{fmt.Sprintf("risk state unavailable: %v", err)}
			slog.Error("risk gate failing closed", "tier", tier, "err", err)
			return result
		}
		result.Approved = true
		slog.Warn("risk gate failing open", "tier", tier, "err", err)
		return result
	}

	result.VaRReference = snap.VaR95
	result.Violations = g.violations(tier, snap)
	result.RiskScore = score(snap)
	result.Approved = len(result.Violations) == 0

	if !result.Approved && opts.OverrideRequested && opts.AllowOverride {
		// Proceed under override; violations stay attached for audit.
		result.Approved = true
		result.OverrideUsed = true
		slog.Warn("risk gate override used",
			"check_id", result.ID,
			"tier", tier,
			"violations", result.Violations,
			"risk_score", result.RiskScore,
		)
	}
	return result
}

// violations runs the cumulative checks for a tier against a snapshot.
func (g *Gate) violations(tier Tier, snap Snapshot) []string {
	var out []string
	r := tier.rank()

	// Basic: only the system-wide emergency brake.
	if snap.Status == model.StatusEmergency {
		out = append(out, "system risk status is Emergency")
	}

	if r >= TierStandard.rank() {
		if snap.VaR95Limit.IsPositive() && snap.VaR95.GreaterThan(snap.VaR95Limit) {
			out = append(out, fmt.Sprintf("VaR95 %s exceeds limit %s", snap.VaR95, snap.VaR95Limit))
		}
		for _, b := range snap.ActiveBreaches {
			if b.Severity == model.SeverityCritical {
				out = append(out, fmt.Sprintf("critical %s limit breach: current %s vs limit %s",
					b.LimitType, b.Current, b.Threshold))
			}
		}
	}

	if r >= TierEnhanced.rank() {
		for _, name := range snap.StressViolations {
			out = append(out, fmt.Sprintf("stress scenario violation: %s", name))
		}
	}

	if r >= TierCritical.rank() {
		if snap.VaR99Limit.IsPositive() && snap.MonteCarloVaR99.GreaterThan(snap.VaR99Limit) {
			out = append(out, fmt.Sprintf("Monte Carlo VaR99 %s exceeds limit %s",
				snap.MonteCarloVaR99, snap.VaR99Limit))
		}
		if snap.CorrelationLimit > 0 && snap.CorrelationRisk > snap.CorrelationLimit {
			out = append(out, fmt.Sprintf("correlation risk %.2f exceeds threshold %.2f",
				snap.CorrelationRisk, snap.CorrelationLimit))
		}
	}
	return out
}

// score maps a snapshot to a 0–100 risk score. Zero exposure, zero
// volatility, and Normal status score exactly 0.
func score(snap Snapshot) float64 {
	var s float64

	switch snap.Status {
	case model.StatusElevated:
		s += 20
	case model.StatusEmergency:
		s += 40
	}

	if snap.VaR95Limit.IsPositive() {
		ratio := snap.VaR95.InexactFloat64() / snap.VaR95Limit.InexactFloat64()
		if ratio > 1 {
			ratio = 1
		}
		if ratio > 0 {
			s += 30 * ratio
		}
	}

	for _, b := range snap.ActiveBreaches {
		if b.Severity == model.SeverityCritical {
			s += 10
		} else {
			s += 5
		}
	}
	s += 5 * float64(len(snap.StressViolations))

	if s > 100 {
		s = 100
	}
	return s
}
