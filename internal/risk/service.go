// Package risk provides the HTTP handlers and orchestration for portfolio
// risk calculation, trade-group risk, limit checks, the risk gate, and
// backtesting.
//
// All monetary values use shopspring/decimal — never float64 for money.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oiltrade/risk-engine/internal/backtest"
	"github.com/oiltrade/risk-engine/internal/gate"
	"github.com/oiltrade/risk-engine/internal/limits"
	"github.com/oiltrade/risk-engine/internal/metrics"
	"github.com/oiltrade/risk-engine/internal/model"
	"github.com/oiltrade/risk-engine/internal/portfolio"
	"github.com/oiltrade/risk-engine/internal/returns"
	"github.com/oiltrade/risk-engine/internal/store"
	"github.com/oiltrade/risk-engine/internal/stress"
	"github.com/oiltrade/risk-engine/internal/varcalc"
)

const dateLayout = "2006-01-02"

// Config holds the engine's risk thresholds and knobs.
type Config struct {
	Method             varcalc.Method
	LookbackDays       int
	Simulations        int
	Seed               int64
	VaR95Limit         decimal.Decimal
	VaR99Limit         decimal.Decimal
	TotalExposureLimit decimal.Decimal
	StressThreshold    decimal.Decimal
	CorrelationLimit   float64
	ExemptRoles        map[string]bool
	Limits             []model.RiskLimit
}

// DefaultConfig returns the standing desk configuration.
func DefaultConfig() Config {
	var95Limit := decimal.NewFromInt(5_000_000)
	totalLimit := decimal.NewFromInt(100_000_000)
	return Config{
		Method:             varcalc.Historical,
		LookbackDays:       returns.DefaultLookbackDays,
		Simulations:        varcalc.DefaultSimulations,
		Seed:               varcalc.DefaultSeed,
		VaR95Limit:         var95Limit,
		VaR99Limit:         decimal.NewFromInt(8_000_000),
		TotalExposureLimit: totalLimit,
		StressThreshold:    stress.DefaultThreshold,
		CorrelationLimit:   0.95,
		ExemptRoles:        map[string]bool{"risk-admin": true},
		Limits: []model.RiskLimit{
			{Type: model.LimitTotalExposure, Category: "portfolio", Threshold: totalLimit, CriticalMultiplier: 1.2},
			{Type: model.LimitVaR, Category: "portfolio", Threshold: var95Limit, CriticalMultiplier: 1.5},
			{Type: model.LimitConcentration, Category: "portfolio", Threshold: decimal.NewFromFloat(0.6), CriticalMultiplier: 1.3},
		},
	}
}

// Service orchestrates the risk engine components over a store.
type Service struct {
	store      store.Store
	cfg        Config
	provider   *returns.Provider
	aggregator *portfolio.Aggregator
	stresser   *stress.Engine
	evaluator  *limits.Evaluator
	hub        *AlertHub // optional; nil disables alert broadcasting

	mu     sync.RWMutex
	status string // system risk status snapshot source
}

// NewService creates a risk service. Pass nil for hub if alert
// broadcasting is not needed.
func NewService(st store.Store, cfg Config, hub *AlertHub) *Service {
	if cfg.Method == "" {
		cfg.Method = varcalc.Historical
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = returns.DefaultLookbackDays
	}
	return &Service{
		store:      st,
		cfg:        cfg,
		provider:   returns.NewProvider(st),
		aggregator: portfolio.NewAggregator(cfg.Method, cfg.Simulations, cfg.Seed),
		stresser:   stress.NewEngine(cfg.StressThreshold),
		evaluator:  limits.NewEvaluator(cfg.Limits),
		hub:        hub,
		status:     model.StatusNormal,
	}
}

// Gate returns a risk gate wired to this service's snapshot builder.
func (s *Service) Gate() *gate.Gate {
	return gate.New(s.Snapshot)
}

// ExemptRoles exposes the configured gate bypass list for middleware wiring.
func (s *Service) ExemptRoles() map[string]bool {
	return s.cfg.ExemptRoles
}

// SystemStatus returns the current system risk status.
func (s *Service) SystemStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// --- Book loading ---

// book is one consistent read of positions, physicals, groups, and
// derived return series.
type book struct {
	portfolio.Book
	Groups   []model.TradeGroup
	Warnings []string
}

func (s *Service) loadBook(ctx context.Context, asOf time.Time, days int) (*book, error) {
	positions, err := s.store.ListOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	physicals, err := s.store.ListPhysicalExposures(ctx)
	if err != nil {
		return nil, fmt.Errorf("load physical exposures: %w", err)
	}
	groups, err := s.store.ListTradeGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trade groups: %w", err)
	}

	seen := make(map[string]bool)
	var products []string
	for _, p := range positions {
		if !seen[p.Product] {
			seen[p.Product] = true
			products = append(products, p.Product)
		}
	}
	for _, e := range physicals {
		if !seen[e.Product] {
			seen[e.Product] = true
			products = append(products, e.Product)
		}
	}

	rets, err := s.provider.Returns(ctx, products, asOf, days)
	if err != nil {
		return nil, fmt.Errorf("load returns: %w", err)
	}

	return &book{
		Book: portfolio.Book{
			Positions: positions,
			Physicals: physicals,
			Returns:   rets.Series,
		},
		Groups:   groups,
		Warnings: rets.Warnings,
	}, nil
}

// --- Gate snapshot ---

// Snapshot builds the injected risk state for one gate evaluation. The
// system status is read once here and never re-queried mid-decision.
func (s *Service) Snapshot(ctx context.Context, tier gate.Tier) (gate.Snapshot, error) {
	snap := gate.Snapshot{
		Status:  s.SystemStatus(),
		TakenAt: time.Now().UTC(),
	}

	// Basic needs only the status; skip the book read entirely.
	if tier == gate.TierBasic {
		return snap, nil
	}

	b, err := s.loadBook(ctx, time.Now().UTC(), s.cfg.LookbackDays)
	if err != nil {
		return gate.Snapshot{}, err
	}

	result := s.aggregator.PortfolioRisk(b.Groups, b.Book)
	snap.VaR95 = result.Total.VaR95
	snap.VaR95Limit = s.cfg.VaR95Limit

	check := s.evaluator.Evaluate(limits.Metrics{
		TotalExposure:     result.Total.GrossExposure,
		VaR95:             result.Total.VaR95,
		ExposureByProduct: result.Total.ExposureByProduct,
	})
	snap.ActiveBreaches = check.Breaches

	if tier == gate.TierEnhanced || tier == gate.TierCritical {
		for _, res := range s.stresser.Run(b.Positions, stress.DefaultScenarios()) {
			if res.Violation {
				snap.StressViolations = append(snap.StressViolations, res.Scenario)
			}
		}
	}

	if tier == gate.TierCritical {
		mc, err := s.monteCarloVaR(b)
		if err != nil {
			return gate.Snapshot{}, err
		}
		snap.MonteCarloVaR99 = mc
		snap.VaR99Limit = s.cfg.VaR99Limit
		snap.CorrelationRisk = result.Total.DiversificationRatio
		snap.CorrelationLimit = s.cfg.CorrelationLimit
	}
	return snap, nil
}

func (s *Service) monteCarloVaR(b *book) (decimal.Decimal, error) {
	mcAgg := portfolio.NewAggregator(varcalc.MonteCarlo, s.cfg.Simulations, s.cfg.Seed)
	res := mcAgg.PortfolioRisk(b.Groups, b.Book)
	metrics.RiskCalculations.WithLabelValues(string(varcalc.MonteCarlo)).Inc()
	return res.Total.VaR99, nil
}

// --- HTTP handlers ---

// PortfolioRiskResponse is the JSON body for GET /risk/portfolio.
type PortfolioRiskResponse struct {
	Total       model.RiskMetrics   `json:"total"`
	Standalone  model.RiskMetrics   `json:"standalone"`
	Groups      []model.RiskMetrics `json:"groups,omitempty"`
	StressTests []stress.Result     `json:"stress_tests,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
}

// GetPortfolioRisk handles GET /api/v1/risk/portfolio
// Query: as_of (YYYY-MM-DD, default today), days (default 252),
// stress (true to include stress scenarios).
func (s *Service) GetPortfolioRisk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	asOf, err := parseDate(r.URL.Query().Get("as_of"), time.Now().UTC())
	if err != nil {
		writeError(w, "invalid as_of date", http.StatusBadRequest)
		return
	}
	days := parseInt(r.URL.Query().Get("days"), s.cfg.LookbackDays)

	b, err := s.loadBook(r.Context(), asOf, days)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	result := s.aggregator.PortfolioRisk(b.Groups, b.Book)
	metrics.RiskCalculations.WithLabelValues(string(s.cfg.Method)).Inc()

	resp := PortfolioRiskResponse{
		Total:      result.Total,
		Standalone: result.Standalone,
		Groups:     result.Groups,
		Warnings:   b.Warnings,
	}

	if r.URL.Query().Get("stress") == "true" {
		resp.StressTests = s.stresser.Run(b.Positions, stress.DefaultScenarios())
	}

	metrics.CalculationLatency.WithLabelValues(portfolio.ScopePortfolio).
		Observe(time.Since(start).Seconds())

	slog.Info("portfolio risk computed",
		"as_of", asOf.Format(dateLayout),
		"days", days,
		"net_exposure", result.Total.NetExposure.String(),
		"gross_exposure", result.Total.GrossExposure.String(),
		"var95", result.Total.VaR95.String(),
		"var99", result.Total.VaR99.String(),
		"warnings", len(resp.Warnings)+len(result.Total.Warnings),
	)

	writeJSON(w, http.StatusOK, resp)
}

// GetGroupRisk handles GET /api/v1/risk/groups/{groupID}/metrics
func (s *Service) GetGroupRisk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	groupID := chi.URLParam(r, "groupID")

	group, err := s.store.GetTradeGroup(r.Context(), groupID)
	if err != nil {
		writeError(w, "trade group not found", http.StatusNotFound)
		return
	}

	b, err := s.loadBook(r.Context(), time.Now().UTC(), s.cfg.LookbackDays)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m := s.aggregator.GroupRisk(*group, b.Book)
	metrics.RiskCalculations.WithLabelValues(string(s.cfg.Method)).Inc()
	metrics.CalculationLatency.WithLabelValues("group").Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, m)
}

// GetReturns handles GET /api/v1/risk/returns
// Query: products (comma-separated), as_of, days.
func (s *Service) GetReturns(w http.ResponseWriter, r *http.Request) {
	productsParam := r.URL.Query().Get("products")
	if productsParam == "" {
		writeError(w, "products query parameter is required", http.StatusBadRequest)
		return
	}
	asOf, err := parseDate(r.URL.Query().Get("as_of"), time.Now().UTC())
	if err != nil {
		writeError(w, "invalid as_of date", http.StatusBadRequest)
		return
	}
	days := parseInt(r.URL.Query().Get("days"), s.cfg.LookbackDays)

	result, err := s.provider.Returns(r.Context(), splitCSV(productsParam), asOf, days)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CheckLimits handles GET /api/v1/risk/limits
func (s *Service) CheckLimits(w http.ResponseWriter, r *http.Request) {
	b, err := s.loadBook(r.Context(), time.Now().UTC(), s.cfg.LookbackDays)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	result := s.aggregator.PortfolioRisk(b.Groups, b.Book)
	check := s.evaluator.Evaluate(limits.Metrics{
		TotalExposure:     result.Total.GrossExposure,
		VaR95:             result.Total.VaR95,
		ExposureByProduct: result.Total.ExposureByProduct,
	})

	for _, breach := range check.Breaches {
		metrics.LimitBreaches.WithLabelValues(breach.Severity).Inc()
		slog.Warn("risk limit breach",
			"limit_type", breach.LimitType,
			"severity", breach.Severity,
			"current", breach.Current.String(),
			"threshold", breach.Threshold.String(),
		)
		if breach.Severity == model.SeverityCritical {
			s.alert(model.RiskAlert{
				ID:        uuid.New().String(),
				Severity:  breach.Severity,
				LimitType: breach.LimitType,
				Message: fmt.Sprintf("%s limit breached: current %s vs limit %s",
					breach.LimitType, breach.Current, breach.Threshold),
				Timestamp: time.Now().UTC(),
			})
		}
	}

	writeJSON(w, http.StatusOK, check)
}

// GateRequest is the JSON body for POST /api/v1/risk/gate.
type GateRequest struct {
	Tier     string `json:"tier"`
	Role     string `json:"role,omitempty"`
	Override bool   `json:"override,omitempty"`
	// AllowOverride mirrors the gated operation's declared policy; the
	// caller states whether the operation it fronts permits override.
	AllowOverride bool `json:"allow_override,omitempty"`
}

// EvaluateGate handles POST /api/v1/risk/gate
func (s *Service) EvaluateGate(w http.ResponseWriter, r *http.Request) {
	var req GateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tier := gate.ParseTier(req.Tier)
	result := s.Gate().Evaluate(r.Context(), tier, gate.Options{
		Exempt:            s.cfg.ExemptRoles[req.Role],
		OverrideRequested: req.Override,
		AllowOverride:     req.AllowOverride,
	})

	outcome := "approved"
	switch {
	case result.OverrideUsed:
		outcome = "override"
	case !result.Approved:
		outcome = "blocked"
	}
	metrics.GateDecisions.WithLabelValues(string(tier), outcome).Inc()

	if result.OverrideUsed {
		s.alert(model.RiskAlert{
			ID:        uuid.New().String(),
			Severity:  model.SeverityWarning,
			Message:   fmt.Sprintf("risk gate override used at tier %s (check %s)", tier, result.ID),
			Timestamp: time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// RunBacktest handles GET /api/v1/risk/backtest
// Query: start, end (YYYY-MM-DD), lookback (days, used when start is
// omitted: start = end − lookback).
func (s *Service) RunBacktest(w http.ResponseWriter, r *http.Request) {
	end, err := parseDate(r.URL.Query().Get("end"), time.Now().UTC())
	if err != nil {
		writeError(w, "invalid end date", http.StatusBadRequest)
		return
	}

	var startDate time.Time
	if raw := r.URL.Query().Get("start"); raw != "" {
		startDate, err = parseDate(raw, time.Time{})
		if err != nil {
			writeError(w, "invalid start date", http.StatusBadRequest)
			return
		}
	} else {
		lookback := parseInt(r.URL.Query().Get("lookback"), s.cfg.LookbackDays)
		startDate = end.AddDate(0, 0, -lookback)
	}

	records, err := s.store.GetDailyRisk(r.Context(), startDate, end)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	result := backtest.Run(records, startDate, end)
	slog.Info("backtest completed",
		"start", startDate.Format(dateLayout),
		"end", end.Format(dateLayout),
		"days", result.Days,
		"passed", result.Passed,
	)
	writeJSON(w, http.StatusOK, result)
}

// SnapshotRequest is the JSON body for POST /api/v1/risk/snapshot.
type SnapshotRequest struct {
	Date        string          `json:"date"` // YYYY-MM-DD
	VaR95       decimal.Decimal `json:"var95"`
	VaR99       decimal.Decimal `json:"var99"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// SaveSnapshot handles POST /api/v1/risk/snapshot — the collaborator hook
// that records one end-of-day VaR/P&L pair for backtesting.
func (s *Service) SaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeError(w, "invalid date (expected YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	if req.VaR99.LessThan(req.VaR95) {
		writeError(w, "var99 must be >= var95", http.StatusBadRequest)
		return
	}

	rec := &model.DailyRiskRecord{
		Date:        date,
		VaR95:       req.VaR95,
		VaR99:       req.VaR99,
		RealizedPnL: req.RealizedPnL,
	}
	if err := s.store.SaveDailyRisk(r.Context(), rec); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// StatusRequest is the JSON body for PUT /api/v1/risk/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// SetStatus handles PUT /api/v1/risk/status
func (s *Service) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch req.Status {
	case model.StatusNormal, model.StatusElevated, model.StatusEmergency:
	default:
		writeError(w, "status must be Normal, Elevated, or Emergency", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.status = req.Status
	s.mu.Unlock()

	slog.Info("system risk status changed", "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

// --- Trade group lifecycle handlers ---

// CreateGroupRequest is the JSON body for POST /api/v1/risk/groups.
type CreateGroupRequest struct {
	Name         string          `json:"name"`
	Strategy     string          `json:"strategy"`
	RiskLevel    string          `json:"risk_level,omitempty"`
	MaxLoss      decimal.Decimal `json:"max_loss,omitempty"`
	TargetProfit decimal.Decimal `json:"target_profit,omitempty"`
}

// CreateGroup handles POST /api/v1/risk/groups
func (s *Service) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Strategy == "" {
		writeError(w, "name and strategy are required", http.StatusBadRequest)
		return
	}

	group := &model.TradeGroup{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Strategy:     req.Strategy,
		Status:       model.GroupOpen,
		RiskLevel:    req.RiskLevel,
		MaxLoss:      req.MaxLoss,
		TargetProfit: req.TargetProfit,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateTradeGroup(r.Context(), group); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("trade group created", "id", group.ID, "name", group.Name, "strategy", group.Strategy)
	writeJSON(w, http.StatusCreated, group)
}

// ListGroups handles GET /api/v1/risk/groups
func (s *Service) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListTradeGroups(r.Context())
	if err != nil {
		writeError(w, "failed to list trade groups", http.StatusInternalServerError)
		return
	}
	if groups == nil {
		groups = []model.TradeGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

// GetGroup handles GET /api/v1/risk/groups/{groupID}
func (s *Service) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.store.GetTradeGroup(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, "trade group not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// AssignMemberRequest is the JSON body for member assignment.
type AssignMemberRequest struct {
	PositionID string `json:"position_id"`
}

// AssignMember handles POST /api/v1/risk/groups/{groupID}/positions
func (s *Service) AssignMember(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req AssignMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PositionID == "" {
		writeError(w, "position_id is required", http.StatusBadRequest)
		return
	}

	if err := s.store.AssignPositionToGroup(r.Context(), groupID, req.PositionID); err != nil {
		writeError(w, err.Error(), membershipStatus(err))
		return
	}

	slog.Info("position assigned to trade group", "group", groupID, "position", req.PositionID)
	w.WriteHeader(http.StatusNoContent)
}

// RemoveMember handles DELETE /api/v1/risk/groups/{groupID}/positions/{positionID}
func (s *Service) RemoveMember(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	positionID := chi.URLParam(r, "positionID")

	if err := s.store.RemovePositionFromGroup(r.Context(), groupID, positionID); err != nil {
		writeError(w, err.Error(), membershipStatus(err))
		return
	}

	slog.Info("position removed from trade group", "group", groupID, "position", positionID)
	w.WriteHeader(http.StatusNoContent)
}

// CloseGroup handles POST /api/v1/risk/groups/{groupID}/close
func (s *Service) CloseGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	if _, err := s.store.GetTradeGroup(r.Context(), groupID); err != nil {
		writeError(w, "trade group not found", http.StatusNotFound)
		return
	}
	if err := s.store.CloseTradeGroup(r.Context(), groupID); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("trade group closed", "group", groupID)
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (s *Service) alert(a model.RiskAlert) {
	if s.hub != nil {
		s.hub.Publish(a)
	}
}

func membershipStatus(err error) int {
	if errors.Is(err, store.ErrGroupClosed) || errors.Is(err, store.ErrPositionGrouped) {
		return http.StatusConflict
	}
	return http.StatusNotFound
}

func parseDate(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(dateLayout, raw)
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
