package risk_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/oiltrade/risk-engine/internal/gate"
	"github.com/oiltrade/risk-engine/internal/model"
	"github.com/oiltrade/risk-engine/internal/risk"
	"github.com/oiltrade/risk-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*risk.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := risk.NewService(ms, risk.DefaultConfig(), nil)

	r := chi.NewRouter()
	r.Route("/api/v1/risk", func(r chi.Router) {
		r.Get("/portfolio", svc.GetPortfolioRisk)
		r.Get("/returns", svc.GetReturns)
		r.Get("/limits", svc.CheckLimits)
		r.Get("/backtest", svc.RunBacktest)
		r.Post("/gate", svc.EvaluateGate)
		r.Post("/snapshot", svc.SaveSnapshot)
		r.Put("/status", svc.SetStatus)
		r.Post("/groups", svc.CreateGroup)
		r.Get("/groups", svc.ListGroups)
		r.Get("/groups/{groupID}", svc.GetGroup)
		r.Get("/groups/{groupID}/metrics", svc.GetGroupRisk)
		r.Post("/groups/{groupID}/positions", svc.AssignMember)
		r.Delete("/groups/{groupID}/positions/{positionID}", svc.RemoveMember)
		r.Post("/groups/{groupID}/close", svc.CloseGroup)
	})
	return svc, ms, r
}

func seedBook(t *testing.T, ms *store.MemoryStore) {
	t.Helper()
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var points []model.PricePoint
	price := 80.0
	for i := 0; i < 60; i++ {
		if i%2 == 0 {
			price *= 1.01
		} else {
			price *= 0.99
		}
		points = append(points, model.PricePoint{
			Product: "BRENT", Date: day.AddDate(0, 0, i), Price: d(price),
		})
	}
	ms.SeedPrices(points...)
	ms.SeedPositions(model.Position{
		ID: "p1", Product: "BRENT", Direction: model.DirectionLong,
		Quantity: d(10), LotSize: d(1000), CurrentPrice: d(80),
		Status: model.PositionOpen,
	})
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Portfolio risk ---

func TestGetPortfolioRisk(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedBook(t, ms)

	w := doJSON(t, router, "GET", "/api/v1/risk/portfolio?as_of=2025-03-15&days=60", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp risk.PortfolioRiskResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Total.GrossExposure.Equal(d(800_000)) {
		t.Errorf("expected gross 800000, got %s", resp.Total.GrossExposure)
	}
	if resp.Total.VaR95.IsZero() {
		t.Error("expected nonzero VaR for a volatile long book")
	}
	if resp.Total.VaR99.LessThan(resp.Total.VaR95) {
		t.Errorf("VaR99 (%s) must be >= VaR95 (%s)", resp.Total.VaR99, resp.Total.VaR95)
	}
}

func TestGetPortfolioRisk_WithStress(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedBook(t, ms)

	w := doJSON(t, router, "GET", "/api/v1/risk/portfolio?as_of=2025-03-15&stress=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp risk.PortfolioRiskResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if len(resp.StressTests) != 4 {
		t.Errorf("expected the 4 default stress scenarios, got %d", len(resp.StressTests))
	}
}

func TestGetPortfolioRisk_BadDate(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/risk/portfolio?as_of=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed date, got %d", w.Code)
	}
}

// --- Returns ---

func TestGetReturns(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedBook(t, ms)

	w := doJSON(t, router, "GET", "/api/v1/risk/returns?products=BRENT,JET&as_of=2025-03-15", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Series   map[string][]float64 `json:"series"`
		Warnings []string             `json:"warnings"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	if len(resp.Series["BRENT"]) == 0 {
		t.Error("expected a BRENT return series")
	}
	if len(resp.Warnings) != 1 {
		t.Errorf("expected one warning for JET, got %v", resp.Warnings)
	}
}

func TestGetReturns_MissingProducts(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/risk/returns", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without products, got %d", w.Code)
	}
}

// --- Limits ---

func TestCheckLimits_CleanBook(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedBook(t, ms)

	w := doJSON(t, router, "GET", "/api/v1/risk/limits", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		HasBreaches bool `json:"has_breaches"`
		Breaches    []struct {
			LimitType string `json:"limit_type"`
			Severity  string `json:"severity"`
		} `json:"breaches"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	// A single-product book breaches the concentration limit (H=1) but
	// nothing else with a default-sized book.
	for _, b := range resp.Breaches {
		if b.LimitType != model.LimitConcentration {
			t.Errorf("unexpected breach %s at %s", b.LimitType, b.Severity)
		}
	}
}

// --- Gate ---

func TestEvaluateGate_Approved(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedBook(t, ms)

	w := doJSON(t, router, "POST", "/api/v1/risk/gate", risk.GateRequest{Tier: "Basic"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result model.RiskCheckResult
	json.Unmarshal(w.Body.Bytes(), &result)

	if !result.Approved {
		t.Errorf("Basic tier under Normal status must approve: %v", result.Violations)
	}
}

func TestEvaluateGate_EmergencyBlocks(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedBook(t, ms)

	w := doJSON(t, router, "PUT", "/api/v1/risk/status", risk.StatusRequest{Status: model.StatusEmergency})
	if w.Code != http.StatusOK {
		t.Fatalf("status change failed: %d", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/v1/risk/gate", risk.GateRequest{Tier: "Basic"})
	var result model.RiskCheckResult
	json.Unmarshal(w.Body.Bytes(), &result)

	if result.Approved {
		t.Error("Emergency status must block the gate")
	}
}

func TestEvaluateGate_ExemptRole(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedBook(t, ms)

	doJSON(t, router, "PUT", "/api/v1/risk/status", risk.StatusRequest{Status: model.StatusEmergency})

	w := doJSON(t, router, "POST", "/api/v1/risk/gate", risk.GateRequest{
		Tier: "Critical",
		Role: "risk-admin",
	})
	var result model.RiskCheckResult
	json.Unmarshal(w.Body.Bytes(), &result)

	if !result.Approved {
		t.Errorf("exempt role must bypass the gate: %v", result.Violations)
	}
}

func TestEvaluateGate_Override(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedBook(t, ms)

	doJSON(t, router, "PUT", "/api/v1/risk/status", risk.StatusRequest{Status: model.StatusEmergency})

	w := doJSON(t, router, "POST", "/api/v1/risk/gate", risk.GateRequest{
		Tier:          "Standard",
		Override:      true,
		AllowOverride: true,
	})
	var result model.RiskCheckResult
	json.Unmarshal(w.Body.Bytes(), &result)

	if !result.Approved || !result.OverrideUsed {
		t.Errorf("permitted override must approve with override recorded: %+v", result)
	}
	if len(result.Violations) == 0 {
		t.Error("override keeps violations attached for audit")
	}
}

// --- Status ---

func TestSetStatus_Invalid(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "PUT", "/api/v1/risk/status", risk.StatusRequest{Status: "Panic"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown status, got %d", w.Code)
	}
}

// --- Snapshots and backtest ---

func TestSnapshotAndBacktest(t *testing.T) {
	_, _, router := newTestEnv(t)

	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		pnl := 50.0
		if i < 5 {
			pnl = -120 // 5% breach rate at the 95% level
		}
		w := doJSON(t, router, "POST", "/api/v1/risk/snapshot", risk.SnapshotRequest{
			Date:        day.AddDate(0, 0, i).Format("2006-01-02"),
			VaR95:       d(100),
			VaR99:       d(150),
			RealizedPnL: d(pnl),
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("snapshot save failed: %d: %s", w.Code, w.Body.String())
		}
	}

	w := doJSON(t, router, "GET", "/api/v1/risk/backtest?start=2025-01-01&end=2025-04-30", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result struct {
		Days  int `json:"days"`
		VaR95 struct {
			Breaches       int  `json:"breaches"`
			WellCalibrated bool `json:"well_calibrated"`
		} `json:"var95"`
		Passed bool `json:"passed"`
	}
	json.Unmarshal(w.Body.Bytes(), &result)

	if result.Days != 100 {
		t.Errorf("expected 100 observations, got %d", result.Days)
	}
	if result.VaR95.Breaches != 5 {
		t.Errorf("expected 5 VaR95 breaches, got %d", result.VaR95.Breaches)
	}
	if !result.VaR95.WellCalibrated {
		t.Error("a 5% breach rate is perfectly calibrated at the 95% level")
	}
}

func TestSaveSnapshot_InvertedVaRRejected(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/risk/snapshot", risk.SnapshotRequest{
		Date: "2025-01-01", VaR95: d(200), VaR99: d(100),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("var99 < var95 must be rejected, got %d", w.Code)
	}
}

// --- Trade group lifecycle ---

func createGroup(t *testing.T, router chi.Router) string {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/risk/groups", risk.CreateGroupRequest{
		Name: "feb-crack", Strategy: "CrackSpread",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create group failed: %d: %s", w.Code, w.Body.String())
	}
	var g model.TradeGroup
	json.Unmarshal(w.Body.Bytes(), &g)
	return g.ID
}

func TestGroupLifecycle(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedBook(t, ms)

	groupID := createGroup(t, router)

	// Assign the seeded position.
	w := doJSON(t, router, "POST", "/api/v1/risk/groups/"+groupID+"/positions",
		risk.AssignMemberRequest{PositionID: "p1"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("assign failed: %d: %s", w.Code, w.Body.String())
	}

	// Group metrics now cover the member.
	w = doJSON(t, router, "GET", "/api/v1/risk/groups/"+groupID+"/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("group metrics failed: %d: %s", w.Code, w.Body.String())
	}
	var m model.RiskMetrics
	json.Unmarshal(w.Body.Bytes(), &m)
	if !m.GrossExposure.Equal(d(800_000)) {
		t.Errorf("expected group gross 800000, got %s", m.GrossExposure)
	}

	// Remove and close.
	w = doJSON(t, router, "DELETE", "/api/v1/risk/groups/"+groupID+"/positions/p1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("remove failed: %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, "POST", "/api/v1/risk/groups/"+groupID+"/close", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("close failed: %d: %s", w.Code, w.Body.String())
	}

	// Assignment to a closed group conflicts.
	w = doJSON(t, router, "POST", "/api/v1/risk/groups/"+groupID+"/positions",
		risk.AssignMemberRequest{PositionID: "p1"})
	if w.Code != http.StatusConflict {
		t.Errorf("assigning into a closed group must 409, got %d", w.Code)
	}
}

func TestAssignMember_DoubleGrouping(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedBook(t, ms)

	g1 := createGroup(t, router)
	g2 := createGroup(t, router)

	doJSON(t, router, "POST", "/api/v1/risk/groups/"+g1+"/positions",
		risk.AssignMemberRequest{PositionID: "p1"})
	w := doJSON(t, router, "POST", "/api/v1/risk/groups/"+g2+"/positions",
		risk.AssignMemberRequest{PositionID: "p1"})

	if w.Code != http.StatusConflict {
		t.Errorf("a position can belong to at most one group, got %d", w.Code)
	}
}

func TestGetGroup_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/risk/groups/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCreateGroup_MissingFields(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/risk/groups", risk.CreateGroupRequest{Name: "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a strategy, got %d", w.Code)
	}
}

// --- Gate middleware wiring (as composed in main) ---

func TestGateMiddleware_BlocksGroupCreationUnderEmergency(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := risk.NewService(ms, risk.DefaultConfig(), nil)
	seedBook(t, ms)
	g := svc.Gate()

	r := chi.NewRouter()
	r.Put("/api/v1/risk/status", svc.SetStatus)
	r.Group(func(r chi.Router) {
		r.Use(g.Middleware(gate.TierStandard, false, svc.ExemptRoles()))
		r.Post("/api/v1/risk/groups", svc.CreateGroup)
	})

	doJSON(t, r, "PUT", "/api/v1/risk/status", risk.StatusRequest{Status: model.StatusEmergency})

	w := doJSON(t, r, "POST", "/api/v1/risk/groups", risk.CreateGroupRequest{
		Name: "feb-crack", Strategy: "CrackSpread",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("gated mutation under Emergency must 403, got %d", w.Code)
	}

	// Exempt role passes despite the Emergency.
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(risk.CreateGroupRequest{Name: "feb-crack", Strategy: "CrackSpread"})
	req := httptest.NewRequest("POST", "/api/v1/risk/groups", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(gate.HeaderRole, "risk-admin")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Errorf("exempt role must bypass the gate, got %d: %s", rec.Code, rec.Body.String())
	}
}
