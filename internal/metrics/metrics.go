// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RiskCalculations counts VaR computations, partitioned by method.
	RiskCalculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_calculations_total",
		Help: "Total VaR calculations by method",
	}, []string{"method"})

	// CalculationLatency tracks portfolio risk computation latency.
	CalculationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskengine_calculation_latency_seconds",
		Help:    "Risk calculation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"scope"})

	// GateDecisions counts gate evaluations by tier and outcome
	// (approved, blocked, override).
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_gate_decisions_total",
		Help: "Risk gate decisions by tier and outcome",
	}, []string{"tier", "outcome"})

	// LimitBreaches counts limit breaches by severity.
	LimitBreaches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_limit_breaches_total",
		Help: "Limit breaches detected by severity",
	}, []string{"severity"})

	// AlertClients tracks connected alert WebSocket clients.
	AlertClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskengine_alert_clients",
		Help: "Number of connected alert WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskengine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small and
		// bounded, so cardinality stays low.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
