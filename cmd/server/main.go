package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/oiltrade/risk-engine/internal/gate"
	"github.com/oiltrade/risk-engine/internal/metrics"
	"github.com/oiltrade/risk-engine/internal/risk"
	"github.com/oiltrade/risk-engine/internal/store"
	"github.com/oiltrade/risk-engine/internal/varcalc"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Risk configuration ---
	cfg := risk.DefaultConfig()
	cfg.VaR95Limit = envDecimal("RISK_VAR95_LIMIT", cfg.VaR95Limit)
	cfg.VaR99Limit = envDecimal("RISK_VAR99_LIMIT", cfg.VaR99Limit)
	cfg.TotalExposureLimit = envDecimal("RISK_TOTAL_EXPOSURE_LIMIT", cfg.TotalExposureLimit)
	cfg.StressThreshold = envDecimal("RISK_STRESS_THRESHOLD", cfg.StressThreshold)
	cfg.Simulations = envInt("RISK_MC_SIMULATIONS", cfg.Simulations)
	cfg.LookbackDays = envInt("RISK_LOOKBACK_DAYS", cfg.LookbackDays)
	if method := os.Getenv("RISK_VAR_METHOD"); method != "" {
		cfg.Method = varcalc.Method(method)
	}
	if roles := os.Getenv("RISK_EXEMPT_ROLES"); roles != "" {
		cfg.ExemptRoles = make(map[string]bool)
		for _, role := range strings.Split(roles, ",") {
			if role = strings.TrimSpace(role); role != "" {
				cfg.ExemptRoles[role] = true
			}
		}
	}

	// --- Alert hub ---
	alertHub := risk.NewAlertHub()
	go alertHub.Run()

	// --- Risk service and gate ---
	riskSvc := risk.NewService(st, cfg, alertHub)
	riskGate := riskSvc.Gate()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Risk-Role, X-Risk-Override")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"risk-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time risk alerts.
		r.Get("/ws", alertHub.HandleWS)

		r.Route("/risk", func(r chi.Router) {
			// Risk calculation and monitoring.
			r.Get("/portfolio", riskSvc.GetPortfolioRisk)
			r.Get("/returns", riskSvc.GetReturns)
			r.Get("/limits", riskSvc.CheckLimits)
			r.Get("/backtest", riskSvc.RunBacktest)
			r.Post("/gate", riskSvc.EvaluateGate)
			r.Post("/snapshot", riskSvc.SaveSnapshot)
			r.Put("/status", riskSvc.SetStatus)

			// Trade group lifecycle. Mutations pass through the risk
			// gate; reads do not.
			r.Get("/groups", riskSvc.ListGroups)
			r.Get("/groups/{groupID}", riskSvc.GetGroup)
			r.Get("/groups/{groupID}/metrics", riskSvc.GetGroupRisk)

			r.Group(func(r chi.Router) {
				r.Use(riskGate.Middleware(gate.TierStandard, false, riskSvc.ExemptRoles()))
				r.Post("/groups", riskSvc.CreateGroup)
				r.Post("/groups/{groupID}/positions", riskSvc.AssignMember)
				r.Delete("/groups/{groupID}/positions/{positionID}", riskSvc.RemoveMember)
			})
			r.Group(func(r chi.Router) {
				r.Use(riskGate.Middleware(gate.TierEnhanced, true, riskSvc.ExemptRoles()))
				r.Post("/groups/{groupID}/close", riskSvc.CloseGroup)
			})
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("risk-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down risk-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("risk-engine stopped")
}

func envDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		slog.Warn("invalid decimal env value, using default", "key", key, "value", raw)
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer env value, using default", "key", key, "value", raw)
		return fallback
	}
	return n
}
