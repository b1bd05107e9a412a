package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/oiltrade/risk-engine/internal/model"
)

// Request headers read by the middleware.
const (
	// HeaderRole carries the caller's role, matched against the
	// configured exempt allow-list.
	HeaderRole = "X-Risk-Role"

	// HeaderOverride requests an override of a failed check. Only honored
	// on routes wired with AllowOverride.
	HeaderOverride = "X-Risk-Override"
)

type ctxKey struct{}

// ResultFromContext returns the check result the middleware attached for
// downstream auditing, if any.
func ResultFromContext(ctx context.Context) (model.RiskCheckResult, bool) {
	result, ok := ctx.Value(ctxKey{}).(model.RiskCheckResult)
	return result, ok
}

// Middleware wraps a handler with a pre-action gate check at the given
// tier and a best-effort post-action check. exemptRoles is the
// configuration-driven bypass list.
//
// On denial the request is blocked with 403 and a structured violation
// payload. On override the request proceeds with the violations attached
// to the request context. The post-check runs after a successful (2xx)
// response and only logs — it never rolls back the committed operation.
func (g *Gate) Middleware(tier Tier, allowOverride bool, exemptRoles map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			opts := Options{
				Exempt:            exemptRoles[r.Header.Get(HeaderRole)],
				OverrideRequested: r.Header.Get(HeaderOverride) != "",
				AllowOverride:     allowOverride,
			}

			result := g.Evaluate(r.Context(), tier, opts)
			if !result.Approved {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(result)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKey{}, result)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			// Post-action check: monitoring only, never transactional.
			if rec.status >= 200 && rec.status < 300 {
				post := g.Evaluate(r.Context(), TierBasic, Options{})
				if !post.Approved || post.RiskScore > 0 {
					slog.Warn("post-action risk check flagged",
						"check_id", result.ID,
						"tier", tier,
						"post_score", post.RiskScore,
						"post_violations", post.Violations,
					)
				}
			}
		})
	}
}

// statusRecorder captures the response status for the post-check.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
