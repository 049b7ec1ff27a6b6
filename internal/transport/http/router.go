// Package httptransport assembles the HTTP surface: shared middleware, the
// operator-only API under /api/v1, and the unauthenticated health and metrics
// endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"chronicle/internal/platform/metrics"
	"chronicle/pkg/platform/httputil"
	"chronicle/pkg/platform/middleware/admin"
	"chronicle/pkg/platform/middleware/request"
	"chronicle/pkg/platform/middleware/requesttime"
)

const APIPrefix = "/api/v1"

// Routes is implemented by every domain handler.
type Routes interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	AdminToken     string
	RequestTimeout time.Duration
	HealthChecks   map[string]HealthCheck
}

// NewRouter wires the middleware chain and mounts routes under APIPrefix
// behind the admin token.
func NewRouter(cfg Config, logger *slog.Logger, m *metrics.Metrics, routes ...Routes) http.Handler {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(logger))
	r.Use(observe(m))

	r.Get("/health", health(cfg.HealthChecks))
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route(APIPrefix, func(api chi.Router) {
		api.Use(chimiddleware.Timeout(timeout))
		api.Use(requesttime.Middleware)
		api.Use(admin.RequireAdminToken(cfg.AdminToken, logger))
		for _, routes := range routes {
			routes.Register(api)
		}
	})
	return r
}

// observe records request counts and latency by route pattern, so ids in the
// path do not explode label cardinality.
func observe(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(route, r.Method, status, time.Since(start))
		})
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
