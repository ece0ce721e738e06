package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pharmatrace/internal/platform/metrics"
	"pharmatrace/pkg/platform/httputil"
	"pharmatrace/pkg/platform/middleware/admin"
	request "pharmatrace/pkg/platform/middleware/request"
	"pharmatrace/pkg/platform/middleware/requesttime"
)

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Handler        *Handler
	Logger         *slog.Logger
	AdminToken     string
	RequestTimeout time.Duration
	// HealthChecks are run by /healthz, keyed by dependency name.
	HealthChecks map[string]HealthCheck
	// Metrics defaults to the prometheus default registry handler.
	Metrics http.Handler
	// HTTPMetrics records per-route request counts. Optional.
	HTTPMetrics *metrics.HTTP
	// RateLimit wraps the /v1 routes when set.
	RateLimit func(http.Handler) http.Handler
}

// NewRouter assembles the middleware chain and mounts every route.
func NewRouter(cfg RouterConfig) http.Handler {
	metricsHandler := cfg.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(cfg.Logger))
	r.Use(request.Logger(cfg.Logger))
	r.Use(requesttime.Middleware)
	r.Use(cfg.HTTPMetrics.Middleware)

	r.Get("/healthz", healthHandler(cfg.HealthChecks))
	r.Handle("/metrics", metricsHandler)

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.RequestTimeout > 0 {
			v1.Use(chimw.Timeout(cfg.RequestTimeout))
		}
		if cfg.RateLimit != nil {
			v1.Use(cfg.RateLimit)
		}
		cfg.Handler.Register(v1)
		v1.Route("/operator", func(op chi.Router) {
			op.Use(admin.RequireAdminToken(cfg.AdminToken, cfg.Logger))
			cfg.Handler.RegisterOperator(op)
		})
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
