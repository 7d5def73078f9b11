package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reconcile/internal/platform/metrics"
	"reconcile/internal/platform/middleware"
	dErrors "reconcile/pkg/domain-errors"
	"reconcile/pkg/platform/httputil"
)

const serviceName = "identity-reconciliation"

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Registrar mounts a feature's routes.
type Registrar interface {
	Register(r chi.Router)
}

// Deps is everything the router wires together.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	Checks         map[string]HealthCheck
	Handlers       []Registrar
	// AllowedOrigins enables CORS for browser clients when non-empty.
	AllowedOrigins []string
}

// NewRouter wires the public endpoints behind the shared middleware chain.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "X-RateLimit-Status", "Retry-After"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(d.RequestTimeout))
	r.Use(middleware.LatencyMiddleware(d.Metrics))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	})

	r.Get("/", handleIndex)
	r.Get("/health", healthHandler(d.Checks, logger))
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	for _, h := range d.Handlers {
		h.Register(r)
	}
	return r
}

type indexResponse struct {
	Service   string   `json:"service"`
	Endpoints []string `json:"endpoints"`
}

func handleIndex(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, indexResponse{
		Service: serviceName,
		Endpoints: []string{
			"POST /identify",
			"GET /contacts/{id}",
			"GET /health",
			"GET /metrics",
		},
	})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func healthHandler(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	slices.Sort(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				logger.WarnContext(ctx, "health check failed",
					"request_id", middleware.GetRequestID(ctx),
					"check", name,
					"error", err,
				)
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
