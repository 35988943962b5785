package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/thundertext/thundertext/internal/observability/logger"
	"github.com/thundertext/thundertext/internal/store/postgres"
)

const dbCheckTimeout = 3 * time.Second

// DBChecker reports database reachability and pool usage
type DBChecker interface {
	Ping(ctx context.Context) error
	Stat() postgres.PoolStats
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	db          DBChecker
	samples     *ContentSampleHandler
	metrics     http.Handler
	serviceName string
}

// NewHandler creates a new HTTP handler.
// A nil gw or a nil metrics handler leaves the tenant API or /metrics unmounted.
func NewHandler(db DBChecker, gw TenantQuerier, metrics http.Handler, serviceName string) *Handler {
	h := &Handler{
		db:          db,
		metrics:     metrics,
		serviceName: serviceName,
	}
	if gw != nil {
		h.samples = NewContentSampleHandler(gw)
	}
	return h
}

// RouterOptions toggles the optional parts of the router. The zero value
// serves only the operational endpoints and keys rate limits on the peer address.
type RouterOptions struct {
	// EnableTenantAPI mounts /api/v1. The shop ID in its paths is taken as
	// the tenant without any authentication, so it is off unless set.
	EnableTenantAPI bool

	// TrustProxyHeaders rewrites RemoteAddr from X-Forwarded-For or
	// X-Real-IP before rate limiting. Set it only behind a proxy that
	// overwrites those headers.
	TrustProxyHeaders bool
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)
	r.Get("/health/db", h.DBHealthCheck)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	// Tenant-scoped API; the shop in the path is the tenant
	if opts.EnableTenantAPI && h.samples != nil {
		r.Route("/api/v1", h.samples.Routes)
	}

	return r
}

// HealthCheck returns the liveness status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": h.serviceName,
	})
}

type poolStatus struct {
	Initialized   bool  `json:"initialized"`
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
	TotalConns    int32 `json:"total_conns"`
	MaxConns      int32 `json:"max_conns"`
	AcquireCount  int64 `json:"acquire_count"`
}

type dbHealthResponse struct {
	Status string     `json:"status"`
	Reason string     `json:"reason,omitempty"`
	Pool   poolStatus `json:"pool"`
}

// DBHealthCheck pings the database through the shared pool.
// The first call initializes the pool.
func (h *Handler) DBHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), dbCheckTimeout)
	defer cancel()

	resp := dbHealthResponse{Status: "healthy"}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		resp.Status = "unhealthy"
		resp.Reason = "unavailable"
		if errors.Is(err, postgres.ErrConfiguration) {
			resp.Reason = "configuration_error"
		}
		slog.WarnContext(r.Context(), "database_health_check_failed",
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Error(err),
		)
	}

	s := h.db.Stat()
	resp.Pool = poolStatus{
		Initialized:   s.Initialized,
		AcquiredConns: s.AcquiredConns,
		IdleConns:     s.IdleConns,
		TotalConns:    s.TotalConns,
		MaxConns:      s.MaxConns,
		AcquireCount:  s.AcquireCount,
	}

	respondJSON(w, status, resp)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
