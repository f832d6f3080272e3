// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/reportchain/internal/auth"
	"github.com/pendergraft/reportchain/internal/config"
	"github.com/pendergraft/reportchain/internal/middleware/logging"
	"github.com/pendergraft/reportchain/internal/middleware/ratelimit"
	"github.com/pendergraft/reportchain/internal/middleware/realip"
	"github.com/pendergraft/reportchain/internal/middleware/security"
	"github.com/pendergraft/reportchain/internal/observability/metrics"
	reportsTransport "github.com/pendergraft/reportchain/internal/reports/transport"
	"github.com/pendergraft/reportchain/internal/storage"
)

// ReadinessCheck is probed by /readyz. A non-nil error marks the server
// not ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Option customises a Server.
type Option func(*Server)

// WithReadinessCheck adds a dependency probe to /readyz.
func WithReadinessCheck(name string, check func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.checks = append(s.checks, ReadinessCheck{Name: name, Check: check})
	}
}

// WithSubmitLimiter applies l to the report submission routes.
func WithSubmitLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) { s.submitLimiter = l }
}

// WithTracing wraps the router so incoming requests start spans.
func WithTracing(enabled bool) Option {
	return func(s *Server) { s.tracing = enabled }
}

// WithVersion sets the version reported by /version.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger
	router *chi.Mux

	reportsSvc    reportsTransport.Service
	checks        []ReadinessCheck
	submitLimiter ratelimit.Limiter
	stopLimiter   func()
	tracing       bool
	version       string
}

// New creates a new server
func New(cfg *config.Config, store storage.Store, reports reportsTransport.Service, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		store:       store,
		logger:      logger,
		router:      chi.NewRouter(),
		reportsSvc:  reports,
		stopLimiter: func() {},
		version:     "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	if s.tracing {
		return otelHandler(s.router)
	}
	return s.router
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.stopLimiter()
}

func (s *Server) setupMiddleware() {
	// realip runs first so every later middleware sees the client address
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	s.router.Use(security.ProbeFilter(s.cfg.Security.FilterEnabled, s.logger))
	s.router.Use(security.MaxBodySizeMiddleware(s.cfg.Security.MaxBodySizeKB))

	limit, stop := ratelimit.Middleware(ratelimit.Config{
		Enabled:        s.cfg.RateLimit.Enabled,
		RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.BurstSize,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
	}, s.logger)
	s.router.Use(limit)
	s.stopLimiter = stop

	s.router.Use(middleware.RequestID)
	if s.tracing {
		s.router.Use(spanRoute)
	}
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second))
	}
	s.router.Use(middleware.Compress(5))
	s.router.Use(corsMiddleware(s.cfg.CORS.AllowedOrigins))
	s.router.Use(security.RequireJSON)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Get("/version", s.handleVersion)
	if metrics.Enabled() {
		s.router.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	reports := reportsTransport.NewHandler(s.reportsSvc)

	requireAuth := func(r chi.Router) {
		if s.cfg.Auth.Type == "api-key" {
			r.Use(auth.Middleware(s.store, reportsTransport.WriteError))
		}
	}
	limitSubmit := func(r chi.Router) {
		if s.submitLimiter != nil {
			r.Use(ratelimit.Handler(s.submitLimiter, "submit", time.Minute, s.logger))
		}
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/reports", func(r chi.Router) {
			reports.RegisterReadRoutes(r)

			r.Group(func(r chi.Router) {
				limitSubmit(r)
				reports.RegisterSubmitRoutes(r)
			})

			r.Group(func(r chi.Router) {
				requireAuth(r)
				reports.RegisterWriteRoutes(r)
			})
		})
		r.Get("/bans", reports.HandleBans)

		r.Group(func(r chi.Router) {
			requireAuth(r)
			r.Get("/auth/whoami", s.handleWhoAmI)
		})
	})

	// unversioned paths used by the existing frontend
	reports.RegisterLegacyReadRoutes(s.router)
	s.router.Group(func(r chi.Router) {
		limitSubmit(r)
		reports.RegisterLegacySubmitRoutes(r)
	})
	s.router.Group(func(r chi.Router) {
		requireAuth(r)
		reports.RegisterLegacyWriteRoutes(r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleReady probes storage and every registered dependency.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := append([]ReadinessCheck{{Name: "storage", Check: s.store.Ping}}, s.checks...)
	resp := readyResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
	var failed []error
	for _, c := range checks {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name] = err.Error()
			failed = append(failed, err)
			continue
		}
		resp.Checks[c.Name] = "ok"
	}

	if err := errors.Join(failed...); err != nil {
		s.logger.WarnContext(ctx, "readiness check failed", "error", err)
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWhoAmI lets clients check a key without side effects.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	key := auth.GetAPIKeyFromContext(r.Context())
	if key == nil {
		writeJSON(w, http.StatusOK, map[string]string{"auth": s.cfg.Auth.Type})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth": s.cfg.Auth.Type, "id": key.ID, "name": key.Name})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
