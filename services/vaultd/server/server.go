package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/text/unicode/norm"

	nativecommon "yieldvault/native/common"
	"yieldvault/native/vault"
	"yieldvault/observability/metrics"
	"yieldvault/services/vaultd/idempotency"
	"yieldvault/services/vaultd/storage"
)

// AuditReader lists persisted vault events.
type AuditReader interface {
	Recent(ctx context.Context, q storage.Query) ([]storage.Record, error)
}

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress     string
	// TrustProxyHeaders honours X-Real-IP and X-Forwarded-For. Enable it only
	// when vaultd sits behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

// Deps bundles the collaborators the server exposes over HTTP.
type Deps struct {
	Engine  *vault.Engine
	Audit   AuditReader
	Pauses  *nativecommon.PauseSet
	Auth    *Authenticator
	Limiter *RateLimiter
	Metrics *metrics.VaultMetrics
	Logger  *slog.Logger

	// Idempotency replays user mutations that repeat an Idempotency-Key.
	Idempotency *idempotency.Store
}

// Server hosts the vault JSON API.
type Server struct {
	cfg     Config
	engine  *vault.Engine
	audit   AuditReader
	pauses  *nativecommon.PauseSet
	auth    *Authenticator
	limiter *RateLimiter
	metrics *metrics.VaultMetrics
	logger  *slog.Logger
	replay  *idempotency.Store
	router  chi.Router
}

// New constructs a new HTTP server.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("vault engine required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if deps.Pauses == nil {
		deps.Pauses = nativecommon.NewPauseSet()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		engine:  deps.Engine,
		audit:   deps.Audit,
		pauses:  deps.Pauses,
		auth:    deps.Auth,
		limiter: deps.Limiter,
		metrics: deps.Metrics,
		logger:  deps.Logger.With("component", "http"),
		replay:  deps.Idempotency,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)

		api.Get("/pool", s.handlePool)
		api.Get("/assets", s.handleAssets)
		api.Get("/users/{addr}", s.handleUser)

		api.Group(func(user chi.Router) {
			user.Use(s.auth.Middleware())
			user.Use(idempotency.Middleware(s.replay, principalScope, s.logger))
			user.Post("/deposit", s.handleDeposit)
			user.Post("/withdraw", s.handleWithdraw)
			user.Post("/claim", s.handleClaim)
		})

		api.Group(func(admin chi.Router) {
			admin.Use(s.auth.Middleware(ScopeAdmin))
			admin.Post("/harvest", s.handleHarvest)
			admin.Get("/events", s.handleEvents)
			admin.Post("/admin/assets", s.handleAddAsset)
			admin.Delete("/admin/assets/{asset}", s.handleRemoveAsset)
			admin.Post("/admin/fund", s.handleFund)
			admin.Post("/admin/pause", s.handlePause)
			admin.Post("/admin/unpause", s.handleUnpause)
		})
	})
	return r
}

// principalScope namespaces idempotency keys per caller. Subjects are hex
// addresses, so case and compatibility forms collapse to one scope.
func principalScope(r *http.Request) string {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		return ""
	}
	return norm.NFKC.String(strings.ToLower(strings.TrimSpace(p.Subject)))
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(s.router, "vaultd"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.ObserveHTTPRequest(route, rec.status)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := toStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "code", code, "error", err)
	}
	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}
