// Package httpapi exposes the risk gate, the audit trail and operational
// endpoints over HTTP.
//
// Routes:
//
//	POST /risk/action                  gate (+ execute) an action
//	GET  /risk/status                  limits, accumulator and breaker
//	POST /risk/circuit-breaker/close   admin: close the breaker
//	POST /risk/record-pnl              feed a PnL delta
//	GET  /audit                        filtered audit query
//	GET  /healthz                      liveness plus store ping
//	GET  /metrics                      Prometheus exposition
//
// The two POST endpoints that mutate state accept an Idempotency-Key header
// and then run through the idempotency ledger.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/safeguard/internal/audit"
	"github.com/roach88/safeguard/internal/ledger"
	"github.com/roach88/safeguard/internal/risk"
)

const (
	// HeaderIdempotencyKey routes a request through the ledger.
	HeaderIdempotencyKey = "Idempotency-Key"

	// HeaderReplayed marks a response replayed from an earlier execution.
	HeaderReplayed = "Idempotent-Replayed"

	// HeaderActor names the acting principal for the audit trail.
	HeaderActor = "X-Actor"

	maxBodyBytes = 1 << 20
)

// Deps are the collaborators a Server is built from. Gate is required.
type Deps struct {
	Gate           *risk.Gate
	Executor       risk.Executor
	ExecTimeout    time.Duration
	Ledger         *ledger.Ledger
	IdempotencyTTL time.Duration
	Recorder       *audit.Recorder
	AdminToken     string
	Health         func(context.Context) error
	Metrics        http.Handler
	Logger         *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	deps     Deps
	logger   *slog.Logger
	validate *validator.Validate
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		deps:     deps,
		logger:   deps.Logger.With("component", "http"),
		validate: v,
	}
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(withActor)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	r.Get("/audit", s.handleAuditQuery)

	r.Route("/risk", func(api chi.Router) {
		api.Post("/action", s.handleAction)
		api.Get("/status", s.handleStatus)
		api.Post("/record-pnl", s.handleRecordPnL)
		api.With(s.requireAdmin).Post("/circuit-breaker/close", s.handleBreakerClose)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := r.Header.Get(HeaderActor); actor != "" {
			r = r.WithContext(audit.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
