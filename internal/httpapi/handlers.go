package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/safeguard/internal/apperr"
	"github.com/roach88/safeguard/internal/ledger"
	"github.com/roach88/safeguard/internal/model"
	"github.com/roach88/safeguard/internal/risk"
)

type actionRequest struct {
	Symbol   string          `json:"symbol" validate:"required,max=32"`
	Side     risk.Side       `json:"side" validate:"required,oneof=buy sell"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	DryRun   bool            `json:"dryRun"`
}

func (a actionRequest) action() risk.Action {
	return risk.Action{Symbol: a.Symbol, Side: a.Side, Quantity: a.Quantity, Price: a.Price, DryRun: a.DryRun}
}

type pnlRequest struct {
	PnL *decimal.Decimal `json:"pnl" validate:"required"`
}

type breakerView struct {
	Open           bool            `json:"open"`
	Reason         string          `json:"reason"`
	OpenedAt       *time.Time      `json:"openedAt,omitempty"`
	DailyLoss      decimal.Decimal `json:"dailyLoss"`
	DailyLossLimit decimal.Decimal `json:"dailyLossLimit"`
}

type statusResponse struct {
	Config         risk.Limits `json:"config"`
	CircuitBreaker breakerView `json:"circuitBreaker"`
	LastReset      string      `json:"lastReset"`
}

func toStatusResponse(st risk.Status) statusResponse {
	bv := breakerView{
		Open:           st.Breaker.Open,
		Reason:         st.Breaker.Reason,
		DailyLoss:      st.DailyLoss,
		DailyLossLimit: st.Limits.DailyLossLimit,
	}
	if !st.Breaker.OpenedAt.IsZero() {
		t := st.Breaker.OpenedAt.UTC()
		bv.OpenedAt = &t
	}
	return statusResponse{Config: st.Limits, CircuitBreaker: bv, LastReset: st.LastReset.Format(time.DateOnly)}
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	a := req.action()

	submit := func(ctx context.Context) (risk.Result, error) {
		return s.deps.Gate.Submit(ctx, a, s.deps.Executor, s.deps.ExecTimeout)
	}
	idempotent(s, w, r, "risk.action", req, submit)
}

func (s *Server) handleRecordPnL(w http.ResponseWriter, r *http.Request) {
	var req pnlRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	pnl := *req.PnL

	record := func(ctx context.Context) (statusResponse, error) {
		return toStatusResponse(s.deps.Gate.RecordPnL(ctx, pnl)), nil
	}
	idempotent(s, w, r, "risk.record_pnl", req, record)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, toStatusResponse(s.deps.Gate.Status()))
}

func (s *Server) handleBreakerClose(w http.ResponseWriter, r *http.Request) {
	actor := r.Header.Get(HeaderActor)
	if actor == "" {
		actor = "admin"
	}
	st := s.deps.Gate.Close(r.Context(), actor)
	s.writeJSON(w, http.StatusOK, toStatusResponse(st))
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.deps.Recorder.Query(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAdmin checks the bearer token in constant time. Without a
// configured token the admin endpoints are disabled.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AdminToken == "" {
			s.writeJSON(w, http.StatusForbidden, errorBody{Error: "FORBIDDEN", Message: "admin endpoints are disabled"})
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.deps.AdminToken)) != 1 {
			s.deps.Recorder.Record(r.Context(), model.AuditEntry{
				Component: "http",
				Action:    "admin.auth",
				SubjectID: r.URL.Path,
				Decision:  "denied",
				Success:   false,
			})
			w.Header().Set("WWW-Authenticate", `Bearer realm="safeguard"`)
			s.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "UNAUTHORIZED", Message: "invalid admin token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseAuditFilter(r *http.Request) (model.AuditFilter, error) {
	q := r.URL.Query()
	f := model.AuditFilter{Actor: q.Get("actor"), Action: q.Get("action"), Limit: 100}
	var err error
	if v := q.Get("since"); v != "" {
		if f.Since, err = time.Parse(time.RFC3339, v); err != nil {
			return f, apperr.Validation("since must be RFC3339: %v", err)
		}
	}
	if v := q.Get("until"); v != "" {
		if f.Until, err = time.Parse(time.RFC3339, v); err != nil {
			return f, apperr.Validation("until must be RFC3339: %v", err)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return f, apperr.Validation("limit must be an integer in [1,1000]")
		}
		f.Limit = n
	}
	return f, nil
}

// idempotent runs fn directly, or through the ledger when the request
// carries an Idempotency-Key. Replayed results are written byte for byte.
func idempotent[T any](s *Server, w http.ResponseWriter, r *http.Request, operation string, payload any, fn func(ctx context.Context) (T, error)) {
	ctx := r.Context()
	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" || s.deps.Ledger == nil {
		v, err := fn(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, v)
		return
	}

	_, out, err := ledger.ExecuteJSON(ctx, s.deps.Ledger, key, operation, payload, s.deps.IdempotencyTTL, fn)
	if out.Status.Replayed() {
		w.Header().Set(HeaderReplayed, "true")
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeRaw(w, http.StatusOK, append(out.Result, '\n'))
}
