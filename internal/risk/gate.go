package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/safeguard/internal/apperr"
	"github.com/roach88/safeguard/internal/audit"
	"github.com/roach88/safeguard/internal/clock"
	"github.com/roach88/safeguard/internal/metrics"
	"github.com/roach88/safeguard/internal/model"
	"github.com/roach88/safeguard/internal/store"
)

// DefaultBreakerRetryAfter is the hint attached to CircuitOpen rejections.
const DefaultBreakerRetryAfter = 300 * time.Second

// Gate evaluates actions against a State.
type Gate struct {
	state        *State
	clock        clock.Clock
	recorder     *audit.Recorder
	logger       *slog.Logger
	persist      StateStore
	breakerRetry time.Duration
}

// Option configures a Gate.
type Option func(*Gate)

func WithClock(c clock.Clock) Option        { return func(g *Gate) { g.clock = c } }
func WithRecorder(r *audit.Recorder) Option { return func(g *Gate) { g.recorder = r } }
func WithLogger(l *slog.Logger) Option      { return func(g *Gate) { g.logger = l } }

func WithBreakerRetryAfter(d time.Duration) Option {
	return func(g *Gate) { g.breakerRetry = d }
}

// WithPersistence saves a snapshot after every state mutation.
func WithPersistence(ps StateStore) Option { return func(g *Gate) { g.persist = ps } }

// NewGate creates a gate over state.
func NewGate(state *State, opts ...Option) *Gate {
	g := &Gate{
		state:        state,
		clock:        clock.Real{},
		logger:       slog.Default(),
		breakerRetry: DefaultBreakerRetryAfter,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "risk")
	return g
}

// State returns the gate's state.
func (g *Gate) State() *State { return g.state }

// Restore loads the persisted snapshot, if any, into the state. It is a
// no-op without persistence or when nothing was saved yet.
func (g *Gate) Restore(ctx context.Context) error {
	if g.persist == nil {
		return nil
	}
	snap, err := g.persist.LoadRiskSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore risk state: %w", err)
	}
	g.state.restore(snap)
	st := g.state.Status()
	metrics.SetBreakerOpen(st.Breaker.Open)
	metrics.SetDailyLoss(st.DailyLoss.InexactFloat64())
	g.logger.Info("risk state restored",
		"daily_loss", st.DailyLoss.String(),
		"last_reset", st.LastReset.Format(time.DateOnly),
		"breaker_open", st.Breaker.Open,
	)
	return nil
}

// Evaluate runs the checks against a. It returns a Verdict when allowed and
// a *Rejection (or a validation *apperr.Error) otherwise. Dry runs are
// always allowed.
func (g *Gate) Evaluate(ctx context.Context, a Action) (Verdict, error) {
	if a.DryRun {
		g.decided(ctx, a, "allow_dry_run", "", nil)
		return Verdict{Allowed: true, DryRun: true, Notional: a.Notional()}, nil
	}
	if err := a.Validate(); err != nil {
		g.decided(ctx, a, "reject", string(apperr.CodeValidation), err)
		return Verdict{}, err
	}

	now := g.clock.Now()
	rej, tripped := g.check(a, now)
	if tripped {
		g.logger.Warn("circuit breaker opened", "reason", rej.Message)
		metrics.SetBreakerOpen(true)
		g.save(ctx, now)
	}
	if rej != nil {
		g.decided(ctx, a, "reject", string(rej.Code), rej)
		return Verdict{}, rej
	}
	g.decided(ctx, a, "allow", "", nil)
	return Verdict{Allowed: true, Notional: a.Notional()}, nil
}

// check applies the ordered checks under the state lock. tripped reports
// that this call opened the breaker.
func (g *Gate) check(a Action, now time.Time) (rej *Rejection, tripped bool) {
	s := g.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.breaker.Open {
		r := newRejection(CodeCircuitOpen, decimal.Zero, decimal.Zero,
			fmt.Sprintf("circuit breaker is open: %s", s.breaker.Reason))
		r.RetryAfter = g.breakerRetry
		return r, false
	}

	notional := a.Notional()
	if lim := s.limits.MaxNotional; lim.IsPositive() && notional.GreaterThan(lim) {
		return newRejection(CodeMaxNotionalExceeded, lim, notional,
			fmt.Sprintf("notional %s exceeds limit %s", notional, lim)), false
	}

	qty := a.Quantity.Abs()
	if lim := s.limits.PositionLimit(a.Symbol); lim.IsPositive() && qty.GreaterThan(lim) {
		return newRejection(CodeMaxPositionSizeExceeded, lim, qty,
			fmt.Sprintf("quantity %s exceeds %s position cap %s", qty, a.Symbol, lim)), false
	}

	if lim := s.limits.DailyLossLimit; lim.IsPositive() && s.dailyLoss.GreaterThanOrEqual(lim) {
		reason := fmt.Sprintf("daily loss %s reached limit %s", s.dailyLoss, lim)
		s.breaker = Breaker{Open: true, Reason: reason, OpenedAt: now}
		r := newRejection(CodeDailyLossLimitReached, lim, s.dailyLoss, reason)
		r.RetryAfter = untilNextDay(now, s.loc)
		return r, true
	}
	return nil, false
}

// RecordPnL feeds a realized PnL delta into the accumulator. Losses add
// their absolute value; gains are ignored, so the accumulator only grows
// within a day.
func (g *Gate) RecordPnL(ctx context.Context, pnl decimal.Decimal) Status {
	now := g.clock.Now()
	s := g.state
	s.mu.Lock()
	if pnl.IsNegative() {
		s.dailyLoss = s.dailyLoss.Add(pnl.Abs())
	}
	st := s.statusLocked()
	s.mu.Unlock()

	metrics.SetDailyLoss(st.DailyLoss.InexactFloat64())
	if pnl.IsNegative() {
		g.save(ctx, now)
	}
	decision := "accumulated"
	if !pnl.IsNegative() {
		decision = "ignored"
	}
	g.record(ctx, model.AuditEntry{
		Action:    "risk.record_pnl",
		SubjectID: "daily_loss",
		Decision:  decision,
		Success:   true,
		Detail:    map[string]string{"pnl": pnl.String(), "daily_loss": st.DailyLoss.String()},
	})
	return st
}

// Close closes the breaker on behalf of actor. The accumulator is left as
// is; if it is still at the limit the next action reopens the breaker.
func (g *Gate) Close(ctx context.Context, actor string) Status {
	now := g.clock.Now()
	s := g.state
	s.mu.Lock()
	wasOpen := s.breaker.Open
	prevReason := s.breaker.Reason
	s.breaker = Breaker{}
	st := s.statusLocked()
	s.mu.Unlock()

	metrics.SetBreakerOpen(false)
	g.save(ctx, now)
	g.logger.Info("circuit breaker closed", "actor", actor, "was_open", wasOpen)
	g.record(audit.WithActor(ctx, actor), model.AuditEntry{
		Action:    "risk.breaker.close",
		SubjectID: "circuit_breaker",
		Decision:  "closed",
		Success:   true,
		Detail:    map[string]string{"was_open": fmt.Sprint(wasOpen), "previous_reason": prevReason},
	})
	return st
}

// CheckDailyReset zeroes the accumulator if now falls on a later calendar
// day than the last reset. Same-day calls are no-ops. Returns whether a
// reset happened.
func (g *Gate) CheckDailyReset(ctx context.Context) bool {
	now := g.clock.Now()
	s := g.state
	s.mu.Lock()
	today := clock.Date(now, s.loc)
	if today.Equal(s.lastReset) {
		s.mu.Unlock()
		return false
	}
	prevLoss := s.dailyLoss
	prevDay := s.lastReset
	s.dailyLoss = decimal.Zero
	s.lastReset = today
	s.mu.Unlock()

	metrics.SetDailyLoss(0)
	g.save(ctx, now)
	g.logger.Info("daily loss reset", "date", today.Format(time.DateOnly), "previous_loss", prevLoss.String())
	g.record(ctx, model.AuditEntry{
		Action:    "risk.daily_reset",
		SubjectID: today.Format(time.DateOnly),
		Decision:  "reset",
		Success:   true,
		Detail:    map[string]string{"previous_day": prevDay.Format(time.DateOnly), "previous_loss": prevLoss.String()},
	})
	return true
}

// RunDailyReset checks for a day rollover every interval (capped at one
// minute) until ctx is done. The first check runs immediately.
func (g *Gate) RunDailyReset(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	g.CheckDailyReset(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.CheckDailyReset(ctx)
		}
	}
}

// Status returns the current state.
func (g *Gate) Status() Status { return g.state.Status() }

func (g *Gate) save(ctx context.Context, now time.Time) {
	if g.persist == nil {
		return
	}
	g.state.mu.Lock()
	snap := g.state.snapshotLocked(now)
	g.state.mu.Unlock()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := g.persist.SaveRiskSnapshot(sctx, snap); err != nil {
		g.logger.Warn("risk snapshot not saved", "error", err)
	}
}

func (g *Gate) decided(ctx context.Context, a Action, decision, code string, err error) {
	metrics.IncGateDecision(decision, code)
	detail := map[string]string{
		"side":     string(a.Side),
		"quantity": a.Quantity.String(),
		"price":    a.Price.String(),
	}
	if code != "" {
		detail["code"] = code
	}
	if err != nil {
		detail["message"] = err.Error()
	}
	g.record(ctx, model.AuditEntry{
		Action:    "risk.evaluate",
		SubjectID: a.Symbol,
		Decision:  decision,
		DiffHash:  model.DiffHashOrEmpty(a),
		Success:   err == nil,
		Detail:    detail,
	})
}

func (g *Gate) record(ctx context.Context, e model.AuditEntry) {
	e.Component = "risk"
	g.recorder.Record(ctx, e)
}

func untilNextDay(now time.Time, loc *time.Location) time.Duration {
	next := clock.Date(now, loc).AddDate(0, 0, 1)
	return next.Sub(now)
}
