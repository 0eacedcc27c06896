package canary

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/safeguard/internal/audit"
	"github.com/roach88/safeguard/internal/clock"
	"github.com/roach88/safeguard/internal/metrics"
	"github.com/roach88/safeguard/internal/model"
)

// DefaultFetchTimeout bounds each metrics, traffic and drift call.
const DefaultFetchTimeout = 10 * time.Second

// Controller drives a plan through its phases.
//
// Runs are strictly sequential: one phase at a time, one sample at a time.
// A Controller may be reused for several runs but not concurrently.
type Controller struct {
	metrics  MetricsSource
	traffic  TrafficController
	drift    DriftSource
	clock    clock.Clock
	recorder *audit.Recorder
	logger   *slog.Logger
	ids      model.IDGenerator
	timeout  time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithDriftSource sets the source consulted by the promotion guard. Without
// one the guard uses the last sampled drift score.
func WithDriftSource(d DriftSource) Option { return func(c *Controller) { c.drift = d } }

func WithClock(cl clock.Clock) Option            { return func(c *Controller) { c.clock = cl } }
func WithRecorder(r *audit.Recorder) Option      { return func(c *Controller) { c.recorder = r } }
func WithLogger(l *slog.Logger) Option           { return func(c *Controller) { c.logger = l } }
func WithIDGenerator(g model.IDGenerator) Option { return func(c *Controller) { c.ids = g } }
func WithFetchTimeout(d time.Duration) Option    { return func(c *Controller) { c.timeout = d } }

// NewController creates a controller.
func NewController(ms MetricsSource, tc TrafficController, opts ...Option) *Controller {
	c := &Controller{
		metrics: ms,
		traffic: tc,
		clock:   clock.Real{},
		logger:  slog.Default(),
		ids:     model.UUIDv7Generator{},
		timeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "canary")
	return c
}

// run is the per-invocation state.
type run struct {
	c      *Controller
	plan   Plan
	report Report
	split  float64
	drift  float64
}

// Run executes plan and returns its report. SLO failures and aborts are
// outcomes, not errors; infrastructure failures abort the run. Cancelling
// ctx aborts the run and resets the split to zero.
func (c *Controller) Run(ctx context.Context, plan Plan) Report {
	r := &run{
		c:    c,
		plan: plan,
		report: Report{
			RunID:      c.ids.Generate(),
			Plan:       plan.Name,
			StartedAt:  c.clock.Now().UTC(),
			Thresholds: plan.Thresholds,
			Phases:     []PhaseResult{},
		},
	}
	c.logger.Info("canary run started", "run_id", r.report.RunID, "plan", plan.Name, "phases", len(plan.Phases))

	outcome, reason := r.execute(ctx)

	r.report.Outcome = outcome
	r.report.Reason = reason
	r.report.FinishedAt = c.clock.Now().UTC()
	r.report.summarize(len(plan.Phases), r.split)

	c.logger.Info("canary run finished", "run_id", r.report.RunID, "outcome", outcome, "reason", reason)
	c.audit(ctx, r.report.RunID, "canary.run", string(outcome), outcome.Success(), map[string]string{
		"plan":   plan.Name,
		"reason": reason,
	})
	return r.report
}

func (r *run) execute(ctx context.Context) (Outcome, string) {
	last := len(r.plan.Phases) - 1
	for i, ph := range r.plan.Phases {
		if err := r.setSplit(ctx, ph.Split); err != nil {
			r.c.logger.Error("traffic controller failed", "phase", i, "error", err)
			r.abortSplit(ctx)
			return OutcomeAborted, ReasonTrafficUnavailable
		}

		holds := 0
		for attempt := 1; ; attempt++ {
			if err := r.wait(ctx, ph.Duration()); err != nil {
				r.c.logger.Warn("canary run cancelled", "phase", i, "attempt", attempt)
				r.abortSplit(ctx)
				return OutcomeAborted, ReasonOperatorCancelled
			}

			res := r.sample(ctx, i, attempt, ph)
			if res.Evaluation.Decision == Continue && i == last {
				if blocked, why := r.promotionBlocked(ctx); blocked {
					r.record(ctx, res)
					return OutcomePromotionBlocked, why
				}
				res.Evaluation.Decision = Promote
			}
			r.record(ctx, res)

			switch res.Evaluation.Decision {
			case Abort:
				r.abortSplit(ctx)
				return OutcomeAborted, firstReason(res.Evaluation.Reasons)
			case Promote:
				return OutcomePromoted, ""
			case Hold:
				holds++
				if holds > r.plan.MaxHolds {
					return OutcomeSLOFailed, ReasonHoldsExhausted
				}
				continue
			}
			break
		}
	}
	// Unreachable for a validated plan: the final phase always promotes,
	// blocks, aborts or fails.
	return OutcomeSLOFailed, "no terminal decision"
}

// sample fetches and evaluates one snapshot. A fetch failure is evaluated
// as an abort, attributed to the operator when ctx was cancelled meanwhile.
func (r *run) sample(ctx context.Context, index, attempt int, ph Phase) PhaseResult {
	res := PhaseResult{Index: index, Attempt: attempt, Split: ph.Split, DurationSec: ph.DurationSec}

	fctx, cancel := context.WithTimeout(ctx, r.c.timeout)
	snap, err := r.c.metrics.Sample(fctx, PhaseInfo{Index: index, Attempt: attempt, Split: ph.Split})
	cancel()
	if err == nil && snap.Reference != nil && snap.Current != nil {
		snap.DriftScore, err = AverageDrift(snap.Reference, snap.Current)
	}
	res.SampledAt = r.c.clock.Now().UTC()
	if err != nil {
		reason := ReasonMetricsUnavailable
		if ctx.Err() != nil {
			reason = ReasonOperatorCancelled
		}
		r.c.logger.Error("metrics unavailable", "phase", index, "attempt", attempt, "reason", reason, "error", err)
		res.Evaluation = Evaluation{
			Decision:    Abort,
			ShouldAbort: true,
			Reasons:     []string{reason, err.Error()},
		}
		return res
	}

	r.drift = snap.DriftScore
	res.Metrics = &snap
	res.Evaluation = Evaluate(snap, r.plan.Thresholds)
	if res.Evaluation.DriftWarning {
		r.c.logger.Warn("drift above warning", "phase", index, "drift", snap.DriftScore, "warning", r.plan.Thresholds.DriftWarning)
	}
	return res
}

// promotionBlocked re-checks drift right before promoting.
func (r *run) promotionBlocked(ctx context.Context) (bool, string) {
	drift := r.drift
	if r.c.drift != nil {
		dctx, cancel := context.WithTimeout(ctx, r.c.timeout)
		d, err := r.c.drift.LatestDrift(dctx)
		cancel()
		if err != nil {
			r.c.logger.Error("drift source failed at promotion", "error", err)
			return true, ReasonDriftUnavailable
		}
		drift = d
	}
	if drift > r.plan.Thresholds.DriftWarning {
		r.c.logger.Warn("promotion blocked by drift", "drift", drift, "warning", r.plan.Thresholds.DriftWarning)
		return true, ReasonDriftAboveWarning
	}
	return false, ""
}

func (r *run) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.c.clock.After(d):
		return nil
	}
}

func (r *run) setSplit(ctx context.Context, fraction float64) error {
	sctx, cancel := context.WithTimeout(ctx, r.c.timeout)
	defer cancel()
	if err := r.c.traffic.SetSplit(sctx, fraction); err != nil {
		return fmt.Errorf("set split %g: %w", fraction, err)
	}
	r.split = fraction
	metrics.SetCanarySplit(fraction)
	return nil
}

// abortSplit resets the split to zero even when ctx is already cancelled.
func (r *run) abortSplit(ctx context.Context) {
	if err := r.setSplit(context.WithoutCancel(ctx), 0); err != nil {
		r.c.logger.Error("failed to reset split after abort", "error", err)
	}
}

func (r *run) record(ctx context.Context, res PhaseResult) {
	r.report.Phases = append(r.report.Phases, res)
	metrics.IncCanaryDecision(string(res.Evaluation.Decision))
	r.c.logger.Info("canary phase decided",
		"run_id", r.report.RunID,
		"phase", res.Index,
		"attempt", res.Attempt,
		"split", res.Split,
		"decision", res.Evaluation.Decision,
	)
	detail := map[string]string{
		"phase":   strconv.Itoa(res.Index),
		"attempt": strconv.Itoa(res.Attempt),
		"split":   strconv.FormatFloat(res.Split, 'f', -1, 64),
	}
	if len(res.Evaluation.Reasons) > 0 {
		detail["reason"] = res.Evaluation.Reasons[0]
	}
	r.c.audit(ctx, r.report.RunID, "canary.phase", string(res.Evaluation.Decision), res.Evaluation.Decision != Abort, detail)
}

func (c *Controller) audit(ctx context.Context, runID, action, decision string, success bool, detail map[string]string) {
	c.recorder.Record(ctx, model.AuditEntry{
		Component: "canary",
		Action:    action,
		SubjectID: runID,
		Decision:  decision,
		DiffHash:  model.DiffHashOrEmpty(detail),
		Success:   success,
		Detail:    detail,
	})
}

func firstReason(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	return reasons[0]
}
