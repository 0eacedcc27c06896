package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/safeguard/internal/apperr"
	"github.com/roach88/safeguard/internal/audit"
	"github.com/roach88/safeguard/internal/clock"
	"github.com/roach88/safeguard/internal/metrics"
	"github.com/roach88/safeguard/internal/model"
)

const (
	// maxClaimAttempts bounds the claim/read loop when a record vanishes or
	// expires between the insert and the read.
	maxClaimAttempts = 3

	// FailedRetryAfter is the hint returned to duplicates of a failed key.
	FailedRetryAfter = 2 * time.Second

	// MinPendingRetryAfter is the floor of the hint returned to duplicates
	// of an in-flight key.
	MinPendingRetryAfter = 2 * time.Second

	// ClaimRaceRetryAfter is the hint carried by ErrClaimRace.
	ClaimRaceRetryAfter = 1 * time.Second
)

// ErrClaimRace is returned when the claim could not be resolved within the
// retry bound. The accompanying *apperr.Error carries ClaimRaceRetryAfter.
var ErrClaimRace = errors.New("ledger: claim race not resolved")

// OutcomeStatus tells the caller how Execute resolved the key.
type OutcomeStatus string

const (
	// Executed means this caller won the claim and ran the operation.
	Executed OutcomeStatus = "executed"

	// DuplicateCompleted means the cached result was replayed.
	DuplicateCompleted OutcomeStatus = "duplicate_completed"

	// DuplicatePending means another caller is still running the operation.
	DuplicatePending OutcomeStatus = "duplicate_pending"

	// DuplicateFailed means an earlier run failed; its reason is replayed.
	DuplicateFailed OutcomeStatus = "duplicate_failed"
)

// Replayed reports whether the outcome replays a finished earlier execution.
func (s OutcomeStatus) Replayed() bool { return s == DuplicateCompleted || s == DuplicateFailed }

// Outcome is the result of Execute.
type Outcome struct {
	Status     OutcomeStatus
	Result     []byte
	Error      string
	RetryAfter time.Duration
}

// Operation is the guarded side effect. The returned bytes are cached and
// replayed to duplicate callers.
type Operation func(ctx context.Context) ([]byte, error)

// Ledger guarantees at-most-once execution per key.
//
// Thread-safety: Ledger holds no mutable state of its own; all
// synchronization is the backend's conditional write.
type Ledger struct {
	backend         Backend
	recorder        *audit.Recorder
	clock           clock.Clock
	logger          *slog.Logger
	defaultTTL      time.Duration
	opTimeout       time.Duration
	finalizeTimeout time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRecorder sets the audit recorder. A nil recorder disables auditing.
func WithRecorder(r *audit.Recorder) Option { return func(l *Ledger) { l.recorder = r } }

// WithClock sets the clock used for record timestamps and expiry.
func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option { return func(l *Ledger) { l.logger = lg } }

// WithDefaultTTL sets the TTL used when Execute is called with ttl <= 0.
func WithDefaultTTL(d time.Duration) Option { return func(l *Ledger) { l.defaultTTL = d } }

// WithOperationTimeout bounds each operation run. Zero disables the bound.
func WithOperationTimeout(d time.Duration) Option { return func(l *Ledger) { l.opTimeout = d } }

// New creates a ledger on backend.
// Default: 24h TTL, 30s operation timeout.
func New(backend Backend, opts ...Option) *Ledger {
	l := &Ledger{
		backend:         backend,
		clock:           clock.Real{},
		logger:          slog.Default(),
		defaultTTL:      24 * time.Hour,
		opTimeout:       30 * time.Second,
		finalizeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	return l
}

// Execute runs fn at most once for key. A ttl shorter than the operation
// timeout plus finalize time is raised to it, so a pending record cannot
// expire while its winner may still be running.
//
// The winner receives Outcome{Status: Executed} together with fn's own error,
// unmodified. Duplicates never see that error: a completed key replays its
// result with a nil error, while pending and failed keys return an
// *apperr.Error (DUPLICATE_IN_FLIGHT or OPERATION_FAILURE) carrying the
// retry hint. Reusing key for a different operation or payload is a
// VALIDATION error.
func (l *Ledger) Execute(ctx context.Context, key, operation string, payload any, ttl time.Duration, fn Operation) (Outcome, error) {
	if key == "" {
		return Outcome{}, apperr.Validation("idempotency key is required")
	}
	if operation == "" {
		return Outcome{}, apperr.Validation("operation name is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	ttl = max(ttl, l.minTTL())
	hash, err := model.PayloadHash(payload)
	if err != nil {
		return Outcome{}, &apperr.Error{Code: apperr.CodeValidation, Message: "payload is not hashable", Err: err}
	}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		now := l.clock.Now()
		rec, err := model.NewPendingRecord(key, operation, hash, now, ttl)
		if err != nil {
			return Outcome{}, &apperr.Error{Code: apperr.CodeValidation, Message: err.Error(), Err: err}
		}

		claimed, err := l.backend.Claim(ctx, rec)
		if err != nil {
			return Outcome{}, fmt.Errorf("ledger: claim %s: %w", key, err)
		}
		if claimed {
			return l.run(ctx, rec, fn)
		}

		existing, err := l.backend.Get(ctx, key)
		if errors.Is(err, ErrRecordNotFound) {
			l.logger.Debug("claimed key vanished before read", "key", key, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("ledger: read %s: %w", key, err)
		}
		if existing.Expired(now) {
			if _, err := l.backend.DeleteExpired(ctx, key, now); err != nil {
				return Outcome{}, fmt.Errorf("ledger: expire %s: %w", key, err)
			}
			continue
		}
		return l.duplicate(ctx, existing, rec, now)
	}

	metrics.IncLedgerOutcome(operation, "claim_race")
	l.record(ctx, key, operation, "claim_race", false, map[string]string{"attempts": fmt.Sprint(maxClaimAttempts)})
	return Outcome{RetryAfter: ClaimRaceRetryAfter}, &apperr.Error{
		Code:       apperr.CodeDuplicateInFlight,
		Message:    fmt.Sprintf("could not claim key %q after %d attempts", key, maxClaimAttempts),
		RetryAfter: ClaimRaceRetryAfter,
		Err:        ErrClaimRace,
	}
}

// minTTL is the shortest TTL that outlives a bounded run. Zero when runs
// are unbounded.
func (l *Ledger) minTTL() time.Duration {
	if l.opTimeout <= 0 {
		return 0
	}
	return l.opTimeout + l.finalizeTimeout
}

// ExecuteJSON is Execute for operations producing a JSON-encodable value.
// Replayed results are decoded into T.
func ExecuteJSON[T any](ctx context.Context, l *Ledger, key, operation string, payload any, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, Outcome, error) {
	var zero T
	out, err := l.Execute(ctx, key, operation, payload, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil || len(out.Result) == 0 {
		return zero, out, err
	}
	var v T
	if err := json.Unmarshal(out.Result, &v); err != nil {
		return zero, out, fmt.Errorf("ledger: decode result for %s: %w", key, err)
	}
	return v, out, nil
}

func (l *Ledger) run(ctx context.Context, rec model.IdempotencyRecord, fn Operation) (out Outcome, err error) {
	l.record(ctx, rec.Key, rec.OperationName, "claimed", true, nil)

	opCtx := ctx
	if l.opTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, l.opTimeout)
		defer cancel()
	}

	finalized := false
	defer func() {
		if finalized {
			return
		}
		p := recover()
		reason := "operation aborted"
		if p != nil {
			reason = fmt.Sprintf("panic: %v", p)
		}
		l.finalize(ctx, rec, model.StatusFailed, nil, reason)
		if p != nil {
			panic(p)
		}
	}()

	result, opErr := fn(opCtx)
	l.logger.Info("operation executed", "key", rec.Key, "operation", rec.OperationName, "ok", opErr == nil)

	if opErr != nil {
		reason := opErr.Error()
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			reason = fmt.Sprintf("%s: %s", apperr.CodeTimeout, reason)
		}
		l.finalize(ctx, rec, model.StatusFailed, nil, reason)
		finalized = true
		return Outcome{Status: Executed, Error: reason}, opErr
	}

	l.finalize(ctx, rec, model.StatusCompleted, result, "")
	finalized = true
	return Outcome{Status: Executed, Result: result}, nil
}

// finalize writes the terminal status even if the caller's context is done.
func (l *Ledger) finalize(ctx context.Context, rec model.IdempotencyRecord, status model.Status, result []byte, reason string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.finalizeTimeout)
	defer cancel()

	err := l.backend.Finalize(fctx, rec.Key, rec.CreatedAt, status, result, reason, l.clock.Now())
	switch {
	case errors.Is(err, ErrNotPending):
		l.logger.Warn("claim lost before finalize", "key", rec.Key, "operation", rec.OperationName, "status", status)
	case err != nil:
		l.logger.Error("finalize failed", "key", rec.Key, "operation", rec.OperationName, "status", status, "error", err)
	}

	metrics.IncLedgerOutcome(rec.OperationName, string(status))
	detail := map[string]string{"status": string(status)}
	if reason != "" {
		detail["reason"] = reason
	}
	l.recordAction(ctx, "ledger.finalize", rec.Key, rec.OperationName, string(status), err == nil && status == model.StatusCompleted, detail)
}

func (l *Ledger) duplicate(ctx context.Context, existing, attempted model.IdempotencyRecord, now time.Time) (Outcome, error) {
	if existing.OperationName != attempted.OperationName || existing.PayloadHash != attempted.PayloadHash {
		l.record(ctx, attempted.Key, attempted.OperationName, "payload_mismatch", false, nil)
		return Outcome{}, &apperr.Error{
			Code:    apperr.CodeValidation,
			Message: fmt.Sprintf("idempotency key %q was already used with a different request", attempted.Key),
			Status:  422,
		}
	}

	switch existing.Status {
	case model.StatusCompleted:
		metrics.IncLedgerOutcome(existing.OperationName, string(DuplicateCompleted))
		l.record(ctx, existing.Key, existing.OperationName, string(DuplicateCompleted), true, nil)
		return Outcome{Status: DuplicateCompleted, Result: existing.Result}, nil

	case model.StatusFailed:
		metrics.IncLedgerOutcome(existing.OperationName, string(DuplicateFailed))
		l.record(ctx, existing.Key, existing.OperationName, string(DuplicateFailed), false, nil)
		return Outcome{Status: DuplicateFailed, Error: existing.Error, RetryAfter: FailedRetryAfter}, &apperr.Error{
			Code:       apperr.CodeOperationFailure,
			Message:    existing.Error,
			RetryAfter: FailedRetryAfter,
		}

	default:
		retry := max(MinPendingRetryAfter, existing.ExpiresAt.Sub(now))
		metrics.IncLedgerOutcome(existing.OperationName, string(DuplicatePending))
		l.record(ctx, existing.Key, existing.OperationName, string(DuplicatePending), false, nil)
		return Outcome{Status: DuplicatePending, RetryAfter: retry}, &apperr.Error{
			Code:       apperr.CodeDuplicateInFlight,
			Message:    fmt.Sprintf("operation for key %q is still in flight", existing.Key),
			RetryAfter: retry,
		}
	}
}

func (l *Ledger) record(ctx context.Context, key, operation, decision string, success bool, detail map[string]string) {
	l.recordAction(ctx, "ledger.claim", key, operation, decision, success, detail)
}

func (l *Ledger) recordAction(ctx context.Context, action, key, operation, decision string, success bool, detail map[string]string) {
	if detail == nil {
		detail = map[string]string{}
	}
	detail["operation"] = operation
	l.recorder.Record(ctx, model.AuditEntry{
		Component: "ledger",
		Action:    action,
		SubjectID: key,
		Decision:  decision,
		DiffHash:  model.DiffHashOrEmpty(map[string]string{"key": key, "operation": operation, "decision": decision}),
		Success:   success,
		Detail:    detail,
	})
}
