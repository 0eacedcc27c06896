package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/safeguard/internal/clock"
	"github.com/roach88/safeguard/internal/metrics"
	"github.com/roach88/safeguard/internal/model"
)

// DefaultActor is recorded when the context carries no actor.
const DefaultActor = "system"

// ErrNotQueryable is returned by Recorder.Query when the sink has no read side.
var ErrNotQueryable = errors.New("audit: sink does not support queries")

type actorKey struct{}

// WithActor attaches the acting principal to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor attached to ctx, or DefaultActor.
func ActorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return DefaultActor
}

// Recorder is the best-effort front door to a Sink.
//
// Record never blocks and never returns an error. A nil *Recorder is valid
// and discards everything, so components can treat auditing as optional.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	clock   clock.Clock
	ids     model.IDGenerator
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan model.AuditEntry // nil in synchronous mode
	wg     sync.WaitGroup
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger used when a write is dropped or fails.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithClock sets the clock used to stamp entries.
func WithClock(c clock.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// WithIDGenerator sets the entry ID generator.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(r *Recorder) { r.ids = g }
}

// WithBuffer sets the queue size. Zero makes writes synchronous (bounded by
// the write timeout), which tests use for deterministic reads.
func WithBuffer(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan model.AuditEntry, n)
		} else {
			r.queue = nil
		}
	}
}

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.timeout = d }
}

// NewRecorder creates a recorder in front of sink.
// Default: 1024-entry buffer, 2s write timeout, UUIDv7 IDs, real clock.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:    sink,
		logger:  slog.Default(),
		clock:   clock.Real{},
		ids:     model.UUIDv7Generator{},
		timeout: 2 * time.Second,
		queue:   make(chan model.AuditEntry, 1024),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "audit")

	if r.queue != nil {
		r.wg.Add(1)
		go r.drain()
	}
	return r
}

// Record stamps e (ID, timestamp, actor) and hands it to the sink.
func (r *Recorder) Record(ctx context.Context, e model.AuditEntry) {
	if r == nil {
		return
	}
	if e.ID == "" {
		e.ID = r.ids.Generate()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.clock.Now().UTC()
	}
	if e.Actor == "" {
		e.Actor = ActorFrom(ctx)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(e, "recorder closed")
		return
	}
	if r.queue == nil {
		r.write(context.WithoutCancel(ctx), e)
		return
	}
	select {
	case r.queue <- e:
	default:
		r.drop(e, "buffer full")
	}
}

// Query delegates to the sink's read side.
func (r *Recorder) Query(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	if r == nil {
		return []model.AuditEntry{}, nil
	}
	reader, ok := r.sink.(Reader)
	if !ok {
		return nil, ErrNotQueryable
	}
	return reader.Query(ctx, f)
}

// Close stops accepting entries and waits for queued ones to be written or
// for ctx to end, whichever comes first.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.queue != nil {
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for e := range r.queue {
		r.write(context.Background(), e)
	}
}

func (r *Recorder) write(ctx context.Context, e model.AuditEntry) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.sink.Append(ctx, e); err != nil {
		metrics.IncAuditWriteFailure()
		r.logger.Warn("audit write failed",
			"error", err,
			"id", e.ID,
			"action", e.Action,
			"subject", e.SubjectID,
			"decision", e.Decision,
		)
	}
}

func (r *Recorder) drop(e model.AuditEntry, reason string) {
	metrics.IncAuditDropped()
	r.logger.Warn("audit entry dropped",
		"reason", reason,
		"id", e.ID,
		"action", e.Action,
		"subject", e.SubjectID,
		"decision", e.Decision,
	)
}
