package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/safeguard/internal/clock"
)

// DefaultRetention is how long a completed record stays replayable.
const DefaultRetention = 7 * 24 * time.Hour

// Reaper deletes expired records and completed records past retention.
// It is housekeeping only; correctness never depends on it running.
type Reaper struct {
	backend   Backend
	clock     clock.Clock
	retention time.Duration
	logger    *slog.Logger
}

// NewReaper creates a reaper. retention <= 0 selects DefaultRetention.
func NewReaper(backend Backend, c clock.Clock, retention time.Duration, logger *slog.Logger) *Reaper {
	if c == nil {
		c = clock.Real{}
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{backend: backend, clock: c, retention: retention, logger: logger.With("component", "reaper")}
}

// ReapOnce performs a single pass and returns the number of records removed.
func (r *Reaper) ReapOnce(ctx context.Context) (int64, error) {
	n, err := r.backend.Reap(ctx, r.clock.Now(), r.retention)
	if err != nil {
		return 0, fmt.Errorf("reap: %w", err)
	}
	if n > 0 {
		r.logger.Info("reaped idempotency records", "count", n)
	}
	return n, nil
}

// Run reaps every interval until ctx is done. Pass errors are logged and the
// loop continues.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reaper: interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil {
				r.logger.Warn("reap pass failed", "error", err)
			}
		}
	}
}
