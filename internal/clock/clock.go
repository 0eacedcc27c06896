// Package clock abstracts wall-clock time so that TTLs, daily rollovers and
// canary phase waits can be driven deterministically in tests.
package clock

import "time"

// Clock is the source of wall time used by the ledger, risk gate and canary
// controller.
//
// Implemented by Real (production) and testutil.FakeClock (tests).
type Clock interface {
	// Now returns the current wall time.
	Now() time.Time

	// After returns a channel that delivers once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Real is the system clock.
//
// Thread-safety: Real is stateless and safe for concurrent use.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// After delegates to time.After.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Date truncates t to midnight of its calendar day in loc.
func Date(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
