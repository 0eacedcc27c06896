package testutil

import (
	"sync"
	"time"
)

// FakeClock is a manually driven wall clock for tests.
//
// After never blocks: it advances the clock by d and returns a channel that
// has already fired. This lets a canary run with 30-second phases complete
// instantly while still observing the correct timestamps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock by d and returns an already-fired channel.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// BlockingClock is a fake clock whose After never fires. Used to prove that
// context cancellation short-circuits a wait.
type BlockingClock struct {
	FakeClock
}

// NewBlockingClock creates a BlockingClock frozen at start.
func NewBlockingClock(start time.Time) *BlockingClock {
	return &BlockingClock{FakeClock: FakeClock{now: start}}
}

// After returns a channel that never delivers.
func (c *BlockingClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}
