package stream

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Initial doubled per attempt, capped at
// Max, then spread by up to +/-Jitter of itself.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64

	// Rand returns a float in [0,1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultBackoff starts at 500ms and caps at 30s with 20% jitter.
var DefaultBackoff = Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(n int) time.Duration {
	initial, ceiling := b.Initial, b.Max
	if initial <= 0 {
		initial = DefaultBackoff.Initial
	}
	if ceiling < initial {
		ceiling = initial
	}
	d := float64(initial) * math.Pow(2, float64(n))
	if d > float64(ceiling) {
		d = float64(ceiling)
	}
	if b.Jitter > 0 {
		r := rand.Float64
		if b.Rand != nil {
			r = b.Rand
		}
		d += d * b.Jitter * (2*r() - 1)
	}
	return time.Duration(d)
}
