package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from State
		on   Event
		to   State
		ok   bool
	}{
		{Disconnected, EventDial, Connecting, true},
		{Connecting, EventConnected, Connected, true},
		{Connecting, EventDialFailed, Reconnecting, true},
		{Connected, EventLost, Reconnecting, true},
		{Reconnecting, EventRetry, Connecting, true},
		{Connected, EventStop, Disconnected, true},
		{Reconnecting, EventStop, Disconnected, true},
		{Disconnected, EventConnected, Disconnected, false},
		{Connected, EventDial, Connected, false},
		{Reconnecting, EventLost, Reconnecting, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.on.String(), func(t *testing.T) {
			to, ok := Next(tt.from, tt.on)
			assert.Equal(t, tt.to, to)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second}

	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1))
	assert.Equal(t, 800*time.Millisecond, b.Delay(3))
	assert.Equal(t, time.Second, b.Delay(4))
	assert.Equal(t, time.Second, b.Delay(60))
}

func TestBackoffJitterBounds(t *testing.T) {
	low := Backoff{Initial: time.Second, Max: time.Minute, Jitter: 0.2, Rand: func() float64 { return 0 }}
	high := low
	high.Rand = func() float64 { return 0.999999 }

	assert.Equal(t, 800*time.Millisecond, low.Delay(0))
	assert.InDelta(t, float64(1200*time.Millisecond), float64(high.Delay(0)), float64(time.Millisecond))
}
