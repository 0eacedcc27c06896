package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncGateDecision(t *testing.T) {
	before := testutil.ToFloat64(gateDecisions.WithLabelValues("reject", "CircuitOpen"))
	IncGateDecision("reject", "CircuitOpen")
	after := testutil.ToFloat64(gateDecisions.WithLabelValues("reject", "CircuitOpen"))
	assert.Equal(t, before+1, after)
}

func TestSetBreakerOpen(t *testing.T) {
	SetBreakerOpen(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerOpen))
	SetBreakerOpen(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerOpen))
}

func TestSetStreamState_FlipsSeries(t *testing.T) {
	all := []string{"disconnected", "connected"}
	SetStreamState("connected", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(streamState.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(streamState.WithLabelValues("disconnected")))
}
