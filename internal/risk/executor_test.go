package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/safeguard/internal/apperr"
	"github.com/roach88/safeguard/internal/testutil"
)

func TestPaperExecutor_Fills(t *testing.T) {
	clk := testutil.NewFakeClock(testNow)
	exec := PaperExecutor{Clock: clk}

	fill, err := exec.Execute(context.Background(), order("BTC-USD", "0.002", "50000"))
	require.NoError(t, err)
	assert.NotEmpty(t, fill.OrderID)
	assert.Equal(t, "100", fill.Notional.String())
	assert.True(t, fill.FilledAt.Equal(testNow))
}

func TestSubmit_ExecutesAllowedAction(t *testing.T) {
	f := newFixture(t, defaultLimits())

	res, err := f.gate.Submit(context.Background(), order("BTC-USD", "0.001", "50000"), PaperExecutor{Clock: f.clock}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, res.Fill)
	assert.True(t, res.Verdict.Allowed)
	assert.Equal(t, "BTC-USD", res.Fill.Symbol)
}

func TestSubmit_DryRunDoesNotExecute(t *testing.T) {
	f := newFixture(t, defaultLimits())
	a := order("BTC-USD", "0.001", "50000")
	a.DryRun = true

	res, err := f.gate.Submit(context.Background(), a, PaperExecutor{Clock: f.clock}, time.Second)
	require.NoError(t, err)
	assert.Nil(t, res.Fill)
}

func TestSubmit_RejectedActionNeverExecutes(t *testing.T) {
	f := newFixture(t, defaultLimits())
	exec := &countingExecutor{}

	_, err := f.gate.Submit(context.Background(), order("BTC-USD", "0.003", "50000"), exec, time.Second)
	_, ok := IsRejection(err)
	assert.True(t, ok)
	assert.Zero(t, exec.calls)
}

func TestSubmit_TimeoutIsTyped(t *testing.T) {
	f := newFixture(t, defaultLimits())
	slow := PaperExecutor{Clock: testutil.NewBlockingClock(testNow), Latency: time.Hour}

	_, err := f.gate.Submit(context.Background(), order("BTC-USD", "0.001", "50000"), slow, 10*time.Millisecond)
	assert.True(t, apperr.Is(err, apperr.CodeTimeout), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmit_ExecutorErrorIsWrapped(t *testing.T) {
	f := newFixture(t, defaultLimits())
	boom := errors.New("venue down")

	_, err := f.gate.Submit(context.Background(), order("BTC-USD", "0.001", "50000"), &countingExecutor{err: boom}, time.Second)
	assert.ErrorIs(t, err, boom)
}

type countingExecutor struct {
	calls int
	err   error
}

func (c *countingExecutor) Execute(_ context.Context, a Action) (Fill, error) {
	c.calls++
	if c.err != nil {
		return Fill{}, c.err
	}
	return Fill{OrderID: "o-1", Symbol: a.Symbol}, nil
}
