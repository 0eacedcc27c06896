package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/safeguard/internal/model"
	"github.com/roach88/safeguard/internal/testutil"
)

func TestReaper_ReapOnce(t *testing.T) {
	backend := createTestBackend(t)
	clk := testutil.NewFakeClock(testNow)
	ctx := context.Background()

	claim := func(key string, ttl time.Duration) model.IdempotencyRecord {
		rec, err := model.NewPendingRecord(key, "place_order", "", clk.Now(), ttl)
		require.NoError(t, err)
		ok, err := backend.Claim(ctx, rec)
		require.NoError(t, err)
		require.True(t, ok)
		return rec
	}

	claim("short", time.Minute)
	done := claim("done", 30*24*time.Hour)
	require.NoError(t, backend.Finalize(ctx, "done", done.CreatedAt, model.StatusCompleted, []byte("r"), "", clk.Now()))
	claim("live", 30*24*time.Hour)

	reaper := NewReaper(backend, clk, 24*time.Hour, nil)

	n, err := reaper.ReapOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(25 * time.Hour)
	n, err = reaper.ReapOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = backend.Get(ctx, "live")
	assert.NoError(t, err)
	_, err = backend.Get(ctx, "done")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	reaper := NewReaper(createTestBackend(t), nil, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- reaper.Run(ctx, 5*time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReaper_RejectsNonPositiveInterval(t *testing.T) {
	reaper := NewReaper(createTestBackend(t), nil, 0, nil)
	assert.Error(t, reaper.Run(context.Background(), 0))
}
