package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/safeguard/internal/model"
)

func TestClaimRecord_FirstWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := createTestRecord(t, "order-42", testNow, time.Minute)

	claimed, err := s.ClaimRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimRecord(ctx, rec)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim of the same key must lose")
}

func TestClaimRecord_ConcurrentSingleWinner(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	const callers = 16
	rec := createTestRecord(t, "race-key", testNow, time.Minute)
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimRecord(ctx, rec)
			if err != nil {
				t.Errorf("ClaimRecord() failed: %v", err)
				return
			}
			if claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestClaimRecord_RejectsNonPending(t *testing.T) {
	s := createTestStore(t)
	rec := createTestRecord(t, "k", testNow, time.Minute)
	rec.Status = model.StatusCompleted

	_, err := s.ClaimRecord(context.Background(), rec)
	assert.Error(t, err)
}

func TestGetRecord_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := createTestRecord(t, "order-1", testNow, 30*time.Second)

	_, err := s.ClaimRecord(ctx, rec)
	require.NoError(t, err)

	got, err := s.GetRecord(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", got.Key)
	assert.Equal(t, "place_order", got.OperationName)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, "hash-order-1", got.PayloadHash)
	assert.True(t, got.CreatedAt.Equal(testNow))
	assert.True(t, got.ExpiresAt.Equal(testNow.Add(30*time.Second)))
	assert.True(t, got.CompletedAt.IsZero())
}

func TestGetRecord_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinalizeRecord_Completed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := createTestRecord(t, "k", testNow, time.Minute)
	_, err := s.ClaimRecord(ctx, rec)
	require.NoError(t, err)

	done := testNow.Add(500 * time.Millisecond)
	err = s.FinalizeRecord(ctx, "k", rec.CreatedAt, model.StatusCompleted, []byte(`{"ok":true}`), "", done)
	require.NoError(t, err)

	got, err := s.GetRecord(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
	assert.True(t, got.CompletedAt.Equal(done))
}

func TestFinalizeRecord_IsMonotonic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := createTestRecord(t, "k", testNow, time.Minute)
	_, err := s.ClaimRecord(ctx, rec)
	require.NoError(t, err)

	require.NoError(t, s.FinalizeRecord(ctx, "k", rec.CreatedAt, model.StatusFailed, nil, "boom", testNow))

	err = s.FinalizeRecord(ctx, "k", rec.CreatedAt, model.StatusCompleted, []byte(`{}`), "", testNow)
	assert.ErrorIs(t, err, ErrNotPending, "a failed record must never become completed")

	got, err := s.GetRecord(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
}

func TestFinalizeRecord_StaleClaim(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := createTestRecord(t, "k", testNow, time.Minute)
	_, err := s.ClaimRecord(ctx, rec)
	require.NoError(t, err)

	err = s.FinalizeRecord(ctx, "k", testNow.Add(time.Nanosecond), model.StatusCompleted, nil, "", testNow)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestFinalizeRecord_InvalidTarget(t *testing.T) {
	s := createTestStore(t)
	err := s.FinalizeRecord(context.Background(), "k", testNow, model.StatusPending, nil, "", testNow)
	assert.Error(t, err)
}

func TestDeleteExpiredRecord(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := createTestRecord(t, "k", testNow, time.Minute)
	_, err := s.ClaimRecord(ctx, rec)
	require.NoError(t, err)

	deleted, err := s.DeleteExpiredRecord(ctx, "k", testNow.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, deleted, "live record must not be deleted")

	deleted, err = s.DeleteExpiredRecord(ctx, "k", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.GetRecord(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReapRecords(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// expired pending
	expired := createTestRecord(t, "expired", testNow.Add(-2*time.Hour), time.Hour)
	// completed long ago but TTL still in the future
	old := createTestRecord(t, "old-completed", testNow.Add(-2*time.Hour), 48*time.Hour)
	// recently completed
	fresh := createTestRecord(t, "fresh-completed", testNow.Add(-time.Minute), 48*time.Hour)
	// live pending
	live := createTestRecord(t, "live", testNow, time.Hour)

	for _, rec := range []model.IdempotencyRecord{expired, old, fresh, live} {
		_, err := s.ClaimRecord(ctx, rec)
		require.NoError(t, err)
	}
	require.NoError(t, s.FinalizeRecord(ctx, "old-completed", old.CreatedAt, model.StatusCompleted, nil, "", testNow.Add(-2*time.Hour)))
	require.NoError(t, s.FinalizeRecord(ctx, "fresh-completed", fresh.CreatedAt, model.StatusCompleted, nil, "", testNow.Add(-time.Minute)))

	n, err := s.ReapRecords(ctx, testNow, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for key, wantPresent := range map[string]bool{
		"expired":         false,
		"old-completed":   false,
		"fresh-completed": true,
		"live":            true,
	} {
		_, err := s.GetRecord(ctx, key)
		if wantPresent {
			assert.NoError(t, err, key)
		} else {
			assert.ErrorIs(t, err, ErrNotFound, key)
		}
	}
}
