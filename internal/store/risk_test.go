package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/safeguard/internal/model"
)

func TestRiskSnapshot_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.LoadRiskSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRiskSnapshot_SaveLoad(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	snap := model.RiskSnapshot{
		DailyLoss:       decimal.RequireFromString("55.25"),
		LastReset:       time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		BreakerOpen:     true,
		BreakerReason:   "daily loss limit reached",
		BreakerOpenedAt: testNow,
		UpdatedAt:       testNow,
	}
	require.NoError(t, s.SaveRiskSnapshot(ctx, snap))

	got, err := s.LoadRiskSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.DailyLoss.Equal(got.DailyLoss))
	assert.True(t, snap.LastReset.Equal(got.LastReset))
	assert.True(t, got.BreakerOpen)
	assert.Equal(t, snap.BreakerReason, got.BreakerReason)
	assert.True(t, snap.BreakerOpenedAt.Equal(got.BreakerOpenedAt))
}

func TestRiskSnapshot_Upserts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := model.RiskSnapshot{DailyLoss: decimal.NewFromInt(10), LastReset: testNow, UpdatedAt: testNow}
	second := model.RiskSnapshot{DailyLoss: decimal.Zero, LastReset: testNow.AddDate(0, 0, 1), UpdatedAt: testNow}
	require.NoError(t, s.SaveRiskSnapshot(ctx, first))
	require.NoError(t, s.SaveRiskSnapshot(ctx, second))

	got, err := s.LoadRiskSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, got.DailyLoss.IsZero())
	assert.False(t, got.BreakerOpen)
	assert.True(t, got.BreakerOpenedAt.IsZero())

	var rows int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM risk_state").Scan(&rows))
	assert.Equal(t, 1, rows)
}
