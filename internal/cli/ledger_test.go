package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/safeguard/internal/config"
	"github.com/roach88/safeguard/internal/model"
)

func TestLedgerReap(t *testing.T) {
	opts := testOptions(t, map[string]string{"SAFEGUARD_LEDGER_TTL": "1h"})
	cfg, err := config.Load("", opts.Getenv)
	require.NoError(t, err)

	// Seed one completed record far past retention.
	a, err := openParts(context.Background(), cfg, opts.logger(&bytes.Buffer{}), (*app).openStore, (*app).openRecorder, (*app).openLedger)
	require.NoError(t, err)
	old := time.Now().Add(-30 * 24 * time.Hour)
	rec, err := model.NewPendingRecord("old-key", "risk.action", "h", old, time.Hour)
	require.NoError(t, err)
	ok, err := a.backend.Claim(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, a.backend.Finalize(context.Background(), "old-key", rec.CreatedAt, model.StatusCompleted, []byte(`{}`), "", old))
	require.NoError(t, a.Close(context.Background()))

	opts.Format = "json"
	buf := &bytes.Buffer{}
	cmd := NewLedgerCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"reap"})
	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Reaped int64 `json:"reaped"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(1), resp.Data.Reaped)
}

func TestParseTimeBound(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseTimeBound("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseTimeBound("2h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour), got)

	got, err = parseTimeBound("2026-02-28T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), got)

	_, err = parseTimeBound("last tuesday", now)
	assert.Error(t, err)
}

func TestAuditQuery_InvalidBounds(t *testing.T) {
	cmd := NewAuditCommand(testOptions(t, nil))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"query", "--since", "soon"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
