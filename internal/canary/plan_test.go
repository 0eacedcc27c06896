package canary

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPlan_AppliesDefaults(t *testing.T) {
	p, err := LoadPlan(filepath.Join("testdata", "scenario4.json"))
	require.NoError(t, err)

	assert.Equal(t, "scenario-4", p.Name)
	require.Len(t, p.Phases, 2)
	assert.Equal(t, Phase{Split: 0.05, DurationSec: 30}, p.Phases[0])
	assert.Equal(t, 80.0, p.Thresholds.P95MaxMs)
	assert.Equal(t, 120.0, p.Thresholds.P95AbortMs)
	assert.Equal(t, 0.95, p.Thresholds.MatchRateMin)
	assert.Equal(t, 0.9, p.Thresholds.MatchRateAbort)
	assert.Equal(t, 2, p.MaxHolds)
	assert.Equal(t, "artifacts/canary-report.json", p.ReportPath)
}

func TestParsePlan_OverridesThresholds(t *testing.T) {
	p, err := ParsePlan("plan.json", []byte(`{
		"phases": [{"split": 1, "durationSec": 5}],
		"thresholds": {"p95MaxMs": 40, "p95AbortMs": 60},
		"maxHolds": 0
	}`))
	require.NoError(t, err)
	assert.Equal(t, "canary", p.Name)
	assert.Equal(t, 40.0, p.Thresholds.P95MaxMs)
	assert.Equal(t, 0.01, p.Thresholds.ErrorRateMax)
	assert.Equal(t, 0, p.MaxHolds)
}

func TestParsePlan_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no phases", `{"phases": []}`},
		{"split above one", `{"phases": [{"split": 1.5, "durationSec": 5}]}`},
		{"zero split", `{"phases": [{"split": 0, "durationSec": 5}]}`},
		{"fractional duration", `{"phases": [{"split": 0.1, "durationSec": 2.5}]}`},
		{"unknown field", `{"phases": [{"split": 0.1, "durationSec": 5}], "bogus": true}`},
		{"decreasing split", `{"phases": [{"split": 0.2, "durationSec": 5}, {"split": 0.1, "durationSec": 5}]}`},
		{"abort tighter than slo", `{"phases": [{"split": 0.1, "durationSec": 5}], "thresholds": {"p95MaxMs": 100, "p95AbortMs": 50}}`},
		{"not json", `{phases`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan("plan.json", []byte(tt.raw))
			require.Error(t, err)
			var pe *PlanError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestLoadPlan_MissingFile(t *testing.T) {
	_, err := LoadPlan(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
