package canary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Outcome is the terminal state of a run.
type Outcome string

const (
	// OutcomePromoted means every phase passed and promotion is allowed.
	OutcomePromoted Outcome = "promoted"

	// OutcomeAborted means a phase aborted (or the run was cancelled) and
	// the split was reset to zero.
	OutcomeAborted Outcome = "aborted"

	// OutcomeSLOFailed means a phase ran out of holds; the split is left as is.
	OutcomeSLOFailed Outcome = "slo_failed"

	// OutcomePromotionBlocked means the final phase passed but drift was
	// above the warning bound at promotion time.
	OutcomePromotionBlocked Outcome = "promotion_blocked"
)

// Success reports whether the outcome is promote-eligible.
func (o Outcome) Success() bool { return o == OutcomePromoted }

// Abort reasons that do not come from threshold checks.
const (
	ReasonMetricsUnavailable = "metrics_unavailable"
	ReasonTrafficUnavailable = "traffic_unavailable"
	ReasonOperatorCancelled  = "operator_cancelled"
	ReasonHoldsExhausted     = "holds_exhausted"
	ReasonDriftAboveWarning  = "drift_above_warning"
	ReasonDriftUnavailable   = "drift_unavailable"
)

// PhaseResult is one sample of one phase.
type PhaseResult struct {
	Index       int        `json:"index"`
	Attempt     int        `json:"attempt"`
	Split       float64    `json:"split"`
	DurationSec int        `json:"durationSec"`
	SampledAt   time.Time  `json:"sampledAt"`
	Metrics     *Snapshot  `json:"metrics,omitempty"`
	Evaluation  Evaluation `json:"evaluation"`
}

// Summary condenses a run.
type Summary struct {
	PhasesPlanned   int     `json:"phasesPlanned"`
	PhasesCompleted int     `json:"phasesCompleted"`
	Samples         int     `json:"samples"`
	Holds           int     `json:"holds"`
	FinalSplit      float64 `json:"finalSplit"`
	MaxDrift        float64 `json:"maxDrift"`
	MaxP95Ms        float64 `json:"maxP95Ms"`
	MaxErrorRate    float64 `json:"maxErrorRate"`
	MinMatchRate    float64 `json:"minMatchRate"`
}

// Report is the archived record of a run.
type Report struct {
	RunID      string        `json:"runId"`
	Plan       string        `json:"plan"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Outcome    Outcome       `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	Thresholds Thresholds    `json:"thresholds"`
	Phases     []PhaseResult `json:"phases"`
	Summary    Summary       `json:"summary"`
}

// summarize fills r.Summary from r.Phases.
func (r *Report) summarize(planned int, finalSplit float64) {
	s := Summary{PhasesPlanned: planned, FinalSplit: finalSplit, Samples: len(r.Phases)}
	completed := map[int]bool{}
	first := true
	for _, p := range r.Phases {
		if p.Evaluation.Decision == Hold {
			s.Holds++
		}
		if p.Evaluation.Decision == Continue || p.Evaluation.Decision == Promote {
			completed[p.Index] = true
		}
		if p.Metrics == nil {
			continue
		}
		m := p.Metrics
		if first {
			s.MinMatchRate = m.MatchRate
			first = false
		}
		s.MaxDrift = max(s.MaxDrift, m.DriftScore)
		s.MaxP95Ms = max(s.MaxP95Ms, m.P95LatencyMs)
		s.MaxErrorRate = max(s.MaxErrorRate, m.ErrorRate)
		s.MinMatchRate = min(s.MinMatchRate, m.MatchRate)
	}
	s.PhasesCompleted = len(completed)
	r.Summary = s
}

// MarshalIndent renders the report as stable, indented JSON. Reasons keep
// their literal comparison operators.
func (r Report) MarshalIndent() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteReport writes r to path, creating parent directories.
func WriteReport(path string, r Report) error {
	data, err := r.MarshalIndent()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
