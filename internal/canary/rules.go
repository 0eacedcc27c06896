package canary

import "fmt"

// Decision is the controller's verdict on one sample.
type Decision string

const (
	Continue Decision = "continue"
	Hold     Decision = "hold"
	Abort    Decision = "abort"
	Promote  Decision = "promote"
)

// Snapshot is one metrics sample for the candidate.
//
// When Reference and Current are both set the controller derives
// DriftScore from them instead of trusting the source's value.
type Snapshot struct {
	P95LatencyMs float64              `json:"p95LatencyMs"`
	ErrorRate    float64              `json:"errorRate"`
	MatchRate    float64              `json:"matchRate"`
	DriftScore   float64              `json:"driftScore"`
	Reference    map[string][]float64 `json:"reference,omitempty"`
	Current      map[string][]float64 `json:"current,omitempty"`
}

// Evaluation is the outcome of applying Thresholds to a Snapshot.
type Evaluation struct {
	Decision     Decision `json:"decision"`
	SLOPass      bool     `json:"sloPass"`
	ShouldAbort  bool     `json:"shouldAbort"`
	DriftWarning bool     `json:"driftWarning"`
	Reasons      []string `json:"reasons,omitempty"`
}

// Evaluate applies th to s. Abort wins over everything, then a passing SLO
// continues, and anything else holds.
func Evaluate(s Snapshot, th Thresholds) Evaluation {
	var ev Evaluation

	ev.SLOPass = s.P95LatencyMs < th.P95MaxMs &&
		s.ErrorRate < th.ErrorRateMax &&
		s.MatchRate >= th.MatchRateMin

	if s.P95LatencyMs > th.P95AbortMs {
		ev.Reasons = append(ev.Reasons, fmt.Sprintf("p95 %gms > abort %gms", s.P95LatencyMs, th.P95AbortMs))
	}
	if s.ErrorRate > th.ErrorRateAbort {
		ev.Reasons = append(ev.Reasons, fmt.Sprintf("error rate %g > abort %g", s.ErrorRate, th.ErrorRateAbort))
	}
	if s.MatchRate < th.MatchRateAbort {
		ev.Reasons = append(ev.Reasons, fmt.Sprintf("match rate %g < abort %g", s.MatchRate, th.MatchRateAbort))
	}
	if s.DriftScore > th.DriftCritical {
		ev.Reasons = append(ev.Reasons, fmt.Sprintf("drift %g > critical %g", s.DriftScore, th.DriftCritical))
	}
	ev.ShouldAbort = len(ev.Reasons) > 0
	ev.DriftWarning = s.DriftScore > th.DriftWarning

	switch {
	case ev.ShouldAbort:
		ev.Decision = Abort
	case ev.SLOPass:
		ev.Decision = Continue
	default:
		ev.Decision = Hold
		ev.Reasons = append(ev.Reasons, "slo not met")
	}
	return ev
}
