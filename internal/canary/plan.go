package canary

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed plan.cue
var planSchema string

// Phase is one step of a rollout.
type Phase struct {
	Split       float64 `json:"split"`
	DurationSec int     `json:"durationSec"`
}

// Duration returns the phase's wait time.
func (p Phase) Duration() time.Duration {
	return time.Duration(p.DurationSec) * time.Second
}

// Thresholds are the SLO, abort and drift bounds applied to every sample.
type Thresholds struct {
	P95MaxMs       float64 `json:"p95MaxMs"`
	P95AbortMs     float64 `json:"p95AbortMs"`
	ErrorRateMax   float64 `json:"errorRateMax"`
	ErrorRateAbort float64 `json:"errorRateAbort"`
	MatchRateMin   float64 `json:"matchRateMin"`
	MatchRateAbort float64 `json:"matchRateAbort"`
	DriftWarning   float64 `json:"driftWarning"`
	DriftCritical  float64 `json:"driftCritical"`
}

// Plan is a validated rollout plan.
type Plan struct {
	Name       string     `json:"name"`
	Phases     []Phase    `json:"phases"`
	Thresholds Thresholds `json:"thresholds"`
	MaxHolds   int        `json:"maxHolds"`
	ReportPath string     `json:"reportPath"`
}

// PlanError reports an invalid plan, with a source position when known.
type PlanError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *PlanError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadPlan reads a JSON plan from path.
func LoadPlan(path string) (Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(path, raw)
}

// ParsePlan unifies raw with the plan schema, applies defaults and checks
// the invariants the schema cannot express.
func ParsePlan(filename string, raw []byte) (Plan, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(planSchema, cue.Filename("plan.cue"))
	if err := schema.Err(); err != nil {
		return Plan{}, fmt.Errorf("compile plan schema: %w", err)
	}

	data := ctx.CompileBytes(raw, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return Plan{}, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Plan")).Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Plan{}, formatCUEError(err)
	}

	var p Plan
	if err := v.Decode(&p); err != nil {
		return Plan{}, formatCUEError(err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Validate checks cross-field invariants: splits never decrease and each
// abort bound is at least as loose as its SLO bound.
func (p Plan) Validate() error {
	if len(p.Phases) == 0 {
		return &PlanError{Field: "phases", Message: "at least one phase is required"}
	}
	for i, ph := range p.Phases {
		if ph.Split <= 0 || ph.Split > 1 {
			return &PlanError{Field: fmt.Sprintf("phases[%d].split", i), Message: fmt.Sprintf("must be in (0,1], got %g", ph.Split)}
		}
		if ph.DurationSec <= 0 {
			return &PlanError{Field: fmt.Sprintf("phases[%d].durationSec", i), Message: "must be positive"}
		}
		if i > 0 && ph.Split < p.Phases[i-1].Split {
			return &PlanError{
				Field:   fmt.Sprintf("phases[%d].split", i),
				Message: fmt.Sprintf("split %g is lower than previous phase %g", ph.Split, p.Phases[i-1].Split),
			}
		}
	}
	th := p.Thresholds
	switch {
	case th.P95AbortMs < th.P95MaxMs:
		return &PlanError{Field: "thresholds.p95AbortMs", Message: "must be >= p95MaxMs"}
	case th.ErrorRateAbort < th.ErrorRateMax:
		return &PlanError{Field: "thresholds.errorRateAbort", Message: "must be >= errorRateMax"}
	case th.MatchRateAbort > th.MatchRateMin:
		return &PlanError{Field: "thresholds.matchRateAbort", Message: "must be <= matchRateMin"}
	case th.DriftCritical < th.DriftWarning:
		return &PlanError{Field: "thresholds.driftCritical", Message: "must be >= driftWarning"}
	case p.MaxHolds < 0:
		return &PlanError{Field: "maxHolds", Message: "must not be negative"}
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &PlanError{Field: "plan", Message: first.Error(), Pos: positions[0]}
	}
	return &PlanError{Field: "plan", Message: first.Error()}
}
