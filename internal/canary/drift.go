package canary

import (
	"fmt"
	"math"
	"sort"
)

// psiEpsilon replaces empty buckets so the log term stays finite.
const psiEpsilon = 1e-4

// PSI returns the population stability index between two bucketed
// distributions of the same shape. Inputs are normalized to sum to one.
func PSI(reference, current []float64) (float64, error) {
	if len(reference) == 0 || len(reference) != len(current) {
		return 0, fmt.Errorf("psi: bucket count mismatch (%d vs %d)", len(reference), len(current))
	}
	ref, err := normalize(reference)
	if err != nil {
		return 0, fmt.Errorf("psi: reference: %w", err)
	}
	cur, err := normalize(current)
	if err != nil {
		return 0, fmt.Errorf("psi: current: %w", err)
	}

	var psi float64
	for i := range ref {
		r := math.Max(ref[i], psiEpsilon)
		c := math.Max(cur[i], psiEpsilon)
		psi += (c - r) * math.Log(c/r)
	}
	return psi, nil
}

// AverageDrift averages PSI over the features present in both maps.
func AverageDrift(reference, current map[string][]float64) (float64, error) {
	features := make([]string, 0, len(reference))
	for name := range reference {
		if _, ok := current[name]; ok {
			features = append(features, name)
		}
	}
	if len(features) == 0 {
		return 0, fmt.Errorf("drift: no common features")
	}
	sort.Strings(features)

	var sum float64
	for _, name := range features {
		psi, err := PSI(reference[name], current[name])
		if err != nil {
			return 0, fmt.Errorf("drift: feature %q: %w", name, err)
		}
		sum += psi
	}
	return sum / float64(len(features)), nil
}

func normalize(xs []float64) ([]float64, error) {
	var total float64
	for _, x := range xs {
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("invalid bucket value %g", x)
		}
		total += x
	}
	if total == 0 {
		return nil, fmt.Errorf("empty distribution")
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x / total
	}
	return out, nil
}
