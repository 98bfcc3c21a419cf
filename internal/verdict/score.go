// Package verdict reduces a dispatch round's results into one classified, explained verdict.
// Everything here is a pure function of the result collection.
package verdict

import (
	"math"

	"github.com/example/threatlens/internal/detector"
)

// MaliciousThreshold is the aggregate confidence above which a verdict is malicious.
const MaliciousThreshold = 0.5

// Score is the arithmetic mean of every valid signal's contribution, where a signal
// that calls the artifact safe contributes 1 - confidence. Zero valid results score 0.
// Non-ok results are ignored.
func Score(results detector.Results) float64 {
	valid := results.Valid()
	if len(valid) == 0 {
		return 0
	}

	// Summing in registry order keeps the float result bit-identical for any arrival order.
	sum := 0.0
	for _, r := range valid {
		sum += clamp(r.Signal.Contribution())
	}
	return clamp(sum / float64(len(valid)))
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
