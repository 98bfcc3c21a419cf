package verdict

import (
	"time"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

// Verdict is the final, self-contained outcome of one scan.
type Verdict struct {
	ScanID      string           `json:"scanId,omitempty"`
	Kind        artifact.Kind    `json:"kind"`
	Identifier  string           `json:"identifier,omitempty"`
	IsMalicious bool             `json:"isMalicious"`
	Confidence  float64          `json:"confidence"`
	Bucket      Bucket           `json:"confidenceBucket,omitempty"`
	ThreatType  *string          `json:"threatType"`
	Degraded    bool             `json:"degraded"`
	Explanation string           `json:"explanation"`
	Results     detector.Results `json:"perSourceResults"`

	Contributing int       `json:"contributing"`
	Attempted    int       `json:"attempted"`
	ScannedAt    time.Time `json:"scannedAt,omitempty"`
	DurationMS   int64     `json:"durationMs"`
}

// Generate builds the verdict for one dispatch round. It is deterministic: the same
// results in any order produce the same verdict.
func Generate(kind artifact.Kind, results detector.Results) Verdict {
	ordered := results.Sorted()
	valid := ordered.Valid()

	v := Verdict{
		Kind:         kind,
		Results:      ordered,
		Contributing: len(valid),
		Attempted:    ordered.Attempted(),
		Degraded:     ordered.Degraded(),
	}

	if len(valid) == 0 {
		v.Degraded = true
		v.Confidence = 0
		v.IsMalicious = false
		v.ThreatType = nil
		v.Explanation = FailureMessage
		return v
	}

	v.Confidence = Score(ordered)
	v.IsMalicious = v.Confidence > MaliciousThreshold
	v.ThreatType = Classify(ordered, v.Confidence)
	if v.IsMalicious {
		v.Bucket = BucketFor(v.Confidence)
	}
	v.Explanation = Explain(v)
	return v
}

// Inconclusive reports whether no detector produced a usable signal. Callers must treat
// such a verdict as unknown, never as safe.
func (v Verdict) Inconclusive() bool {
	return v.Contributing == 0
}

// ThreatTypeOr returns the threat type or fallback when none was assigned.
func (v Verdict) ThreatTypeOr(fallback string) string {
	if v.ThreatType == nil {
		return fallback
	}
	return *v.ThreatType
}
