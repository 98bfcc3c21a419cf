package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Status is the outcome of one detector for one artifact.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
	StatusSkipped Status = "skipped"
)

// Signal is a detector's normalized opinion. IsThreat is nil when the detector
// only reports a graded likelihood; Confidence is then read as likelihood of harm.
type Signal struct {
	IsThreat   *bool    `json:"isThreat"`
	Confidence float64  `json:"confidence"`
	Categories []string `json:"categories,omitempty"`
}

// Threat builds a signal for a positive detection.
func Threat(confidence float64, categories ...string) Signal {
	v := true
	return Signal{IsThreat: &v, Confidence: confidence, Categories: categories}
}

// Clean builds a signal for a negative detection with the given confidence of safety.
func Clean(confidence float64) Signal {
	v := false
	return Signal{IsThreat: &v, Confidence: confidence}
}

// Likelihood builds a signal without a binary call.
func Likelihood(confidence float64, categories ...string) Signal {
	return Signal{Confidence: confidence, Categories: categories}
}

// Flagged reports whether the signal does not explicitly call the artifact safe.
func (s Signal) Flagged() bool {
	return s.IsThreat == nil || *s.IsThreat
}

// Contribution is the signal's term in the aggregate confidence: a confident-safe
// opinion is inverted so every term measures agreement toward a malicious verdict.
func (s Signal) Contribution() float64 {
	if s.IsThreat != nil && !*s.IsThreat {
		return 1 - s.Confidence
	}
	return s.Confidence
}

// Result is the output of one adapter for one artifact. Signal is set iff Status is ok.
type Result struct {
	Source     string          `json:"sourceId"`
	Tier       Tier            `json:"tier"`
	Position   int             `json:"position"`
	Status     Status          `json:"status"`
	Signal     *Signal         `json:"signal,omitempty"`
	Raw        json.RawMessage `json:"rawPayload,omitempty"`
	Error      string          `json:"errorDetail,omitempty"`
	DurationMS int64           `json:"durationMs"`
}

// OK wraps a successful signal. raw may be nil.
func OK(source string, sig Signal, raw []byte) Result {
	return Result{Source: source, Status: StatusOK, Signal: &sig, Raw: rawJSON(raw)}
}

// Failed records a detector fault.
func Failed(source string, err error) Result {
	detail := "unknown failure"
	if err != nil {
		detail = err.Error()
	}
	return Result{Source: source, Status: StatusError, Error: detail}
}

// Failedf is Failed with a formatted message.
func Failedf(source, format string, args ...interface{}) Result {
	return Failed(source, fmt.Errorf(format, args...))
}

// TimedOut records a detector that did not finish within its bound.
func TimedOut(source string, bound time.Duration, cause error) Result {
	detail := fmt.Sprintf("timed out after %s", bound)
	if errors.Is(cause, context.Canceled) {
		detail = "scan cancelled before detector finished"
	}
	return Result{Source: source, Status: StatusTimeout, Error: detail}
}

// ScanTimedOut records a detector cut short by the scan-level deadline rather than its own bound.
func ScanTimedOut(source string, elapsed time.Duration, cause error) Result {
	detail := fmt.Sprintf("scan deadline reached after %s", elapsed.Round(time.Millisecond))
	if errors.Is(cause, context.Canceled) {
		detail = "scan cancelled before detector finished"
	}
	return Result{Source: source, Status: StatusTimeout, Error: detail}
}

// Skipped records a detector that could not attempt analysis.
func Skipped(source, note string) Result {
	return Result{Source: source, Status: StatusSkipped, Error: note}
}

// WithRaw attaches an audit payload, marshaling v to JSON. Marshal failures drop the payload.
func (r Result) WithRaw(v interface{}) Result {
	data, err := json.Marshal(v)
	if err == nil {
		r.Raw = data
	}
	return r
}

// Valid reports whether the result carries a usable signal.
func (r Result) Valid() bool {
	return r.Status == StatusOK && r.Signal != nil
}

// Normalize enforces the result invariants: a signal only on ok, confidence in [0,1],
// trimmed categories and a populated error detail on every non-ok status.
func (r Result) Normalize() Result {
	switch r.Status {
	case StatusOK:
		if r.Signal == nil {
			return Result{Source: r.Source, Tier: r.Tier, Position: r.Position, Status: StatusError,
				Raw: r.Raw, Error: "detector reported ok without a signal", DurationMS: r.DurationMS}
		}
		if math.IsNaN(r.Signal.Confidence) || math.IsInf(r.Signal.Confidence, 0) {
			return Result{Source: r.Source, Tier: r.Tier, Position: r.Position, Status: StatusError,
				Raw: r.Raw, Error: "detector reported a non-finite confidence", DurationMS: r.DurationMS}
		}
		sig := *r.Signal
		sig.Confidence = clamp01(sig.Confidence)
		sig.Categories = cleanCategories(sig.Categories)
		r.Signal = &sig
		r.Error = ""
	case StatusError, StatusTimeout, StatusSkipped:
		r.Signal = nil
		if strings.TrimSpace(r.Error) == "" {
			r.Error = string(r.Status)
		}
	default:
		r.Signal = nil
		r.Error = fmt.Sprintf("unrecognized status %q", r.Status)
		r.Status = StatusError
	}
	return r
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cleanCategories(in []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// maxRawText bounds non-JSON audit payloads kept as strings.
const maxRawText = 4096

func rawJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		if len(raw) > maxRawText {
			raw = raw[:maxRawText]
		}
		quoted, err := json.Marshal(string(raw))
		if err != nil {
			return nil
		}
		return quoted
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
