package events

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/example/threatlens/internal/detector"
	"github.com/example/threatlens/internal/verdict"
)

// Event types written by the CLI.
const (
	TypeScanStart       = "scan-start"
	TypeDetectorResult  = "detector-result"
	TypeVerdict         = "verdict"
	TypeArtifactWritten = "artifact-written"
	TypeScanFinished    = "scan-finished"
	TypeReport          = "report"
	TypeError           = "error"
)

// Event represents a single NDJSON record.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	ScanID    string                 `json:"scanId,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emitter writes NDJSON events to an io.Writer safely across goroutines.
type Emitter struct {
	writer io.Writer
	mu     sync.Mutex
	now    func() time.Time
}

// NewEmitter returns a new NDJSON emitter.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{writer: w, now: time.Now}
}

// Emit serializes the event to JSON and appends a newline.
func (e *Emitter) Emit(evt Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now().UTC()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.writer.Write(append(payload, '\n')); err != nil {
		return err
	}

	return nil
}

// DetectorResult emits one detector outcome as it lands. Raw payloads stay out of the
// event stream; they are kept in the written verdict.
func (e *Emitter) DetectorResult(scanID string, res detector.Result) error {
	fields := map[string]interface{}{
		"detector":   res.Source,
		"tier":       res.Tier.String(),
		"status":     string(res.Status),
		"durationMs": res.DurationMS,
	}
	if res.Signal != nil {
		fields["confidence"] = res.Signal.Confidence
		if res.Signal.IsThreat != nil {
			fields["isThreat"] = *res.Signal.IsThreat
		}
		if len(res.Signal.Categories) > 0 {
			fields["categories"] = res.Signal.Categories
		}
	}
	if res.Error != "" {
		fields["detail"] = res.Error
	}
	return e.Emit(Event{Type: TypeDetectorResult, ScanID: scanID, Fields: fields})
}

// Verdict emits the summary of a finished scan.
func (e *Emitter) Verdict(v verdict.Verdict) error {
	fields := map[string]interface{}{
		"isMalicious":  v.IsMalicious,
		"confidence":   v.Confidence,
		"degraded":     v.Degraded,
		"contributing": v.Contributing,
		"attempted":    v.Attempted,
	}
	if v.ThreatType != nil {
		fields["threatType"] = *v.ThreatType
	}
	return e.Emit(Event{Type: TypeVerdict, ScanID: v.ScanID, Message: v.Explanation, Fields: fields})
}
