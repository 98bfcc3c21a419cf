package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/threatlens/internal/detector"
	"github.com/example/threatlens/internal/verdict"
)

// sample returns the counter value or histogram sample count for the series with labels.
func sample(t *testing.T, c *Collector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue series
				}
			}
			if m.GetHistogram() != nil {
				return float64(m.GetHistogram().GetSampleCount())
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestObserveResult(t *testing.T) {
	c := NewCollector(zerolog.Nop())

	ok := detector.OK("lsb", detector.Clean(0.9), nil)
	ok.DurationMS = 120
	c.ObserveResult(ok)
	c.ObserveResult(ok)
	c.ObserveResult(detector.Skipped("codec", "ffprobe binary not found"))
	c.ObserveResult(detector.Failedf("virustotal", "unexpected status code 500"))

	results := "threatlens_detector_results_total"
	assert.Equal(t, 2.0, sample(t, c, results, map[string]string{"detector": "lsb", "status": "ok"}))
	assert.Equal(t, 1.0, sample(t, c, results, map[string]string{"detector": "codec", "status": "skipped"}))
	assert.Equal(t, 1.0, sample(t, c, results, map[string]string{"detector": "virustotal", "status": "error"}))

	durations := "threatlens_detector_duration_seconds"
	assert.Equal(t, 2.0, sample(t, c, durations, map[string]string{"detector": "lsb"}))
	// skipped detectors never ran, so they have no latency sample
	assert.Zero(t, sample(t, c, durations, map[string]string{"detector": "codec"}))
}

func TestObserveVerdict(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	c.ObserveVerdict(verdict.Verdict{IsMalicious: true, Confidence: 0.9, DurationMS: 1500})
	c.ObserveVerdict(verdict.Verdict{Degraded: true})

	verdicts := "threatlens_verdicts_total"
	assert.Equal(t, 1.0, sample(t, c, verdicts, map[string]string{"malicious": "true", "degraded": "false"}))
	assert.Equal(t, 1.0, sample(t, c, verdicts, map[string]string{"malicious": "false", "degraded": "true"}))
	assert.Equal(t, 2.0, sample(t, c, "threatlens_scan_duration_seconds", nil))
}

func TestWriteFile(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	c.ObserveResult(detector.OK("reputation", detector.Threat(0.95, "phishing"), nil))
	c.ObserveVerdict(verdict.Verdict{IsMalicious: true, Confidence: 0.95})

	path := filepath.Join(t.TempDir(), "threatlens.prom")
	require.NoError(t, c.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `threatlens_detector_results_total{detector="reputation",status="ok"} 1`), text)
	assert.Contains(t, text, "threatlens_scan_duration_seconds_count 1")
	assert.Contains(t, text, "threatlens_verdict_confidence_bucket")
}

func TestWriteFileBadPath(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	err := c.WriteFile(filepath.Join(t.TempDir(), "missing", "dir", "m.prom"))
	assert.Error(t, err)
}
