// Package metrics exposes scan counters and latencies in the Prometheus text format.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/example/threatlens/internal/detector"
	"github.com/example/threatlens/internal/logging"
	"github.com/example/threatlens/internal/verdict"
)

const namespace = "threatlens"

// Collector owns a private registry so repeated CLI runs and tests never clash on
// the global default registerer.
type Collector struct {
	logger   zerolog.Logger
	registry *prometheus.Registry

	detectorResults  *prometheus.CounterVec
	detectorDuration *prometheus.HistogramVec
	verdicts         *prometheus.CounterVec
	scanDuration     prometheus.Histogram
	confidence       prometheus.Histogram
}

// NewCollector registers every metric.
func NewCollector(logger zerolog.Logger) *Collector {
	c := &Collector{
		logger:   logging.Component(logger, "metrics"),
		registry: prometheus.NewRegistry(),
	}

	c.detectorResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_results_total",
			Help:      "Detector outcomes by detector and status",
		},
		[]string{"detector", "status"},
	)
	c.detectorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detector_duration_seconds",
			Help:      "Time each detector took to answer or time out",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 8, 20, 30},
		},
		[]string{"detector"},
	)
	c.verdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Verdicts produced, split by outcome",
		},
		[]string{"malicious", "degraded"},
	)
	c.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "End to end scan latency",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})
	c.confidence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "verdict_confidence",
		Help:      "Distribution of aggregate verdict confidence",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	c.registry.MustRegister(c.detectorResults, c.detectorDuration, c.verdicts, c.scanDuration, c.confidence)
	return c
}

// Registry exposes the underlying registry, mostly for tests and custom exporters.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveResult records one detector outcome.
func (c *Collector) ObserveResult(res detector.Result) {
	c.detectorResults.WithLabelValues(res.Source, string(res.Status)).Inc()
	if res.Status != detector.StatusSkipped {
		c.detectorDuration.WithLabelValues(res.Source).Observe(float64(res.DurationMS) / 1000)
	}
}

// ObserveVerdict records one finished scan.
func (c *Collector) ObserveVerdict(v verdict.Verdict) {
	c.verdicts.WithLabelValues(strconv.FormatBool(v.IsMalicious), strconv.FormatBool(v.Degraded)).Inc()
	c.scanDuration.Observe((time.Duration(v.DurationMS) * time.Millisecond).Seconds())
	c.confidence.Observe(v.Confidence)
}

// WriteFile atomically writes the text exposition to path.
func (c *Collector) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	c.logger.Debug().Str("path", path).Msg("metrics written")
	return nil
}
