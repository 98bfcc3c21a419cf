// Package engine runs one scan end to end: validate the artifact, fan out to every
// registered detector, and reduce the results into a verdict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
	"github.com/example/threatlens/internal/logging"
	"github.com/example/threatlens/internal/staging"
	"github.com/example/threatlens/internal/verdict"
)

// DefaultScanTimeout bounds a whole scan when no option overrides it.
const DefaultScanTimeout = 30 * time.Second

// ErrEmptyRegistry is returned by New when no detector is registered.
var ErrEmptyRegistry = errors.New("detector registry is empty")

// Recorder receives per-scan measurements. metrics.Collector implements it.
type Recorder interface {
	ObserveResult(res detector.Result)
	ObserveVerdict(v verdict.Verdict)
}

// Engine is safe for concurrent scans; it holds no per-scan state.
type Engine struct {
	registry    *detector.Registry
	logger      zerolog.Logger
	recorder    Recorder
	staging     *staging.Manager
	scanTimeout time.Duration
	observe     func(scanID string, res detector.Result)
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logging.Component(logger, "engine") }
}

// WithRecorder attaches a metrics sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithStaging enables on-disk copies for detectors that need a file path.
func WithStaging(m *staging.Manager) Option {
	return func(e *Engine) { e.staging = m }
}

// WithScanTimeout bounds each scan. Non-positive values keep the default.
func WithScanTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.scanTimeout = d
		}
	}
}

// WithResultObserver is called once per detector result as it lands.
func WithResultObserver(fn func(scanID string, res detector.Result)) Option {
	return func(e *Engine) { e.observe = fn }
}

// New builds an engine over a frozen registry.
func New(reg *detector.Registry, opts ...Option) (*Engine, error) {
	if reg.Len() == 0 {
		return nil, ErrEmptyRegistry
	}
	e := &Engine{
		registry:    reg,
		logger:      zerolog.Nop(),
		scanTimeout: DefaultScanTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Detectors lists registered detector names in registry order.
func (e *Engine) Detectors() []string {
	return e.registry.Names()
}

// Scan analyses one artifact. The only error returned is for an invalid artifact;
// every detector fault is folded into the verdict as a non-ok result.
func (e *Engine) Scan(ctx context.Context, a artifact.Artifact) (*verdict.Verdict, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", artifact.ErrInvalidArtifact, err)
	}

	scanID := uuid.NewString()
	started := e.now()
	logger := e.logger.With().
		Str("scan_id", scanID).
		Str("kind", string(a.Kind())).
		Logger()
	logger.Info().Str("artifact", a.String()).Int("detectors", e.registry.Len()).Msg("scan started")

	sctx, cancel := context.WithTimeout(ctx, e.scanTimeout)
	defer cancel()

	target := detector.Target{Artifact: a}
	var scope *staging.Scope
	if e.staging != nil && a.HasPayload() {
		scope = e.staging.NewScope(a)
		target.Files = scope
	}

	results := detector.Dispatch(sctx, e.registry, target, detector.DispatchOptions{
		Logger: logger,
		Observe: func(res detector.Result) {
			if e.recorder != nil {
				e.recorder.ObserveResult(res)
			}
			if e.observe != nil {
				e.observe(scanID, res)
			}
		},
	})

	if scope != nil {
		staged := scope.Staged()
		if err := scope.Close(); err != nil {
			logger.Warn().Err(err).Msg("release staged artifact")
		}
		logger.Debug().Bool("staged", staged).Msg("staging scope closed")
	}

	v := verdict.Generate(a.Kind(), results)
	v.ScanID = scanID
	v.Identifier = a.Identifier()
	v.ScannedAt = started.UTC()
	v.DurationMS = e.now().Sub(started).Milliseconds()

	if e.recorder != nil {
		e.recorder.ObserveVerdict(v)
	}

	evt := logger.Info()
	if v.Degraded {
		evt = logger.Warn()
	}
	evt.Bool("malicious", v.IsMalicious).
		Float64("confidence", v.Confidence).
		Str("threat_type", v.ThreatTypeOr("")).
		Bool("degraded", v.Degraded).
		Int("contributing", v.Contributing).
		Int64("duration_ms", v.DurationMS).
		Msg("scan finished")

	return &v, nil
}
