package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
	"github.com/example/threatlens/internal/staging"
	"github.com/example/threatlens/internal/verdict"
)

type stubDetector struct {
	name  string
	tier  detector.Tier
	kinds detector.Kinds
	fn    func(ctx context.Context, target detector.Target) detector.Result
}

func (s stubDetector) Name() string        { return s.name }
func (s stubDetector) Tier() detector.Tier { return s.tier }
func (s stubDetector) Supports(kind artifact.Kind) bool {
	return len(s.kinds) == 0 || s.kinds.Has(kind)
}
func (s stubDetector) Detect(ctx context.Context, target detector.Target) detector.Result {
	return s.fn(ctx, target)
}

func returning(res detector.Result) func(context.Context, detector.Target) detector.Result {
	return func(context.Context, detector.Target) detector.Result { return res }
}

type recorder struct {
	mu       sync.Mutex
	results  []detector.Result
	verdicts []verdict.Verdict
}

func (r *recorder) ObserveResult(res detector.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) ObserveVerdict(v verdict.Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdicts = append(r.verdicts, v)
}

func mustRegistry(t *testing.T, entries ...detector.Entry) *detector.Registry {
	t.Helper()
	reg, err := detector.NewRegistry(entries...)
	require.NoError(t, err)
	return reg
}

func TestNewRejectsEmptyRegistry(t *testing.T) {
	_, err := New(mustRegistry(t))
	assert.ErrorIs(t, err, ErrEmptyRegistry)
}

func TestScanRejectsInvalidArtifact(t *testing.T) {
	eng, err := New(mustRegistry(t, detector.Entry{Detector: stubDetector{
		name: "a", tier: detector.TierRemote, fn: returning(detector.OK("a", detector.Threat(1), nil)),
	}}))
	require.NoError(t, err)

	_, err = eng.Scan(context.Background(), artifact.Artifact{})
	assert.ErrorIs(t, err, artifact.ErrInvalidArtifact)
}

func TestScanProducesVerdict(t *testing.T) {
	rec := &recorder{}
	reg := mustRegistry(t,
		detector.Entry{Detector: stubDetector{name: "vt", tier: detector.TierRemote,
			fn: returning(detector.OK("vt", detector.Threat(0.9, "phishing"), nil))}},
		detector.Entry{Detector: stubDetector{name: "sb", tier: detector.TierRemote,
			fn: returning(detector.OK("sb", detector.Clean(0.1), nil))}},
		detector.Entry{Detector: stubDetector{name: "broken", tier: detector.TierLocal,
			fn: returning(detector.Failed("broken", errors.New("exit status 2")))}},
	)
	eng, err := New(reg, WithRecorder(rec), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	a, err := artifact.NewURL("https://login.example.test/")
	require.NoError(t, err)

	v, err := eng.Scan(context.Background(), a)
	require.NoError(t, err)

	assert.NotEmpty(t, v.ScanID)
	assert.Equal(t, "https://login.example.test/", v.Identifier)
	assert.True(t, v.IsMalicious)
	assert.InDelta(t, 0.9, v.Confidence, 1e-9)
	require.NotNil(t, v.ThreatType)
	assert.Equal(t, "phishing", *v.ThreatType)
	assert.True(t, v.Degraded)
	require.Len(t, v.Results, 3)
	assert.Equal(t, []string{"vt", "sb", "broken"}, []string{v.Results[0].Source, v.Results[1].Source, v.Results[2].Source})

	assert.Len(t, rec.results, 3)
	assert.Len(t, rec.verdicts, 1)
}

func TestScanIDsAreUnique(t *testing.T) {
	reg := mustRegistry(t, detector.Entry{Detector: stubDetector{name: "a", tier: detector.TierRemote,
		fn: returning(detector.OK("a", detector.Clean(1), nil))}})
	eng, err := New(reg)
	require.NoError(t, err)
	a, err := artifact.NewURL("example.test")
	require.NoError(t, err)

	first, err := eng.Scan(context.Background(), a)
	require.NoError(t, err)
	second, err := eng.Scan(context.Background(), a)
	require.NoError(t, err)
	assert.NotEqual(t, first.ScanID, second.ScanID)
}

func TestScanWithOnlyUnsupportedDetectors(t *testing.T) {
	reg := mustRegistry(t, detector.Entry{Detector: stubDetector{
		name: "lsb", tier: detector.TierLocal, kinds: detector.Kinds{artifact.KindImage},
		fn: returning(detector.OK("lsb", detector.Threat(1), nil)),
	}})
	eng, err := New(reg)
	require.NoError(t, err)
	a, err := artifact.NewURL("https://example.test/")
	require.NoError(t, err)

	v, err := eng.Scan(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, verdict.FailureMessage, v.Explanation)
	assert.False(t, v.IsMalicious)
	assert.True(t, v.Degraded)
	assert.Equal(t, detector.StatusSkipped, v.Results[0].Status)
}

func TestScanCompletesWhenSubprocessHangs(t *testing.T) {
	reg := mustRegistry(t,
		detector.Entry{Detector: stubDetector{name: "codec", tier: detector.TierLocal,
			fn: func(ctx context.Context, _ detector.Target) detector.Result {
				time.Sleep(5 * time.Second)
				return detector.OK("codec", detector.Threat(1), nil)
			}}, Timeout: 50 * time.Millisecond},
		detector.Entry{Detector: stubDetector{name: "metadata", tier: detector.TierLocal,
			fn: returning(detector.OK("metadata", detector.Clean(0.8), nil))}},
	)
	eng, err := New(reg, WithScanTimeout(time.Second))
	require.NoError(t, err)
	a, err := artifact.NewImage("cat.png", []byte{0x89, 'P', 'N', 'G'}, "image/png")
	require.NoError(t, err)

	start := time.Now()
	v, err := eng.Scan(context.Background(), a)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.True(t, v.Degraded)
	assert.Equal(t, detector.StatusTimeout, v.Results[0].Status)
	assert.Equal(t, 1, v.Contributing)
	assert.InDelta(t, 0.2, v.Confidence, 1e-9)
}

func TestScanStagesAndReleasesPayload(t *testing.T) {
	mgr, err := staging.NewManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	stager := func(ctx context.Context, target detector.Target) detector.Result {
		path, err := target.StagedPath(ctx)
		if err != nil {
			return detector.Failed("x", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return detector.Failed("x", err)
		}
		mu.Lock()
		seen = append(seen, path)
		mu.Unlock()
		return detector.OK("x", detector.Likelihood(float64(len(data))/10), nil)
	}
	reg := mustRegistry(t,
		detector.Entry{Detector: stubDetector{name: "one", tier: detector.TierLocal, fn: stager}},
		detector.Entry{Detector: stubDetector{name: "two", tier: detector.TierLocal, fn: stager}},
	)
	var logs bytes.Buffer
	eng, err := New(reg, WithStaging(mgr), WithLogger(zerolog.New(&logs).Level(zerolog.DebugLevel)))
	require.NoError(t, err)

	a, err := artifact.NewFile("doc.bin", []byte("12345"), "")
	require.NoError(t, err)
	v, err := eng.Scan(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Contributing)

	require.Len(t, seen, 2)
	assert.Equal(t, seen[0], seen[1])
	_, err = os.Stat(seen[0])
	assert.True(t, os.IsNotExist(err))

	assert.Contains(t, logs.String(), `"component":"engine"`)
	assert.Contains(t, logs.String(), `"staged":true`)
}

func TestScanWithoutStagingReportsDetectorError(t *testing.T) {
	reg := mustRegistry(t, detector.Entry{Detector: stubDetector{name: "needs-file", tier: detector.TierLocal,
		fn: func(ctx context.Context, target detector.Target) detector.Result {
			if _, err := target.StagedPath(ctx); err != nil {
				return detector.Failed("needs-file", err)
			}
			return detector.OK("needs-file", detector.Clean(1), nil)
		}}})
	eng, err := New(reg)
	require.NoError(t, err)
	a, err := artifact.NewFile("doc.bin", []byte("x"), "")
	require.NoError(t, err)

	v, err := eng.Scan(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, detector.StatusError, v.Results[0].Status)
	assert.Contains(t, v.Results[0].Error, "staging")
}

func TestConcurrentScansAreIndependent(t *testing.T) {
	reg := mustRegistry(t, detector.Entry{Detector: stubDetector{name: "echo", tier: detector.TierRemote,
		fn: func(_ context.Context, target detector.Target) detector.Result {
			if target.Artifact.Identifier() == "https://bad.example.test" {
				return detector.OK("echo", detector.Threat(1, "malware"), nil)
			}
			return detector.OK("echo", detector.Clean(1), nil)
		}}})
	eng, err := New(reg)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(bad bool) {
			defer wg.Done()
			raw := "https://good.example.test"
			if bad {
				raw = "https://bad.example.test"
			}
			a, err := artifact.NewURL(raw)
			if !assert.NoError(t, err) {
				return
			}
			v, err := eng.Scan(context.Background(), a)
			if assert.NoError(t, err) {
				assert.Equal(t, bad, v.IsMalicious)
			}
		}(i%2 == 0)
	}
	wg.Wait()
}
