package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/config"
	"github.com/example/threatlens/internal/detector"
	"github.com/example/threatlens/internal/engine"
	"github.com/example/threatlens/internal/events"
	"github.com/example/threatlens/internal/logging"
	"github.com/example/threatlens/internal/metrics"
	"github.com/example/threatlens/internal/reputation"
	"github.com/example/threatlens/internal/staging"
	"github.com/example/threatlens/internal/verdict"
	"github.com/spf13/cobra"
)

// maxPayloadBytes caps files read from disk for a single scan.
const maxPayloadBytes = 64 << 20

type targetFlags struct {
	url   string
	file  string
	image string
	mime  string
}

func (f targetFlags) artifact() (artifact.Artifact, error) {
	set := 0
	for _, v := range []string{f.url, f.file, f.image} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return artifact.Artifact{}, errors.New("exactly one of --url, --file or --image is required")
	}

	if f.url != "" {
		return artifact.NewURL(f.url)
	}

	path := f.file
	if path == "" {
		path = f.image
	}
	payload, err := readPayload(path)
	if err != nil {
		return artifact.Artifact{}, err
	}
	hint := f.mime
	if hint == "" {
		hint = mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	}
	if f.image != "" {
		return artifact.NewImage(filepath.Base(path), payload, hint)
	}
	return artifact.NewFile(filepath.Base(path), payload, hint)
}

func readPayload(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxPayloadBytes {
		return nil, fmt.Errorf("%s is %d bytes; the limit is %d", path, info.Size(), maxPayloadBytes)
	}
	return os.ReadFile(filepath.Clean(path))
}

func newScanCmd(loader *config.Loader) *cobra.Command {
	return newScanCmdWith(loader, detectorDeps{})
}

func newScanCmdWith(loader *config.Loader, deps detectorDeps) *cobra.Command {
	flags := &runtimeFlagSet{}
	target := &targetFlags{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan one URL, file or image and write the verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := target.artifact()
			if err != nil {
				return err
			}

			overrides := flags.toOverrides(cmd)
			cfg, err := loader.Load(overrides)
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			if err := ensureOutputDir(cfg.OutputDir); err != nil {
				return err
			}

			stage, err := staging.NewManager(cfg.StagingDir, logger)
			if err != nil {
				return err
			}

			runDeps := deps
			if runDeps.Store == nil && selects(cfg, config.DetectorReputation) {
				store, err := reputation.Open(cfg.ReputationDB)
				if err != nil {
					return err
				}
				defer store.Close()
				runDeps.Store = store
			}

			reg, err := buildRegistry(cfg, runDeps)
			if err != nil {
				return err
			}

			emitter := events.NewEmitter(cmd.OutOrStdout())
			collector := metrics.NewCollector(logger)
			eng, err := engine.New(reg,
				engine.WithLogger(logger),
				engine.WithRecorder(collector),
				engine.WithStaging(stage),
				engine.WithScanTimeout(cfg.ScanTimeout),
				engine.WithResultObserver(func(scanID string, res detector.Result) {
					if err := emitter.DetectorResult(scanID, res); err != nil {
						logger.Warn().Err(err).Msg("emit detector result")
					}
				}),
			)
			if err != nil {
				return err
			}

			if err := emitter.Emit(events.Event{Type: events.TypeScanStart, Message: "Starting scan", Fields: map[string]interface{}{
				"kind":       string(a.Kind()),
				"identifier": a.Identifier(),
				"detectors":  eng.Detectors(),
			}}); err != nil {
				return err
			}

			v, err := eng.Scan(cmd.Context(), a)
			if err != nil {
				if emitErr := emitter.Emit(events.Event{Type: events.TypeError, Message: err.Error()}); emitErr != nil {
					logger.Warn().Err(emitErr).Msg("emit scan error")
				}
				return err
			}
			if err := emitter.Verdict(*v); err != nil {
				return err
			}

			var outputs []string
			for _, format := range cfg.Formats {
				outputPath := filepath.Join(cfg.OutputDir, artifactName(v, format))
				if err := writeVerdictArtifact(outputPath, format, v); err != nil {
					return err
				}
				outputs = append(outputs, outputPath)
				if err := emitter.Emit(events.Event{Type: events.TypeArtifactWritten, ScanID: v.ScanID, Fields: map[string]interface{}{"path": outputPath, "format": format}}); err != nil {
					return err
				}
			}

			if cfg.MetricsFile != "" {
				if err := ensureOutputDir(filepath.Dir(cfg.MetricsFile)); err != nil {
					return err
				}
				if err := collector.WriteFile(cfg.MetricsFile); err != nil {
					return err
				}
			}

			return emitter.Emit(events.Event{Type: events.TypeScanFinished, ScanID: v.ScanID, Message: "Scan complete", Fields: map[string]interface{}{
				"artifacts":   len(outputs),
				"isMalicious": v.IsMalicious,
				"durationMs":  v.DurationMS,
			}})
		},
	}

	bindRuntimeFlags(cmd, flags)
	cmd.Flags().StringVar(&target.url, "url", "", "URL to scan")
	cmd.Flags().StringVar(&target.file, "file", "", "Path to a file to scan")
	cmd.Flags().StringVar(&target.image, "image", "", "Path to an image to scan")
	cmd.Flags().StringVar(&target.mime, "mime", "", "Declared MIME type of the file or image")

	return cmd
}

func artifactName(v *verdict.Verdict, format string) string {
	stamp := v.ScannedAt
	if stamp.IsZero() {
		stamp = time.Now().UTC()
	}
	id := v.ScanID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("verdict_%s_%s.%s", stamp.Format("20060102_150405"), id, format)
}

var csvHeader = []string{
	"scanId", "kind", "identifier", "isMalicious", "confidence", "threatType", "degraded",
	"detector", "tier", "status", "isThreat", "detectorConfidence", "categories", "detail", "durationMs",
}

func writeVerdictArtifact(path, format string, v *verdict.Verdict) error {
	if err := ensureOutputDir(filepath.Dir(path)); err != nil {
		return err
	}

	switch format {
	case "json":
		return writeJSONFile(path, v, 0o644)
	case "csv":
		file, err := os.Create(filepath.Clean(path))
		if err != nil {
			return err
		}
		if err := writeVerdictCSV(file, v); err != nil {
			file.Close()
			return err
		}
		return file.Close()
	default:
		return fmt.Errorf("unsupported format %s", format)
	}
}

// writeVerdictCSV writes one row per detector result with the verdict columns repeated.
func writeVerdictCSV(f *os.File, v *verdict.Verdict) error {
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}

	threat := ""
	if v.ThreatType != nil {
		threat = *v.ThreatType
	}
	for _, res := range v.Results {
		isThreat, conf, cats := "", "", ""
		if res.Signal != nil {
			conf = strconv.FormatFloat(res.Signal.Confidence, 'f', 4, 64)
			cats = strings.Join(res.Signal.Categories, ";")
			if res.Signal.IsThreat != nil {
				isThreat = strconv.FormatBool(*res.Signal.IsThreat)
			}
		}
		row := []string{
			v.ScanID, string(v.Kind), v.Identifier, strconv.FormatBool(v.IsMalicious),
			strconv.FormatFloat(v.Confidence, 'f', 4, 64), threat, strconv.FormatBool(v.Degraded),
			res.Source, res.Tier.String(), string(res.Status), isThreat, conf, cats, res.Error,
			strconv.FormatInt(res.DurationMS, 10),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
