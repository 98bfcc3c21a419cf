// Package subprocess runs external analysis tools against a staged copy of the artifact.
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
	"github.com/example/threatlens/internal/procexec"
)

// PathPlaceholder in an argument is replaced with the staged artifact path.
// When no argument carries it, the path is appended as the last argument.
const PathPlaceholder = "{path}"

// Spec describes one operator-configured tool.
type Spec struct {
	Name     string
	Binary   string
	Args     []string
	Kinds    detector.Kinds
	Category string
}

// Command is a detector that runs a tool which prints one JSON report on stdout.
type Command struct {
	spec   Spec
	runner procexec.Runner
}

// NewCommand validates the spec. Kinds default to file and image.
func NewCommand(spec Spec, runner procexec.Runner) (*Command, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return nil, errors.New("command detector has no name")
	}
	if strings.TrimSpace(spec.Binary) == "" {
		return nil, fmt.Errorf("command detector %q has no binary", spec.Name)
	}
	if len(spec.Kinds) == 0 {
		spec.Kinds = detector.Kinds{artifact.KindFile, artifact.KindImage}
	}
	for _, k := range spec.Kinds {
		if k == artifact.KindURL {
			return nil, fmt.Errorf("command detector %q: url artifacts have nothing to stage", spec.Name)
		}
	}
	if runner == nil {
		runner = procexec.NewRunner()
	}
	return &Command{spec: spec, runner: runner}, nil
}

func (d *Command) Name() string                     { return d.spec.Name }
func (d *Command) Tier() detector.Tier              { return detector.TierLocal }
func (d *Command) Supports(kind artifact.Kind) bool { return d.spec.Kinds.Has(kind) }

func (d *Command) Detect(ctx context.Context, target detector.Target) detector.Result {
	if _, err := d.runner.LookPath(d.spec.Binary); err != nil {
		return detector.Skipped(d.spec.Name, err.Error())
	}

	path, err := target.StagedPath(ctx)
	if err != nil {
		return detector.Failed(d.spec.Name, fmt.Errorf("stage artifact: %w", err))
	}

	out, err := d.runner.Run(ctx, procexec.Command{Binary: d.spec.Binary, Args: withPath(d.spec.Args, path)})
	if err != nil {
		return detector.Failed(d.spec.Name, err).WithRaw(outputRaw(out))
	}
	if out.Truncated {
		return detector.Failedf(d.spec.Name, "tool output exceeded %d bytes", len(out.Stdout))
	}

	sig, err := ParseReport(out.Stdout, d.spec.Category)
	if err != nil {
		return detector.Failed(d.spec.Name, err).WithRaw(outputRaw(out))
	}
	return detector.OK(d.spec.Name, sig, out.Stdout)
}

func withPath(args []string, path string) []string {
	out := make([]string, 0, len(args)+1)
	substituted := false
	for _, a := range args {
		if strings.Contains(a, PathPlaceholder) {
			a = strings.ReplaceAll(a, PathPlaceholder, path)
			substituted = true
		}
		out = append(out, a)
	}
	if !substituted {
		out = append(out, path)
	}
	return out
}

func outputRaw(out procexec.Output) map[string]interface{} {
	stdout := string(out.Stdout)
	if len(stdout) > 512 {
		stdout = stdout[:512]
	}
	return map[string]interface{}{"exitCode": out.ExitCode, "stdout": stdout, "stderr": out.Stderr}
}

type report struct {
	IsThreat   *bool    `json:"isThreat"`
	Detected   *bool    `json:"detected"`
	Confidence *float64 `json:"confidence"`
	Categories []string `json:"categories"`
	Category   string   `json:"category"`
}

// ParseReport reads one tool report. Two shapes are accepted:
//
//	{"isThreat": true|false|null, "confidence": 0.7, "categories": ["..."]}
//	{"detected": true|false, "confidence": 0.7}
//
// In the first shape confidence follows the signal contract. In the second it is the
// likelihood of a detection, so a negative answer is reported as Clean(1-confidence).
// fallback names the category when the tool supplies none.
func ParseReport(stdout []byte, fallback string) (detector.Signal, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return detector.Signal{}, errors.New("tool produced no output")
	}

	var r report
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(&r); err != nil {
		return detector.Signal{}, fmt.Errorf("tool output is not JSON: %w", err)
	}
	if dec.More() {
		return detector.Signal{}, errors.New("tool output holds more than one JSON document")
	}
	if r.Confidence == nil {
		return detector.Signal{}, errors.New("tool report has no confidence")
	}
	conf := *r.Confidence
	if conf < 0 || conf > 1 {
		return detector.Signal{}, fmt.Errorf("tool confidence %v outside [0,1]", conf)
	}

	categories := r.Categories
	if r.Category != "" {
		categories = append(categories, r.Category)
	}
	if len(categories) == 0 && fallback != "" {
		categories = []string{fallback}
	}

	switch {
	case r.IsThreat != nil && *r.IsThreat:
		return detector.Threat(conf, categories...), nil
	case r.IsThreat != nil:
		return detector.Clean(conf), nil
	case r.Detected != nil && *r.Detected:
		return detector.Threat(conf, categories...), nil
	case r.Detected != nil:
		return detector.Clean(1 - conf), nil
	default:
		return detector.Likelihood(conf, categories...), nil
	}
}
