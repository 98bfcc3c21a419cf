package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/example/threatlens/internal/events"
	"github.com/example/threatlens/internal/verdict"
	"github.com/spf13/cobra"
)

// reportStats summarizes a set of verdict artifacts.
type reportStats struct {
	Input          string                    `json:"input"`
	GeneratedAt    string                    `json:"generatedAt"`
	Files          int                       `json:"files"`
	Verdicts       int                       `json:"verdicts"`
	Malicious      int                       `json:"malicious"`
	Degraded       int                       `json:"degraded"`
	Inconclusive   int                       `json:"inconclusive"`
	MeanConfidence float64                   `json:"meanConfidence"`
	ThreatTypes    map[string]int            `json:"threatTypes"`
	Detectors      map[string]map[string]int `json:"detectorStatus"`
}

func newReportCmd() *cobra.Command {
	var inputPath string
	var summaryPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate aggregate stats from verdict artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" {
				return errors.New("--input is required")
			}

			files, err := verdictFiles(inputPath)
			if err != nil {
				return err
			}

			var verdicts []verdict.Verdict
			for _, path := range files {
				vs, err := readVerdicts(path)
				if err != nil {
					return err
				}
				verdicts = append(verdicts, vs...)
			}

			stats := summarize(verdicts)
			stats.Input = inputPath
			stats.Files = len(files)

			fields, err := toFields(stats)
			if err != nil {
				return err
			}
			emitter := events.NewEmitter(cmd.OutOrStdout())
			if err := emitter.Emit(events.Event{Type: events.TypeReport, Message: "Report generated", Fields: fields}); err != nil {
				return err
			}

			if summaryPath != "" {
				if err := writeJSONFile(summaryPath, stats, 0o600); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Summary written to %s\n", summaryPath)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "Verdict JSON artifact, or a directory of them")
	cmd.Flags().StringVar(&summaryPath, "summary-file", "", "Optional path to store summary JSON")
	if err := cmd.MarkFlagRequired("input"); err != nil {
		panic(err)
	}

	return cmd
}

func verdictFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no JSON artifacts in %s", path)
	}
	sort.Strings(matches)
	return matches, nil
}

// readVerdicts accepts a single verdict object or an array of them.
func readVerdicts(path string) ([]verdict.Verdict, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []verdict.Verdict
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return list, nil
	}

	var v verdict.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return []verdict.Verdict{v}, nil
}

func summarize(verdicts []verdict.Verdict) reportStats {
	stats := reportStats{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Verdicts:    len(verdicts),
		ThreatTypes: map[string]int{},
		Detectors:   map[string]map[string]int{},
	}

	total := 0.0
	for _, v := range verdicts {
		total += v.Confidence
		if v.IsMalicious {
			stats.Malicious++
		}
		if v.Degraded {
			stats.Degraded++
		}
		if v.Contributing == 0 {
			stats.Inconclusive++
		}
		if v.ThreatType != nil {
			stats.ThreatTypes[*v.ThreatType]++
		}
		for _, res := range v.Results {
			if stats.Detectors[res.Source] == nil {
				stats.Detectors[res.Source] = map[string]int{}
			}
			stats.Detectors[res.Source][string(res.Status)]++
		}
	}
	if len(verdicts) > 0 {
		stats.MeanConfidence = total / float64(len(verdicts))
	}
	return stats
}

func toFields(stats reportStats) (map[string]interface{}, error) {
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

