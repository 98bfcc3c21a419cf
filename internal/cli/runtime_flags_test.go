package cli

import (
	"reflect"
	"testing"
	"time"

	"github.com/example/threatlens/internal/config"
	"github.com/spf13/cobra"
)

func TestRuntimeFlagSetToOverrides(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected config.Overrides
	}{
		{
			name:     "no flags changed returns empty overrides",
			args:     nil,
			expected: config.Overrides{},
		},
		{
			name: "detectors with timeouts",
			args: []string{"--detectors", "reputation,virustotal=5s"},
			expected: config.Overrides{
				Detectors: []config.DetectorSetting{
					{Name: "reputation"},
					{Name: "virustotal", Timeout: 5 * time.Second},
				},
			},
		},
		{
			name: "formats are normalized",
			args: []string{"--formats", "JSON, csv"},
			expected: config.Overrides{
				Formats: []string{"json", "csv"},
			},
		},
		{
			name: "paths",
			args: []string{
				"--output-dir", "/tmp/out",
				"--staging-dir", "/tmp/stage",
				"--reputation-db", "/tmp/rep.db",
				"--metrics-file", "/tmp/metrics.prom",
				"--env-file", "/tmp/.env",
			},
			expected: config.Overrides{
				OutputDir:    "/tmp/out",
				StagingDir:   "/tmp/stage",
				ReputationDB: "/tmp/rep.db",
				MetricsFile:  "/tmp/metrics.prom",
				EnvFile:      "/tmp/.env",
			},
		},
		{
			name: "scan timeout and logging",
			args: []string{"--scan-timeout", "45s", "--log-level", "debug", "--log-format", "json"},
			expected: config.Overrides{
				ScanTimeout: 45 * time.Second,
				LogLevel:    "debug",
				LogFormat:   "json",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			flags := &runtimeFlagSet{}
			bindRuntimeFlags(cmd, flags)

			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("parse flags: %v", err)
			}

			result := flags.toOverrides(cmd)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("toOverrides() mismatch\nGot:      %+v\nExpected: %+v", result, tt.expected)
			}
		})
	}
}

func TestRuntimeFlagSetToOverridesUnchangedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	flags := &runtimeFlagSet{
		detectors: "lsb",
		outputDir: "/default/output",
		formats:   "json",
		logLevel:  "warn",
	}
	bindRuntimeFlags(cmd, flags)

	// Binding resets the fields to flag defaults but nothing is marked changed.
	result := flags.toOverrides(cmd)
	if !reflect.DeepEqual(result, config.Overrides{}) {
		t.Errorf("toOverrides() should return empty overrides when no flags changed\nGot: %+v", result)
	}
}
