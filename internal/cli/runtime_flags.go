package cli

import (
	"time"

	"github.com/example/threatlens/internal/config"
	"github.com/spf13/cobra"
)

// runtimeFlagSet tracks shared scan/init/doctor flags before they are converted into config overrides.
type runtimeFlagSet struct {
	detectors    string
	outputDir    string
	formats      string
	stagingDir   string
	reputationDB string
	scanTimeout  time.Duration
	logLevel     string
	logFormat    string
	metricsFile  string
	envFile      string
}

func bindRuntimeFlags(cmd *cobra.Command, flags *runtimeFlagSet) {
	cmd.Flags().StringVar(&flags.detectors, "detectors", "", "Comma-separated detectors to run, optionally name=timeout (reputation,virustotal=5s,...)")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "Directory for verdict artifacts")
	cmd.Flags().StringVar(&flags.formats, "formats", "", "Comma-separated output formats (json,csv)")
	cmd.Flags().StringVar(&flags.stagingDir, "staging-dir", "", "Directory for transient copies of scanned files")
	cmd.Flags().StringVar(&flags.reputationDB, "reputation-db", "", "Path to the local known-bad indicator database")
	cmd.Flags().DurationVar(&flags.scanTimeout, "scan-timeout", 0, "Overall deadline for one scan (e.g. 30s)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "", "Log format: console or json")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "Write Prometheus text metrics to this path after the run")
	cmd.Flags().StringVar(&flags.envFile, "env-file", "", "Read API credentials from this .env file")
}

func (f runtimeFlagSet) toOverrides(cmd *cobra.Command) config.Overrides {
	ov := config.Overrides{}
	if cmd.Flags().Changed("detectors") {
		ov.Detectors = config.ParseDetectors(f.detectors)
	}

	if cmd.Flags().Changed("output-dir") {
		ov.OutputDir = f.outputDir
	}

	if cmd.Flags().Changed("formats") {
		ov.Formats = config.ParseFormats(f.formats)
	}

	if cmd.Flags().Changed("staging-dir") {
		ov.StagingDir = f.stagingDir
	}

	if cmd.Flags().Changed("reputation-db") {
		ov.ReputationDB = f.reputationDB
	}

	if cmd.Flags().Changed("scan-timeout") {
		ov.ScanTimeout = f.scanTimeout
	}

	if cmd.Flags().Changed("log-level") {
		ov.LogLevel = f.logLevel
	}

	if cmd.Flags().Changed("log-format") {
		ov.LogFormat = f.logFormat
	}

	if cmd.Flags().Changed("metrics-file") {
		ov.MetricsFile = f.metricsFile
	}

	if cmd.Flags().Changed("env-file") {
		ov.EnvFile = f.envFile
	}

	return ov
}
