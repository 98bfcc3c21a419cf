package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/config"
	"github.com/example/threatlens/internal/procexec"
	"github.com/example/threatlens/internal/reputation"
	"github.com/example/threatlens/internal/staging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type doctorCheck struct {
	Name   string
	Status string // "✓", "✗" or "⊘"
	Detail string
	Error  error
}

func newDoctorCmd(loader *config.Loader) *cobra.Command {
	return newDoctorCmdWith(loader, procexec.NewRunner())
}

func newDoctorCmdWith(loader *config.Loader, runner procexec.Runner) *cobra.Command {
	flags := &runtimeFlagSet{}
	var timeout int

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, storage, credentials and detector tools",
		Long: `The doctor subcommand reports whether each selected detector can run:
- Go runtime version and configuration validity
- output and staging directories
- reputation database
- credentials for remote and AI detectors
- ffprobe and configured command-line tools`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := flags.toOverrides(cmd)
			cfg, err := loader.Load(overrides)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
			defer cancel()

			checks := runDoctorChecks(ctx, &cfg, runner)
			printDoctorReport(cmd, checks)

			for _, check := range checks {
				if check.Error != nil {
					return fmt.Errorf("doctor checks failed")
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "\n✓ All checks passed. System is ready.")
			return nil
		},
	}

	bindRuntimeFlags(cmd, flags)
	cmd.Flags().IntVar(&timeout, "timeout", 30, "Timeout in seconds for tool checks")

	return cmd
}

// runDoctorChecks only inspects detectors that the configuration selects.
// Missing credentials and an absent ffprobe are reported as skipped because the
// affected detectors degrade to skipped results rather than failing the scan.
func runDoctorChecks(ctx context.Context, cfg *config.RuntimeConfig, runner procexec.Runner) []doctorCheck {
	checks := []doctorCheck{checkGoVersion(), checkConfiguration(cfg)}

	checks = append(checks, checkOutputDirectory(cfg.OutputDir))
	checks = append(checks, checkStagingDirectory(ctx, cfg.StagingDir))

	if selects(*cfg, config.DetectorReputation) {
		checks = append(checks, checkReputationDB(cfg.ReputationDB))
	}

	creds := cfg.Credentials
	credentialChecks := []struct {
		detector string
		env      []string
		values   []string
	}{
		{config.DetectorURLhaus, []string{config.EnvURLhausKey}, []string{creds.URLhausKey}},
		{config.DetectorVirusTotal, []string{config.EnvVirusTotalKey}, []string{creds.VirusTotalKey}},
		{config.DetectorSafeBrowsing, []string{config.EnvSafeBrowsingKey}, []string{creds.SafeBrowsingKey}},
		{config.DetectorAbuseIPDB, []string{config.EnvAbuseIPDBKey}, []string{creds.AbuseIPDBKey}},
		{
			config.DetectorAIContent,
			[]string{config.EnvAzureEndpoint, config.EnvAzureKey, config.EnvAzureDeployment},
			[]string{creds.AzureEndpoint, creds.AzureKey, creds.AzureDeployment},
		},
	}
	for _, c := range credentialChecks {
		if selects(*cfg, c.detector) {
			checks = append(checks, checkCredentials(c.detector, c.env, c.values))
		}
	}

	if selects(*cfg, config.DetectorCodec) {
		checks = append(checks, checkFFprobe(ctx, runner, cfg.FFprobe))
	}
	for _, c := range cfg.Commands {
		if selects(*cfg, c.Name) {
			checks = append(checks, checkCommandBinary(runner, c))
		}
	}

	return checks
}

func checkGoVersion() doctorCheck {
	return doctorCheck{
		Name:   "Go Runtime",
		Status: "✓",
		Detail: fmt.Sprintf("Version %s", runtime.Version()),
	}
}

func checkConfiguration(cfg *config.RuntimeConfig) doctorCheck {
	if err := cfg.Validate(); err != nil {
		return doctorCheck{
			Name:   "Configuration",
			Status: "✗",
			Detail: "Invalid configuration",
			Error:  err,
		}
	}

	return doctorCheck{
		Name:   "Configuration",
		Status: "✓",
		Detail: fmt.Sprintf("%d detectors: %s", len(cfg.Detectors), strings.Join(cfg.DetectorNames(), ", ")),
	}
}

func checkOutputDirectory(outputDir string) doctorCheck {
	if err := ensureOutputDir(outputDir); err != nil {
		return doctorCheck{
			Name:   "Output Directory",
			Status: "✗",
			Detail: outputDir,
			Error:  err,
		}
	}

	return doctorCheck{
		Name:   "Output Directory",
		Status: "✓",
		Detail: outputDir,
	}
}

func checkStagingDirectory(ctx context.Context, dir string) doctorCheck {
	stage, err := staging.NewManager(dir, zerolog.Nop())
	if err == nil {
		err = stagingRoundTrip(ctx, stage)
	}
	if err != nil {
		return doctorCheck{
			Name:   "Staging Directory",
			Status: "✗",
			Detail: dir,
			Error:  err,
		}
	}

	return doctorCheck{
		Name:   "Staging Directory",
		Status: "✓",
		Detail: stage.Dir(),
	}
}

// stagingRoundTrip stages a small payload and reads it back, the same path file
// detectors take during a scan.
func stagingRoundTrip(ctx context.Context, stage *staging.Manager) error {
	payload := []byte("threatlens staging check")
	sample, err := artifact.NewFile("doctor.txt", payload, "text/plain")
	if err != nil {
		return err
	}
	return stage.With(ctx, sample, func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !bytes.Equal(data, payload) {
			return fmt.Errorf("staged copy at %s does not match its payload", path)
		}
		return nil
	})
}

func checkReputationDB(path string) doctorCheck {
	store, err := reputation.Open(path)
	if err != nil {
		return doctorCheck{
			Name:   "Reputation Database",
			Status: "✗",
			Detail: path,
			Error:  err,
		}
	}
	defer store.Close()

	counts, err := store.Count()
	if err != nil {
		return doctorCheck{
			Name:   "Reputation Database",
			Status: "✗",
			Detail: path,
			Error:  err,
		}
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return doctorCheck{
		Name:   "Reputation Database",
		Status: "✓",
		Detail: fmt.Sprintf("%s (%d indicators)", path, total),
	}
}

func checkCredentials(detectorName string, envNames, values []string) doctorCheck {
	var missing []string
	for i, v := range values {
		if v == "" {
			missing = append(missing, envNames[i])
		}
	}

	name := fmt.Sprintf("Credentials: %s", detectorName)
	if len(missing) > 0 {
		return doctorCheck{
			Name:   name,
			Status: "⊘",
			Detail: fmt.Sprintf("%s not set, detector will be skipped", strings.Join(missing, ", ")),
		}
	}

	return doctorCheck{
		Name:   name,
		Status: "✓",
		Detail: "Configured",
	}
}

func checkFFprobe(ctx context.Context, runner procexec.Runner, binary string) doctorCheck {
	path, err := runner.LookPath(binary)
	if err != nil {
		return doctorCheck{
			Name:   "ffprobe Binary",
			Status: "⊘",
			Detail: fmt.Sprintf("%s not found in PATH, codec detector will be skipped", binary),
		}
	}

	detail := path
	out, err := runner.Run(ctx, procexec.Command{Binary: binary, Args: []string{"-version"}})
	if err == nil {
		if line, _, _ := strings.Cut(strings.TrimSpace(string(out.Stdout)), "\n"); line != "" {
			detail = line
		}
	}

	return doctorCheck{
		Name:   "ffprobe Binary",
		Status: "✓",
		Detail: detail,
	}
}

func checkCommandBinary(runner procexec.Runner, c config.CommandConfig) doctorCheck {
	name := fmt.Sprintf("Tool: %s", c.Name)
	path, err := runner.LookPath(c.Command)
	if err != nil {
		return doctorCheck{
			Name:   name,
			Status: "✗",
			Detail: fmt.Sprintf("%s not found in PATH", c.Command),
			Error:  err,
		}
	}

	return doctorCheck{
		Name:   name,
		Status: "✓",
		Detail: path,
	}
}

func printDoctorReport(cmd *cobra.Command, checks []doctorCheck) {
	fmt.Fprintln(cmd.OutOrStdout(), "Running environment diagnostics...")

	for _, check := range checks {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %-30s %s\n", check.Status, check.Name+":", check.Detail)
		if check.Error != nil {
			fmt.Fprintf(cmd.OutOrStderr(), "   Error: %v\n", check.Error)
		}
	}
}
