package cli

import (
	"github.com/example/threatlens/internal/config"
	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X".
var version = "dev"

// Execute builds the root command tree and runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	loader := &config.Loader{ConfigPath: config.DefaultConfigPath}
	rootOpts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "threatlens",
		Short:         "Scan URLs, files and images with many detectors and one explainable verdict",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	rootCmd.SetVersionTemplate("threatlens version {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&rootOpts.ConfigPath, "config", config.DefaultConfigPath, "Path to threatlens.yml (optional)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if rootOpts.ConfigPath != "" {
			loader.ConfigPath = rootOpts.ConfigPath
		}
	}

	rootCmd.AddCommand(
		newInitCmd(loader),
		newScanCmd(loader),
		newReportCmd(),
		newDoctorCmd(loader),
		newReputationCmd(loader),
	)

	return rootCmd
}

type rootOptions struct {
	ConfigPath string
}
