package cli

import (
	"fmt"
	"time"

	"github.com/example/threatlens/internal/config"
	"github.com/example/threatlens/internal/logging"
	"github.com/example/threatlens/internal/reputation"
	"github.com/example/threatlens/internal/staging"
	"github.com/spf13/cobra"
)

func newInitCmd(loader *config.Loader) *cobra.Command {
	flags := &runtimeFlagSet{}
	var sweepAge time.Duration

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Validate the configuration and prepare output, staging and reputation storage",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			removed, err := stage.Sweep(sweepAge)
			if err != nil {
				return err
			}

			store, err := reputation.Open(cfg.ReputationDB)
			if err != nil {
				return err
			}
			defer store.Close()
			counts, err := store.Count()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Environment looks good. Output will be stored in %s\n", cfg.OutputDir)
			fmt.Fprintf(out, "Staging directory %s (%d stale files removed)\n", stage.Dir(), removed)
			fmt.Fprintf(out, "Reputation database %s (%d urls, %d hosts, %d hashes)\n",
				store.Path(), counts[reputation.IndicatorURL], counts[reputation.IndicatorHost], counts[reputation.IndicatorHash])
			return nil
		},
	}

	bindRuntimeFlags(cmd, flags)
	cmd.Flags().DurationVar(&sweepAge, "sweep-age", time.Hour, "Remove staged files older than this")

	return cmd
}
