package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/threatlens/internal/config"
	"github.com/example/threatlens/internal/reputation"
	"github.com/spf13/cobra"
)

func newReputationCmd(loader *config.Loader) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "reputation",
		Short: "Manage the local known-bad URL, host and hash list",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "reputation-db", "", "Path to the indicator database (overrides config)")

	open := func(cmd *cobra.Command) (*reputation.Store, error) {
		ov := config.Overrides{}
		if cmd.Flags().Changed("reputation-db") {
			ov.ReputationDB = dbPath
		}
		cfg, err := loader.Load(ov)
		if err != nil {
			return nil, err
		}
		return reputation.Open(cfg.ReputationDB)
	}

	cmd.AddCommand(
		newReputationImportCmd(open),
		newReputationAddCmd(open),
		newReputationLookupCmd(open),
	)
	return cmd
}

type storeOpener func(cmd *cobra.Command) (*reputation.Store, error)

func newReputationImportCmd(open storeOpener) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import indicators from CSV rows of kind,value,category[,source[,confidence]]",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			in, err := os.Open(filepath.Clean(file))
			if err != nil {
				return err
			}
			defer in.Close()

			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Import(in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d indicators into %s\n", n, store.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file to import")
	return cmd
}

func newReputationAddCmd(open storeOpener) *cobra.Command {
	var source string
	var confidence float64

	cmd := &cobra.Command{
		Use:   "add KIND VALUE CATEGORY",
		Short: "Add one indicator (kind is url, host or hash)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := reputation.ParseIndicatorKind(args[0])
			if err != nil {
				return err
			}

			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			entry := reputation.Entry{Kind: kind, Value: args[1], Category: args[2], Source: source, Confidence: confidence}
			if err := store.Add(entry); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s (%s)\n", kind, args[1], args[2])
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "manual", "Where the indicator came from")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, fmt.Sprintf("Confidence of the listing (default %.2f)", reputation.DefaultConfidence))
	return cmd
}

func newReputationLookupCmd(open storeOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup KIND VALUE",
		Short: "Print the stored entry for one indicator",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := reputation.ParseIndicatorKind(args[0])
			if err != nil {
				return err
			}

			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := store.Lookup(kind, args[1])
			if errors.Is(err, reputation.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s is not listed\n", kind, args[1])
				return nil
			}
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(entry, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	return cmd
}
