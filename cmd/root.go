// Package cmd defines the CLI commands for the aggregator executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fedjobs/aggregator/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregator",
		Short: "Aggregates federal job postings into a searchable store.",
		Long: `aggregator pulls job postings from the USAJOBS search API,
sweeping every occupational series with bounded concurrency, and loads
them idempotently into a searchable store. It serves search, stats and
organization queries over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults plus AGGREGATOR_* env)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
