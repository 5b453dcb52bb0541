// Package cmd defines and implements the CLI commands for the keywatch executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andr-235/keywatch/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywatch",
		Short: "A rate-limited background keyword scanner.",
		Long: `keywatch periodically scans monitored targets through an external
item API, matches new items against per-target keyword rules, and records
matches durably. It coordinates rate limits and scan leases through Redis
so multiple instances can share one API quota safely.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; environment variables are always read)")

	cmd.AddCommand(newScanCmd())

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
