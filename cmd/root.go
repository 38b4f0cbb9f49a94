// Package cmd defines and implements the CLI commands for the smswatch
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smswatch",
		Short: "Watches an SMS gateway panel and forwards new messages",
		Long: `smswatch is a long-lived daemon that maintains an authenticated
session against an SMS gateway web panel, polls it for incoming
messages, deduplicates them against a persisted ledger, and forwards
each new message to the configured notification channels.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is environment-only)")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
