// Command kosync is a reading-progress synchronization client for
// KOReader-compatible sync servers.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "kosync",
	Short: "Sync reading progress with a KOReader-compatible server",
	Long: `kosync keeps reading positions in sync across devices.

It derives a stable identifier for each document, exchanges a small
progress record with the sync server, and resolves conflicts between
the local and remote positions. State (progress cache, device identity,
log file) lives under the data directory, ~/.kosync by default.

Credentials and policy come from <data-dir>/config.yaml, overridable
with KOSYNC_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "also log to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
