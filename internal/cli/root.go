// Package cli implements the emberwatch CLI commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/emberwatch-io/emberwatch/internal/config"
)

var rootFlag string

var rootCmd = &cobra.Command{
	Use:   "emberwatch",
	Short: "Track and recover coding agent sessions",
	Long: `Emberwatch tracks long-running coding agent sessions, persists their
logs and state durably across crashes, detects abandoned work, and
recovers from failures.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Data root directory (default ~/.emberwatch)")

	// Add subcommands (alphabetical)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)
}

// dataRoot resolves the root flag, falling back to ~/.emberwatch.
func dataRoot() (string, error) {
	if rootFlag != "" {
		return rootFlag, nil
	}
	return config.DefaultRoot()
}
