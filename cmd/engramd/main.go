// Engramd is a memory consolidation daemon for agent sessions.
//
// The daemon captures experiences over HTTP, keeps a saliency-ranked
// working set per scope, and periodically consolidates raw experiences
// into durable patterns, procedures, and feedback.
//
// Usage:
//
//	# Start the daemon with defaults
//	engramd serve
//
//	# Start with an explicit config file
//	engramd serve --config ./engramd.yaml
//
//	# Trigger a consolidation run against a running daemon
//	engramd consolidate --scope /home/dev/projects/api
//
//	# Show recent run history
//	engramd status --scope /home/dev/projects/api
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the config file used by serve.
	configPath string

	// serverURL is the daemon address used by the client commands.
	serverURL string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "engramd",
	Short: "Memory consolidation daemon for agent sessions",
	Long: `engramd captures experiences from agent sessions, ranks them by
saliency, and consolidates them into durable patterns, procedures, and
feedback on a schedule or on demand.

The serve command runs the daemon. The consolidate and status commands
talk to a running daemon over its admin HTTP API.`,
	Version: version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("engramd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/engramd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9292", "engramd server URL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
