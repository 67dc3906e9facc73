package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "madev",
	Short: "Multi-agent development coordinator",
	Long: `Madev coordinates a pool of specialized agents working on shared
development workflows. Tasks flow through a dependency graph, each one
assigned to a capable agent and executed against a model provider chosen
by budget tier, with circuit breaking and automatic fallback.

Core capabilities:
- Runs sequential, parallel, and DAG workflows of typed tasks
- Assigns tasks to agents by capability, least-recently-assigned first
- Routes model calls across provider tiers as the spend budget is consumed
- Retries transient failures with exponential backoff
- Persists task results to SQLite for later inspection`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (overrides discovery)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
