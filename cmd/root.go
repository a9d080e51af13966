// Package cmd implements the engram command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Persistent AI memory system",
	Long: `Engram persists an AI agent's interaction history — dialogue turns,
curated memories, schedule, tool-call telemetry and editor sessions —
across five SQLite databases and exposes them over the Model Context
Protocol.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
