// Package cmd implements the hnpulse command line interface.
//
// Following the pattern used by kubectl, hugo, and other standard Go CLI
// tools, all application logic is contained in the cmd package, leaving
// main.go as a minimal entry point.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hnpulse",
	Short: "Hacker News discussion analysis pipeline",
	Long: `hnpulse ingests Hacker News stories and comments, extracts structured
facts from them with an LLM, embeds the results into a vector index, and
serves semantic search and pipeline status over HTTP.

Run "hnpulse serve" to start the full pipeline.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
