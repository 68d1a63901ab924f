package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hnpulse/hnpulse/internal/analysis"
)

// Version information (injected at build time via ldflags)
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("hnpulse %s\n", AppVersion)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		fmt.Printf("Analysis Schema: %s\n", analysis.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
