package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hnpulse/hnpulse/db"
	"github.com/hnpulse/hnpulse/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply any pending schema migrations to the configured database.

"hnpulse serve" runs migrations automatically on startup; this command is
for applying them out of band, e.g. before a deploy.`,
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validating config: %w", err)
		}
		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
