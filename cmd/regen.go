package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hnpulse/hnpulse/internal/worker"
)

var (
	regenType  string
	regenLimit int
	regenSince string
	regenUntil string
)

var regenCmd = &cobra.Command{
	Use:   "regen",
	Short: "Re-run analysis for records behind the current schema version",
	Long: `Re-run structured extraction and embedding for stored records whose
analysis version differs from the current one (including records that were
never analyzed, e.g. after an analysis failure).

The run is synchronous and prints a JSON result when done. A running serve
instance exposes the same operation as POST /api/regenerate.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req := worker.RegenRequest{Type: regenType, Limit: regenLimit}
		var err error
		if req.Since, err = parseTimeFlag(regenSince); err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}
		if req.Until, err = parseTimeFlag(regenUntil); err != nil {
			return fmt.Errorf("parsing --until: %w", err)
		}
		switch req.Type {
		case "", "all", "stories", "comments":
		default:
			return fmt.Errorf("--type must be one of stories, comments, all")
		}

		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		w := worker.New(worker.Config{}, nil, a.analyzer, a.store, a.index, worker.NewState(), nil, a.logger)
		res, err := w.Regenerate(ctx, req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func parseTimeFlag(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func init() {
	regenCmd.Flags().StringVar(&regenType, "type", "all", "what to regenerate: stories, comments, all")
	regenCmd.Flags().IntVar(&regenLimit, "limit", 0, "cap on items examined (0 = no cap)")
	regenCmd.Flags().StringVar(&regenSince, "since", "", "only records posted at or after this RFC3339 time")
	regenCmd.Flags().StringVar(&regenUntil, "until", "", "only records posted before this RFC3339 time")
	rootCmd.AddCommand(regenCmd)
}
