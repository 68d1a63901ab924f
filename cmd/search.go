package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchType  string
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over analyzed stories and comments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		query := strings.Join(args, " ")

		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		s := a.searcher()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		switch searchType {
		case "stories":
			hits, err := s.SearchStories(ctx, query, searchLimit)
			if err != nil {
				return err
			}
			return enc.Encode(hits)
		case "comments":
			hits, err := s.SearchComments(ctx, query, searchLimit)
			if err != nil {
				return err
			}
			return enc.Encode(hits)
		default:
			return fmt.Errorf("--type must be stories or comments")
		}
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchType, "type", "stories", "collection to search: stories or comments")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}
