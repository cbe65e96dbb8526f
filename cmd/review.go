package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sales-agent/pkg/notion"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Manual review queue operations",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads awaiting manual review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Notion.Token == "" {
			return eris.New("notion token is required (SALESAGENT_NOTION_TOKEN)")
		}
		if cfg.Notion.ReviewDB == "" {
			return eris.New("notion review DB ID is required (SALESAGENT_NOTION_REVIEW_DB)")
		}

		queue := notion.NewReviewQueue(notion.NewClient(cfg.Notion.Token), cfg.Notion.ReviewDB)
		entries, err := queue.PendingReviews(ctx)
		if err != nil {
			return eris.Wrap(err, "list pending reviews")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

func init() {
	reviewCmd.AddCommand(reviewListCmd)
	rootCmd.AddCommand(reviewCmd)
}
