package handlers

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Virgo-Alpha/sentinel/internal/pipeline"
)

// NewIngestCmd creates the feed ingestion command
func NewIngestCmd() *cobra.Command {
	var since string
	var all bool

	cmd := &cobra.Command{
		Use:   "ingest [feed-name]",
		Short: "Fetch a feed and run every new article through the triage pipeline",
		Long: `Fetch one configured feed (or all enabled feeds with --all) and process
each new article: relevance scoring, duplicate detection, guardrail
validation, and triage. Articles are published, queued for review, or
dropped according to the decision table.

Examples:
  sentinel ingest bleeping-computer
  sentinel ingest --all
  sentinel ingest hacker-news --since 2026-08-20T00:00:00Z`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("either a feed name or --all is required")
			}

			var sinceTime time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since value %q: %w", since, err)
				}
				sinceTime = t
			}

			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			feedNames := args
			if all {
				feedNames = nil
				for _, feed := range a.registry.EnabledFeeds() {
					feedNames = append(feedNames, feed.Name)
				}
			}

			for _, name := range feedNames {
				summary, err := a.orchestrator.Run(cmd.Context(), name, sinceTime)
				if err != nil {
					return err
				}
				printSummary(cmd, summary)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "only process articles published after this RFC3339 timestamp")
	cmd.Flags().BoolVar(&all, "all", false, "ingest every enabled feed")
	return cmd
}

func printSummary(cmd *cobra.Command, s *pipeline.Summary) {
	cmd.Printf("%s: fetched=%d published=%d review=%d dropped=%d skipped=%d failed=%d\n",
		s.FeedID, s.Fetched, s.Published, s.Reviewed, s.Dropped, s.Skipped, s.Failed)
}
