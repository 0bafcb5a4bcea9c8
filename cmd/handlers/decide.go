package handlers

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Virgo-Alpha/sentinel/internal/decision"
)

// NewDecideCmd creates the reviewer decision command
func NewDecideCmd() *cobra.Command {
	var reviewer, rationale, batchFile string

	cmd := &cobra.Command{
		Use:   "decide [article-id] [approve|reject|edit|escalate]",
		Short: "Apply a reviewer decision to an article in the review queue",
		Long: `Apply one reviewer decision, or a batch of decisions from a JSON file.

The batch file is a JSON array of decision objects:
  [{"article_id": "...", "decision": "approve", "reviewer": "alice"}]

Examples:
  sentinel decide 3f2a... approve --reviewer alice
  sentinel decide 3f2a... reject --reviewer bob --rationale "vendor marketing"
  sentinel decide --batch decisions.json`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if batchFile != "" {
				data, err := os.ReadFile(batchFile)
				if err != nil {
					return fmt.Errorf("failed to read batch file: %w", err)
				}
				var reqs []decision.Request
				if err := json.Unmarshal(data, &reqs); err != nil {
					return fmt.Errorf("failed to parse batch file: %w", err)
				}
				result := a.processor.ProcessBatch(cmd.Context(), reqs)
				for _, r := range result.Results {
					if r.Err != nil {
						cmd.Printf("%s: FAILED: %v\n", r.ArticleID, r.Err)
					} else {
						cmd.Printf("%s: %s -> %s\n", r.ArticleID, r.PrevState, r.NewState)
					}
				}
				cmd.Printf("succeeded=%d failed=%d\n", result.Succeeded, result.Failed)
				return nil
			}

			if len(args) != 2 {
				return fmt.Errorf("article id and decision are required (or use --batch)")
			}
			if reviewer == "" {
				return fmt.Errorf("--reviewer is required")
			}

			result, err := a.processor.Process(cmd.Context(), decision.Request{
				ArticleID: args[0],
				Decision:  decision.Kind(args[1]),
				Reviewer:  reviewer,
				Rationale: rationale,
			})
			if err != nil {
				return err
			}
			cmd.Printf("%s: %s -> %s (decision %s)\n",
				result.ArticleID, result.PrevState, result.NewState, result.DecisionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer applying the decision")
	cmd.Flags().StringVar(&rationale, "rationale", "", "free-form decision rationale")
	cmd.Flags().StringVar(&batchFile, "batch", "", "JSON file with a batch of decisions")
	return cmd
}
