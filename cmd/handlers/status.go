package handlers

import (
	"github.com/spf13/cobra"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

// NewStatusCmd creates the pipeline status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-state article counts and the review queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			status, err := a.facade.Status(cmd.Context())
			if err != nil {
				return err
			}

			for _, state := range []core.ArticleState{
				core.StateIngested, core.StateProcessed, core.StatePublished,
				core.StateReview, core.StateArchived,
			} {
				cmd.Printf("%-10s %d\n", state, status.Counts[state])
			}
			cmd.Printf("\nReview queue depth: %d\n", status.QueueDepth)
			return nil
		},
	}
}
