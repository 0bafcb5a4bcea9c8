package handlers

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Virgo-Alpha/sentinel/internal/email"
)

// NewQueueCmd creates the review queue listing command
func NewQueueCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List the review queue ordered by priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			queue, err := a.facade.ReviewQueue(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				cmd.Println("Review queue is empty.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "PRIORITY\tLABEL\tARTICLE\tREASON\tTITLE")
			for _, article := range queue {
				reason := ""
				if article.Escalation != nil {
					reason = article.Escalation.Reason
				}
				fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\t%s\n",
					article.PriorityScore,
					email.PriorityLabel(article.PriorityScore),
					article.ID, reason, article.Title)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 25, "maximum queue entries to show")
	return cmd
}
