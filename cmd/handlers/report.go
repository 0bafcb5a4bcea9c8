package handlers

import (
	"github.com/spf13/cobra"
)

// NewReportCmd creates the markdown report command
func NewReportCmd() *cobra.Command {
	var publishedLimit, queueLimit int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export a markdown triage report to the artifacts bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			key, err := a.facade.Report(cmd.Context(), publishedLimit, queueLimit)
			if err != nil {
				return err
			}
			cmd.Printf("Report written to artifacts/%s\n", key)
			return nil
		},
	}

	cmd.Flags().IntVar(&publishedLimit, "published", 20, "published articles to include")
	cmd.Flags().IntVar(&queueLimit, "queue", 25, "review queue entries to include")
	return cmd
}
