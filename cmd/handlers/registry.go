package handlers

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Virgo-Alpha/sentinel/internal/config"
	"github.com/Virgo-Alpha/sentinel/internal/registry"
)

// NewRegistryCmd creates the registry inspection command
func NewRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and validate the feed and keyword registry",
	}

	cmd.AddCommand(newRegistryValidateCmd())
	cmd.AddCommand(newRegistryFeedsCmd())
	return cmd
}

func newRegistryValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the registry YAML files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			reg, err := registry.Load(cfg.Registry.FeedsPath, cfg.Registry.KeywordsPath)
			if err != nil {
				return err
			}
			cmd.Printf("Registry OK: %d feeds (%d enabled), %d watchlist terms\n",
				len(reg.Feeds.Feeds), len(reg.EnabledFeeds()), len(reg.Entries()))
			return nil
		},
	}
}

func newRegistryFeedsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List configured feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			reg, err := registry.Load(cfg.Registry.FeedsPath, cfg.Registry.KeywordsPath)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "NAME\tCATEGORY\tENABLED\tINTERVAL\tURL")
			for _, feed := range reg.Feeds.Feeds {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
					feed.Name, feed.Category, feed.Enabled, feed.FetchInterval, feed.URL)
			}
			return nil
		},
	}
}
