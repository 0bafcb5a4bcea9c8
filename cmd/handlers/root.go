// Package handlers wires the CLI commands to the pipeline services.
package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Virgo-Alpha/sentinel/internal/config"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Sentinel triages cybersecurity news from RSS feeds into publish, review, and drop decisions.",
		Long: `Sentinel ingests security news feeds, scores each article against a
technology watchlist, detects duplicates across sources, validates content
against guardrails, and either publishes automatically, escalates to the
human review queue, or drops the article. Every state change is audited.`,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sentinel.yaml)")

	rootCmd.AddCommand(NewIngestCmd())
	rootCmd.AddCommand(NewDecideCmd())
	rootCmd.AddCommand(NewQueueCmd())
	rootCmd.AddCommand(NewReportCmd())
	rootCmd.AddCommand(NewRegistryCmd())
	rootCmd.AddCommand(NewStatusCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if _, err := config.Load(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}
