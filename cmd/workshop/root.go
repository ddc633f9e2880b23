package main

import (
	"os"

	"github.com/spf13/cobra"

	"santa-workshop/internal/config"
	"santa-workshop/internal/observability"
)

// NewRootCmd builds the workshop command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "workshop",
		Short:         "Santa's Workshop chat backend",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			cfg := config.Load()
			observability.Setup(os.Stderr, cfg.LogFormat, cfg.LogLevel)
		},
	}
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewLambdaCmd())
	rootCmd.AddCommand(NewExtractCmd())
	return rootCmd
}
