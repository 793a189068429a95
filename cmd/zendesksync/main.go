package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "zendesksync",
		Short: "Synchronize forum topics with Zendesk tickets",
		Long: `zendesksync pushes forum posts in enabled categories to Zendesk as tickets and
comments, and posts public Zendesk comments back to the forum through a webhook.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (default ./configs/config.yaml)")

	rootCmd.AddCommand(
		newServeCommand(),
		newPushCommand(),
		newCreateTicketCommand(),
		newMoveCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
