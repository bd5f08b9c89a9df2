package cmd

import (
	"github.com/spf13/cobra"
	"stream-orchestrator/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stream-orchestrator",
		Short: "orchestrates live stream sessions across ingest providers",
	}
	rootCmd.AddCommand(server(config), migrate(config), reconcile(config))
	return rootCmd
}
