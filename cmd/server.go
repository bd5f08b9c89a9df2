package cmd

import (
	"github.com/spf13/cobra"
	"stream-orchestrator/config"
	server2 "stream-orchestrator/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server, webhook consumers and the poller",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
