package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"stream-orchestrator/config"
	server2 "stream-orchestrator/server"
)

func reconcile(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "run one poll pass over live, ending and due sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
			ctx := logger.WithContext(cmd.Context())

			app, err := server2.NewApp(ctx, config)
			if err != nil {
				return err
			}
			defer app.Close()

			polled, err := app.Service.Reconciler.PollActive(ctx)
			if err != nil {
				return err
			}
			logger.Info().Int("sessions", polled).Msg("reconciliation pass finished")
			return nil
		},
	}
}
