package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"stream-orchestrator/config"
	"stream-orchestrator/repository"
)

func migrate(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the session tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.DB == nil {
				return errors.New("postgresql_host is not configured")
			}
			return repository.Migrate(cmd.Context(), config.DB)
		},
	}
}
