package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"restream/config"
	"restream/constant"
	"restream/repository"
	server2 "restream/server"
)

func migrate(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create tables and the single-active-session index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := server2.SetupLogger(config)
			repo, err := repository.NewRepo(config.DB, config.App.Environment == constant.EnvironmentDevelop.String())
			if err != nil {
				return err
			}
			if err := repo.Migrate(ctx); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("migration failed")
				return err
			}
			zerolog.Ctx(ctx).Info().Msg("migration complete")
			return nil
		},
	}
}
