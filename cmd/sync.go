package cmd

import (
	"context"
	"errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"restream/config"
	server2 "restream/server"
)

func sync(config *config.Config) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "synthesize the media server configuration and push it once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(server2.SetupLogger(config))
			defer cancel()

			app, err := server2.NewApp(ctx, config)
			if err != nil {
				return err
			}

			if dryRun {
				doc, err := app.Synthesizer.Synthesize(ctx)
				if err != nil {
					return err
				}
				zerolog.Ctx(ctx).Info().Int("rules", doc.RuleCount).Interface("rule_list", doc.RepublishRules.Rules).Msg("synthesized configuration")
				return nil
			}

			result, err := app.Synthesizer.Push(ctx)
			if err != nil {
				return err
			}
			if !result.Written {
				return errors.New("configuration not written: " + result.WriteError)
			}
			zerolog.Ctx(ctx).Info().
				Int("rules", result.Document.RuleCount).
				Bool("reloaded", result.Reloaded).
				Str("method", result.ReloadMethod).
				Msg("configuration pushed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only print the synthesized rules")
	return cmd
}
