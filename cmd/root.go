package cmd

import (
	"github.com/spf13/cobra"
	"restream/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "restream",
		Short: "live stream republishing and reconciliation service",
	}
	rootCmd.AddCommand(server(config), migrate(config), sync(config))
	return rootCmd
}
