package cmd

import (
	"github.com/spf13/cobra"
	"restream/config"
	server2 "restream/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server, health monitor and announcement consumer",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
