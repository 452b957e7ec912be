package cmd

import (
	"github.com/spf13/cobra"

	"recorder-agent/config"
	server2 "recorder-agent/server"
)

func agent(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "start recording agent",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunAgent(config)
		},
	}
}
