package cmd

import (
	"github.com/bandpassrecords/scgate/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gate server",
	Long:  `Start the HTTP server that renders gates, runs the SoundCloud OAuth flow and serves gated downloads.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
