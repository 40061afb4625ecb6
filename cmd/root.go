package cmd

import (
	"fmt"
	"os"

	"github.com/bandpassrecords/scgate/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scgate",
	Short: "scgate serves engagement-gated file downloads for SoundCloud tracks.",
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
