package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "teamd",
	Short: "File-backed coordination daemon for agent teams",
	Long:  "Runs a per-team daemon that owns task leases, threads and inboxes on disk.\nAgents talk to it over a loopback HTTP API; the guard SDK blocks file\nmutations that no active lease covers.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
