package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkdir700/pi-team/sdk/go/teamguard"
)

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentEnvCmd)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Agent-side helpers",
}

var agentEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "Print shell exports for the discovered daemon",
	Long:  "Resolves the runtime through discovery and prints export lines suitable\nfor eval in a shell, so child processes inherit the daemon coordinates.",
	RunE:  runAgentEnv,
}

func runAgentEnv(cmd *cobra.Command, args []string) error {
	disc := teamguard.Discover()
	if !disc.Complete() {
		fmt.Fprintln(os.Stderr, "no running daemon discovered")
		os.Exit(1)
	}

	fmt.Printf("export TEAMD_URL=%s\n", disc.URL)
	fmt.Printf("export TEAMD_TOKEN=%s\n", disc.Token)
	fmt.Printf("export TEAM_ID=%s\n", disc.Team)
	fmt.Printf("export AGENT_ID=%s\n", disc.Agent)
	return nil
}
