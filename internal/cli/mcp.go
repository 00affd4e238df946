package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	teammcp "github.com/mkdir700/pi-team/internal/mcp"
)

var (
	mcpRoot  string
	mcpTeam  string
	mcpAgent string
	mcpURL   string
	mcpToken string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpRoot, "root", "", "Workspace root for runtime discovery")
	mcpCmd.Flags().StringVar(&mcpTeam, "team", "", "Team ID (discovered when empty)")
	mcpCmd.Flags().StringVar(&mcpAgent, "agent", "", "Agent ID (synthesized when empty)")
	mcpCmd.Flags().StringVar(&mcpURL, "url", "", "Daemon URL (discovered when empty)")
	mcpCmd.Flags().StringVar(&mcpToken, "token", "", "Bearer token (discovered when empty)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs teamd as an MCP (Model Context Protocol) server over stdio.\nExposes the coordination surface as tools: team status, task lifecycle,\nthreads and inbox. All calls go through the daemon's HTTP API.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	srv, err := teammcp.New(teammcp.Config{
		WorkspaceRoot: mcpRoot,
		Team:          mcpTeam,
		Agent:         mcpAgent,
		URL:           mcpURL,
		Token:         mcpToken,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "teamd MCP server running on stdio")
	fmt.Fprintln(os.Stderr)

	return srv.Run(ctx)
}
