// Package mcp exposes the daemon's coordination surface as MCP tools
// over stdio. Every tool call goes through the loopback HTTP API via
// the teamguard client; the store is never touched directly.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mkdir700/pi-team/internal/model"
	"github.com/mkdir700/pi-team/sdk/go/teamguard"
)

// Config holds MCP server configuration. Empty fields fall back to the
// teamguard discovery chain.
type Config struct {
	WorkspaceRoot string
	Team          string
	Agent         string
	URL           string
	Token         string
}

// Server wraps the MCP SDK server around a teamd client.
type Server struct {
	mcpServer *mcpsdk.Server
	client    *teamguard.Client
}

// New creates an MCP server talking to a discovered or configured daemon.
func New(cfg Config) (*Server, error) {
	var opts []teamguard.Option
	if cfg.WorkspaceRoot != "" {
		opts = append(opts, teamguard.WithWorkspaceRoot(cfg.WorkspaceRoot))
	}
	if cfg.Team != "" {
		opts = append(opts, teamguard.WithTeam(cfg.Team))
	}
	if cfg.Agent != "" {
		opts = append(opts, teamguard.WithAgent(cfg.Agent))
	}
	if cfg.URL != "" {
		opts = append(opts, teamguard.WithBaseURL(cfg.URL))
	}
	if cfg.Token != "" {
		opts = append(opts, teamguard.WithToken(cfg.Token))
	}

	client, err := teamguard.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create teamd client: %w", err)
	}

	s := &Server{client: client}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "teamd",
			Version: model.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds the coordination tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "team_status",
		Description: "Show the discovered team: roster, daemon health and task counts by status.",
	}, s.handleTeamStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "task_list",
		Description: "List the team's tasks with status, owner and lease state.",
	}, s.handleTaskList)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "task_create",
		Description: "Create a task. Pass an idempotency key to make retries safe.",
	}, s.handleTaskCreate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "task_claim",
		Description: "Claim a pending task and take its lease. Fails while dependencies are incomplete or another agent holds it.",
	}, s.handleTaskClaim)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "task_complete",
		Description: "Complete a task whose lease you hold, unblocking its dependents.",
	}, s.handleTaskComplete)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "task_fail",
		Description: "Mark a task whose lease you hold as failed.",
	}, s.handleTaskFail)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "thread_start",
		Description: "Start a discussion thread, optionally linked to a task.",
	}, s.handleThreadStart)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "thread_post",
		Description: "Post a message to a thread. Participants are notified through their inboxes.",
	}, s.handleThreadPost)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "inbox_fetch",
		Description: "Fetch inbox events after a cursor. Returns the next cursor to poll from.",
	}, s.handleInboxFetch)
}
