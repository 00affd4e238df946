package teamguard

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkdir700/pi-team/internal/model"
)

// Guard-side deny reasons, produced without reaching the daemon.
const (
	ReasonNoDiscovery = "missing_teamd_discovery"
	ReasonCheckFailed = "can_write_check_failed"
)

// guardedTools are the file-mutating tools the guard intercepts. Every
// other tool passes untouched.
var guardedTools = map[string]bool{
	"write": true,
	"edit":  true,
	"bash":  true,
}

// CheckWrite probes the daemon for permission to mutate path. It never
// returns an error: any failure, including missing discovery, comes
// back as a deny.
func (c *Client) CheckWrite(ctx context.Context, path string) model.CanWriteResult {
	if !c.Discovery().Complete() {
		return model.CanWriteResult{Reason: ReasonNoDiscovery}
	}
	res, err := c.CanWrite(ctx, path)
	if err != nil {
		return model.CanWriteResult{Reason: ReasonCheckFailed}
	}
	return res
}

// CheckTool gates a tool invocation before the host executes it.
// Returns nil when the call may proceed and a *BlockedError when it
// must not. Tool names are matched case-insensitively.
func (c *Client) CheckTool(ctx context.Context, tool string, params map[string]any) error {
	name := strings.ToLower(tool)
	if !guardedTools[name] {
		return nil
	}
	path := toolPath(name, params)
	if !c.cfg.interactive {
		return &BlockedError{
			Tool:   name,
			Path:   path,
			Reason: "no interactive surface available; file mutations are blocked",
		}
	}
	res := c.CheckWrite(ctx, path)
	if res.Allow {
		return nil
	}
	return &BlockedError{Tool: name, Path: path, Reason: blockReason(res.Reason, path)}
}

// toolPath extracts the mutation target from tool parameters. Write
// and edit carry a file path; bash defaults to the working directory.
func toolPath(tool string, params map[string]any) string {
	if tool == "bash" {
		if p, ok := params["path"].(string); ok && p != "" {
			return p
		}
		return "."
	}
	if p, ok := params["file_path"].(string); ok && p != "" {
		return p
	}
	if p, ok := params["path"].(string); ok && p != "" {
		return p
	}
	return "."
}

func blockReason(reason, path string) string {
	switch reason {
	case model.ReasonNoLease:
		return fmt.Sprintf("no active task lease covers %q; claim a task that leases it first", path)
	case model.ReasonPathTraversal:
		return fmt.Sprintf("path %q escapes the workspace", path)
	case model.ReasonInvalidPath:
		return fmt.Sprintf("path %q cannot be checked", path)
	case ReasonNoDiscovery:
		return "no running daemon discovered; file mutations are blocked"
	case ReasonCheckFailed:
		return "lease check failed; file mutations are blocked"
	default:
		return reason
	}
}
