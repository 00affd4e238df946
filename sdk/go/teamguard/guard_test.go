package teamguard

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func requireBlocked(t *testing.T, err error) *BlockedError {
	t.Helper()
	if err == nil {
		t.Fatal("expected a blocked error, got nil")
	}
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected *BlockedError, got %T: %v", err, err)
	}
	return blocked
}

func TestCheckToolPassesUnguardedTools(t *testing.T) {
	clearDiscoveryEnv(t)
	c, err := New(WithWorkspaceRoot(t.TempDir()))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	for _, tool := range []string{"read", "glob", "grep", "web_fetch"} {
		if err := c.CheckTool(context.Background(), tool, nil); err != nil {
			t.Errorf("expected %s to pass, got %v", tool, err)
		}
	}
}

func TestCheckToolBlocksWithoutDiscovery(t *testing.T) {
	clearDiscoveryEnv(t)
	c, err := New(WithWorkspaceRoot(t.TempDir()))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	res := c.CheckWrite(context.Background(), "src/main.go")
	if res.Allow {
		t.Fatal("expected deny without discovery")
	}
	if res.Reason != ReasonNoDiscovery {
		t.Errorf("expected %s, got %q", ReasonNoDiscovery, res.Reason)
	}

	blocked := requireBlocked(t, c.CheckTool(context.Background(), "write", map[string]any{"file_path": "src/main.go"}))
	if !strings.Contains(blocked.Reason, "daemon") {
		t.Errorf("expected reason to mention the missing daemon, got %q", blocked.Reason)
	}
}

func TestCheckToolBlocksWithoutLease(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, "worker_a")
	seedTeam(t, c)

	blocked := requireBlocked(t, c.CheckTool(context.Background(), "edit", map[string]any{"file_path": "src/api/main.go"}))
	if !strings.Contains(blocked.Reason, "lease") {
		t.Errorf("expected reason to mention the missing lease, got %q", blocked.Reason)
	}
	if blocked.Tool != "edit" || blocked.Path != "src/api/main.go" {
		t.Errorf("expected blocked edit on src/api/main.go, got %+v", blocked)
	}
}

func TestCheckToolAllowsLeasedPath(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, "worker_a")
	seedTeam(t, c)
	ctx := context.Background()

	task, _, err := c.CreateTask(ctx, CreateTaskRequest{Title: "api work", Resources: []string{"src/api"}})
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if _, _, err := c.ClaimTask(ctx, task.ID, 0); err != nil {
		t.Fatalf("failed to claim task: %v", err)
	}

	if err := c.CheckTool(ctx, "edit", map[string]any{"file_path": "src/api/handler.go"}); err != nil {
		t.Errorf("expected leased edit to pass, got %v", err)
	}
	if err := c.CheckTool(ctx, "Write", map[string]any{"file_path": "src/api/new.go"}); err != nil {
		t.Errorf("expected tool matching to be case-insensitive, got %v", err)
	}
	if err := c.CheckTool(ctx, "bash", map[string]any{"path": "src/api"}); err != nil {
		t.Errorf("expected bash in leased dir to pass, got %v", err)
	}
}

func TestCheckToolBashDefaultsToDot(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, "worker_a")
	seedTeam(t, c)

	blocked := requireBlocked(t, c.CheckTool(context.Background(), "bash", nil))
	if blocked.Path != "." {
		t.Errorf("expected bash to default to \".\", got %q", blocked.Path)
	}
	if !strings.Contains(blocked.Reason, "lease") {
		t.Errorf("expected reason to mention the missing lease, got %q", blocked.Reason)
	}
}

func TestNonInteractiveBlocksUnconditionally(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, "worker_a", WithInteractive(false))
	seedTeam(t, c)
	ctx := context.Background()

	task, _, err := c.CreateTask(ctx, CreateTaskRequest{Title: "api work", Resources: []string{"src/api"}})
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if _, _, err := c.ClaimTask(ctx, task.ID, 0); err != nil {
		t.Fatalf("failed to claim task: %v", err)
	}

	// Even a leased path stays blocked without an interactive surface.
	blocked := requireBlocked(t, c.CheckTool(ctx, "edit", map[string]any{"file_path": "src/api/handler.go"}))
	if !strings.Contains(blocked.Reason, "interactive") {
		t.Errorf("expected reason to mention the interactive surface, got %q", blocked.Reason)
	}

	if err := c.CheckTool(ctx, "read", nil); err != nil {
		t.Errorf("expected unguarded tools to pass even non-interactively, got %v", err)
	}
}

func TestCheckWriteFailsClosedOnTransportError(t *testing.T) {
	clearDiscoveryEnv(t)
	c, err := New(
		WithBaseURL("http://127.0.0.1:1"),
		WithToken("tok"),
		WithTeam("demo"),
		WithAgent("worker_a"),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	res := c.CheckWrite(context.Background(), "src/main.go")
	if res.Allow {
		t.Fatal("expected deny on transport failure")
	}
	if res.Reason != ReasonCheckFailed {
		t.Errorf("expected %s, got %q", ReasonCheckFailed, res.Reason)
	}
}
