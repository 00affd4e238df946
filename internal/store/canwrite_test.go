package store

import (
	"context"
	"testing"
	"time"

	"github.com/mkdir700/pi-team/internal/model"
)

func TestCanWriteWithLease(t *testing.T) {
	s := newTestStore(t)
	team := newTestTeam(t, s)
	ctx := context.Background()

	task := newTestTask(t, s, team, CreateTaskInput{
		Title:     "guarded work",
		Resources: []string{"src/api", "docs/guide.md"},
	})
	if _, err := s.ClaimTask(ctx, team, task.ID, "worker_a", time.Minute); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}

	tests := []struct {
		name   string
		path   string
		allow  bool
		reason string
	}{
		{"exact resource", "src/api", true, model.ReasonLeaseActive},
		{"child of resource", "src/api/handler.go", true, model.ReasonLeaseActive},
		{"deep child", "src/api/v2/routes.go", true, model.ReasonLeaseActive},
		{"exact file resource", "docs/guide.md", true, model.ReasonLeaseActive},
		{"sibling prefix", "src/apiserver.go", false, model.ReasonNoLease},
		{"parent of resource", "src", false, model.ReasonNoLease},
		{"unrelated", "README.md", false, model.ReasonNoLease},
		{"workspace root", ".", false, model.ReasonNoLease},
		{"unnormalized child", "./src/api/handler.go", true, model.ReasonLeaseActive},
		{"backslash child", "src\\api\\handler.go", true, model.ReasonLeaseActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.CanWrite(team, "worker_a", tt.path)
			if err != nil {
				t.Fatalf("CanWrite failed: %v", err)
			}
			if res.Allow != tt.allow || res.Reason != tt.reason {
				t.Errorf("expected allow=%v reason=%s, got allow=%v reason=%s",
					tt.allow, tt.reason, res.Allow, res.Reason)
			}
		})
	}
}

func TestCanWriteDeniesWithoutLease(t *testing.T) {
	s := newTestStore(t)
	team := newTestTeam(t, s)
	ctx := context.Background()

	task := newTestTask(t, s, team, CreateTaskInput{
		Title:     "held elsewhere",
		Resources: []string{"src"},
	})
	if _, err := s.ClaimTask(ctx, team, task.ID, "worker_a", time.Minute); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}

	res, err := s.CanWrite(team, "worker_b", "src/main.go")
	if err != nil {
		t.Fatalf("CanWrite failed: %v", err)
	}
	if res.Allow || res.Reason != model.ReasonNoLease {
		t.Errorf("expected denial for non-holder, got %+v", res)
	}
}

func TestCanWriteDeniesExpiredLease(t *testing.T) {
	s := newTestStore(t)
	team := newTestTeam(t, s)
	ctx := context.Background()

	task := newTestTask(t, s, team, CreateTaskInput{
		Title:     "stale",
		Resources: []string{"src"},
	})
	if _, err := s.ClaimTask(ctx, team, task.ID, "worker_a", 25*time.Millisecond); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	res, err := s.CanWrite(team, "worker_a", "src/main.go")
	if err != nil {
		t.Fatalf("CanWrite failed: %v", err)
	}
	if res.Allow || res.Reason != model.ReasonNoLease {
		t.Errorf("expected denial on expired lease, got %+v", res)
	}
}

func TestCanWritePathPolicing(t *testing.T) {
	s := newTestStore(t)
	team := newTestTeam(t, s)

	tests := []struct {
		name   string
		path   string
		reason string
	}{
		{"empty", "", model.ReasonInvalidPath},
		{"blank", "   ", model.ReasonInvalidPath},
		{"absolute", "/etc/passwd", model.ReasonPathTraversal},
		{"dotdot", "../outside", model.ReasonPathTraversal},
		{"hidden dotdot", "src/../../outside", model.ReasonPathTraversal},
		{"backslash dotdot", "..\\outside", model.ReasonPathTraversal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.CanWrite(team, "worker_a", tt.path)
			if err != nil {
				t.Fatalf("CanWrite failed: %v", err)
			}
			if res.Allow {
				t.Fatal("expected denial")
			}
			if res.Reason != tt.reason {
				t.Errorf("expected reason %s, got %s", tt.reason, res.Reason)
			}
		})
	}
}

func TestCanWriteErrors(t *testing.T) {
	s := newTestStore(t)
	team := newTestTeam(t, s)

	_, err := s.CanWrite(team, "no spaces allowed", "src/x.go")
	wantCode(t, err, model.CodeInvalidAgentID)

	_, err = s.CanWrite("ghost-team", "worker_a", "src/x.go")
	wantCode(t, err, model.CodeTeamNotFound)
}
