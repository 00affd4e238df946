package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mkdir700/pi-team/internal/model"
)

func TestTaskEventFanOut(t *testing.T) {
	s := newTestStore(t)
	team := newTestTeam(t, s)
	ctx := context.Background()

	task := newTestTask(t, s, team, CreateTaskInput{Title: "observable"})
	if _, err := s.ClaimTask(ctx, team, task.ID, "worker_a", time.Minute); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}

	// Task state changes broadcast to every known agent, actor included.
	for _, agent := range []string{"worker_a", "worker_b"} {
		events, next, err := s.FetchInbox(team, agent, 0)
		if err != nil {
			t.Fatalf("FetchInbox(%s) failed: %v", agent, err)
		}
		if len(events) != 1 {
			t.Fatalf("expected 1 event for %s, got %d", agent, len(events))
		}
		if events[0].Type != model.EventTaskClaimed {
			t.Errorf("expected task_claimed, got %s", events[0].Type)
		}
		if events[0].Cursor != 1 {
			t.Errorf("expected cursor 1, got %d", events[0].Cursor)
		}
		if next != 1 {
			t.Errorf("expected nextSince 1, got %d", next)
		}
	}
}

func TestTaskEventSummaryWording(t *testing.T) {
	s := newTestStore(t)
	team := newTestTeam(t, s)
	ctx := context.Background()

	task := newTestTask(t, s, team, CreateTaskInput{Title: "worded"})
	claimed, _ := s.ClaimTask(ctx, team, task.ID, "worker_a", time.Minute)
	if _, err := s.CompleteTask(ctx, team, task.ID, "worker_a", claimed.Epoch); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}

	events, _, err := s.FetchInbox(team, "worker_b", 0)
	if err != nil {
		t.Fatalf("FetchInbox failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	want := "Task task-0001 completed by worker_a"
	if events[1].Summary != want {
		t.Errorf("expected summary %q, got %q", want, events[1].Summary)
	}
	if events[1].Actor != "worker_a" {
		t.Errorf("expected actor worker_a, got %s", events[1].Actor)
	}
}

func TestThreadMessageFanOutExcludesAuthor(t *testing.T) {
	s := newTestStore(t)
	team := newTestTeam(t, s)
	ctx := context.Background()

	th := newTestThread(t, s, team, StartThreadInput{
		Title:        "fan out",
		Participants: []string{"worker_a", "worker_b"},
		Originator:   "worker_a",
	})
	body := "first line\nsecond line that should be flattened into the summary"
	if _, err := s.PostMessage(ctx, team, th.ID, "worker_a", body); err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}

	got, _, err := s.FetchInbox(team, "worker_b", 0)
	if err != nil {
		t.Fatalf("FetchInbox failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	ev := got[0]
	if ev.Type != model.EventThreadMessage || ev.ThreadID != th.ID {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Content != body {
		t.Errorf("expected full body in content, got %q", ev.Content)
	}
	if strings.ContainsAny(ev.Summary, "\n") {
		t.Errorf("summary must be one line, got %q", ev.Summary)
	}

	authorEvents, _, err := s.FetchInbox(team, "worker_a", 0)
	if err != nil {
		t.Fatalf("FetchInbox for author failed: %v", err)
	}
	if len(authorEvents) != 0 {
		t.Errorf("author must not receive their own message, got %+v", authorEvents)
	}
}

func TestFetchInboxSince(t *testing.T) {
	s := newTestStore(t)
	team := newTestTeam(t, s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		task := newTestTask(t, s, team, CreateTaskInput{Title: "n"})
		if _, err := s.ClaimTask(ctx, team, task.ID, "worker_a", time.Minute); err != nil {
			t.Fatalf("ClaimTask failed: %v", err)
		}
	}

	events, next, err := s.FetchInbox(team, "worker_b", 1)
	if err != nil {
		t.Fatalf("FetchInbox failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after cursor 1, got %d", len(events))
	}
	if events[0].Cursor != 2 || events[1].Cursor != 3 {
		t.Errorf("expected cursors 2,3, got %d,%d", events[0].Cursor, events[1].Cursor)
	}
	if next != 3 {
		t.Errorf("expected nextSince 3, got %d", next)
	}

	empty, next2, err := s.FetchInbox(team, "worker_b", next)
	if err != nil {
		t.Fatalf("FetchInbox at head failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no events at head, got %d", len(empty))
	}
	if next2 != next {
		t.Errorf("expected nextSince unchanged at head, got %d", next2)
	}
}

func TestFetchInboxValidation(t *testing.T) {
	s := newTestStore(t)
	team := newTestTeam(t, s)

	_, _, err := s.FetchInbox(team, "bad agent", 0)
	wantCode(t, err, model.CodeInvalidAgentID)

	// An agent with no inbox yet reads as empty.
	events, next, err := s.FetchInbox(team, "newcomer", 0)
	if err != nil {
		t.Fatalf("FetchInbox for fresh agent failed: %v", err)
	}
	if len(events) != 0 || next != 0 {
		t.Errorf("expected empty inbox, got %d events nextSince %d", len(events), next)
	}
}

func TestRebuildInboxes(t *testing.T) {
	s := newTestStore(t)
	team := newTestTeam(t, s)
	ctx := context.Background()

	task := newTestTask(t, s, team, CreateTaskInput{Title: "history"})
	claimed, _ := s.ClaimTask(ctx, team, task.ID, "worker_a", time.Minute)
	s.CompleteTask(ctx, team, task.ID, "worker_a", claimed.Epoch)
	th := newTestThread(t, s, team, StartThreadInput{
		Title:        "notes",
		Participants: []string{"worker_a", "worker_b"},
		Originator:   "worker_a",
	})
	if _, err := s.PostMessage(ctx, team, th.ID, "worker_a", "remember this"); err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}

	before, _, err := s.FetchInbox(team, "worker_b", 0)
	if err != nil {
		t.Fatalf("FetchInbox failed: %v", err)
	}

	// Wipe the cache and rebuild it from the audit log.
	inboxDir := filepath.Join(s.Root(), team, "inboxes")
	entries, err := os.ReadDir(inboxDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		os.Remove(filepath.Join(inboxDir, e.Name()))
	}
	if err := s.RebuildInboxes(ctx, team); err != nil {
		t.Fatalf("RebuildInboxes failed: %v", err)
	}

	after, _, err := s.FetchInbox(team, "worker_b", 0)
	if err != nil {
		t.Fatalf("FetchInbox after rebuild failed: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("expected %d events after rebuild, got %d", len(before), len(after))
	}
	for i := range after {
		if after[i].Type != before[i].Type || after[i].Summary != before[i].Summary {
			t.Errorf("event %d diverged: before %+v, after %+v", i, before[i], after[i])
		}
	}
	if after[0].Cursor != 1 {
		t.Errorf("expected cursors restarting at 1, got %d", after[0].Cursor)
	}
	last := after[len(after)-1]
	if last.Type != model.EventThreadMessage || last.Content != "remember this" {
		t.Errorf("expected rebuilt message content, got %+v", last)
	}
}
