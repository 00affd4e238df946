package teamguard

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mkdir700/pi-team/internal/model"
)

func TestSummarizeTaskEvent(t *testing.T) {
	ev := model.InboxEvent{Type: model.EventTaskCompleted, TaskID: "task-0001", Actor: "worker_a"}
	want := "INBOX: task_completed task-0001 by worker_a"
	if got := Summarize(ev); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestSummarizeThreadEvent(t *testing.T) {
	ev := model.InboxEvent{Type: model.EventThreadMessage, ThreadID: "thread-0001", Actor: "worker_b"}
	want := "INBOX: thread_message thread-0001 by worker_b"
	if got := Summarize(ev); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestSummarizeNeverForwardsContent(t *testing.T) {
	ev := model.InboxEvent{
		Type:     model.EventThreadMessage,
		ThreadID: "thread-0001",
		Actor:    "worker_b",
		Summary:  "secret plan",
		Content:  "the full secret plan\nwith two lines",
	}
	got := Summarize(ev)
	if strings.Contains(got, "secret") {
		t.Errorf("expected content to stay out of the steering line, got %q", got)
	}
	if strings.ContainsAny(got, "\n\r") {
		t.Errorf("expected a single line, got %q", got)
	}
}

func TestSummarizeTruncates(t *testing.T) {
	ev := model.InboxEvent{
		Type:   strings.Repeat("x", 200),
		TaskID: "task-0001",
		Actor:  "worker_a",
	}
	got := Summarize(ev)
	if len(got) > summaryMaxBytes {
		t.Errorf("expected at most %d bytes, got %d", summaryMaxBytes, len(got))
	}
}

func TestPollerEmitsAndAdvances(t *testing.T) {
	h := newHarness(t)
	a := h.client(t, "worker_a")
	seedTeam(t, a)
	ctx := context.Background()

	task, _, err := a.CreateTask(ctx, CreateTaskRequest{Title: "index rebuild"})
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	_, lease, err := a.ClaimTask(ctx, task.ID, 0)
	if err != nil {
		t.Fatalf("failed to claim task: %v", err)
	}
	if _, err := a.CompleteTask(ctx, task.ID, lease.Epoch); err != nil {
		t.Fatalf("failed to complete task: %v", err)
	}

	lines := make(chan string, 16)
	b := h.client(t, "worker_b")
	poller := NewPoller(b, 10*time.Millisecond, 0, func(line string) { lines <- line })

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = poller.Run(pollCtx)
	}()

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case line := <-lines:
			got = append(got, line)
		case <-deadline:
			t.Fatalf("timed out waiting for steering lines, got %v", got)
		}
	}
	cancel()
	<-done

	for _, line := range got {
		if !strings.HasPrefix(line, "INBOX: ") {
			t.Errorf("expected INBOX prefix, got %q", line)
		}
	}
	if !strings.Contains(got[0], model.EventTaskClaimed) {
		t.Errorf("expected first line to report the claim, got %q", got[0])
	}
	if poller.Since() < 2 {
		t.Errorf("expected cursor to advance past both events, got %d", poller.Since())
	}
}
