package mcp

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mkdir700/pi-team/internal/model"
	"github.com/mkdir700/pi-team/sdk/go/teamguard"
)

// --- Input/Output types ---

// TeamStatusInput is empty; the team comes from discovery.
type TeamStatusInput struct{}

// TeamStatusOutput describes the team and its daemon.
type TeamStatusOutput struct {
	ID         string         `json:"id,omitempty"`
	Agents     []model.Agent  `json:"agents,omitempty"`
	TaskCounts map[string]int `json:"task_counts,omitempty"`
	Health     string         `json:"health,omitempty"`
	Version    string         `json:"version,omitempty"`
	Code       string         `json:"code,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// TaskListInput is empty; scope comes from discovery.
type TaskListInput struct{}

// TaskListOutput lists the team's tasks.
type TaskListOutput struct {
	Tasks  []*model.Task `json:"tasks,omitempty"`
	Code   string        `json:"code,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// TaskCreateInput defines parameters for the task_create tool.
type TaskCreateInput struct {
	Title          string   `json:"title" jsonschema:"short task title"`
	Description    string   `json:"description,omitempty" jsonschema:"longer task description"`
	Dependencies   []string `json:"dependencies,omitempty" jsonschema:"task IDs that must complete first"`
	Resources      []string `json:"resources,omitempty" jsonschema:"workspace-relative path prefixes the task may write"`
	IdempotencyKey string   `json:"idempotency_key,omitempty" jsonschema:"key making retried creates return the original task"`
}

// TaskCreateOutput contains the created (or replayed) task.
type TaskCreateOutput struct {
	Task    *model.Task `json:"task,omitempty"`
	Created bool        `json:"created"`
	Code    string      `json:"code,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// TaskClaimInput defines parameters for the task_claim tool.
type TaskClaimInput struct {
	TaskID string `json:"task_id" jsonschema:"ID of the task to claim"`
	TTLMs  int64  `json:"ttl_ms,omitempty" jsonschema:"lease duration in milliseconds, daemon default when omitted"`
}

// TaskClaimOutput contains the claimed task and its lease.
type TaskClaimOutput struct {
	Task   *model.Task  `json:"task,omitempty"`
	Lease  *model.Lease `json:"lease,omitempty"`
	Code   string       `json:"code,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// TaskFinalizeInput defines parameters for task_complete and task_fail.
type TaskFinalizeInput struct {
	TaskID string `json:"task_id" jsonschema:"ID of the task to finalize"`
	Epoch  int64  `json:"epoch" jsonschema:"lease epoch returned by the claim"`
}

// TaskFinalizeOutput contains the finalized task.
type TaskFinalizeOutput struct {
	Task   *model.Task `json:"task,omitempty"`
	Code   string      `json:"code,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// ThreadStartInput defines parameters for the thread_start tool.
type ThreadStartInput struct {
	Title        string   `json:"title" jsonschema:"thread title"`
	Participants []string `json:"participants,omitempty" jsonschema:"agent IDs to notify, defaults to the whole roster"`
	TaskID       string   `json:"task_id,omitempty" jsonschema:"task to link the thread to"`
}

// ThreadStartOutput contains the new thread.
type ThreadStartOutput struct {
	Thread *model.Thread `json:"thread,omitempty"`
	Code   string        `json:"code,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// ThreadPostInput defines parameters for the thread_post tool.
type ThreadPostInput struct {
	ThreadID string `json:"thread_id" jsonschema:"thread to post into"`
	Body     string `json:"body" jsonschema:"message body"`
}

// ThreadPostOutput contains the appended message.
type ThreadPostOutput struct {
	Message *model.Message `json:"message,omitempty"`
	Code    string         `json:"code,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

// InboxFetchInput defines parameters for the inbox_fetch tool.
type InboxFetchInput struct {
	Since int64 `json:"since,omitempty" jsonschema:"cursor after which to fetch, 0 for everything"`
}

// InboxFetchOutput contains inbox events and the next poll cursor.
type InboxFetchOutput struct {
	Events []model.InboxEvent `json:"events,omitempty"`
	Next   int64              `json:"next"`
	Code   string             `json:"code,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

// apiCode unwraps a daemon API error into its code and message.
// Transport failures return ok=false and propagate as Go errors.
func apiCode(err error) (code, reason string, ok bool) {
	var apiErr *teamguard.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message, true
	}
	return "", "", false
}

// --- Handlers ---

func (s *Server) handleTeamStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input TeamStatusInput) (*mcpsdk.CallToolResult, TeamStatusOutput, error) {
	team, err := s.client.GetTeam(ctx)
	if err != nil {
		if code, reason, ok := apiCode(err); ok {
			return &mcpsdk.CallToolResult{IsError: true}, TeamStatusOutput{Code: code, Reason: reason}, nil
		}
		return nil, TeamStatusOutput{}, err
	}

	out := TeamStatusOutput{ID: team.ID, Agents: team.Agents}
	if h, err := s.client.Health(ctx); err == nil {
		out.Health = h.Status
		out.Version = h.Version
	}
	if tasks, err := s.client.ListTasks(ctx); err == nil {
		counts := make(map[string]int)
		for _, t := range tasks {
			counts[string(t.Status)]++
		}
		out.TaskCounts = counts
	}
	return nil, out, nil
}

func (s *Server) handleTaskList(ctx context.Context, req *mcpsdk.CallToolRequest, input TaskListInput) (*mcpsdk.CallToolResult, TaskListOutput, error) {
	tasks, err := s.client.ListTasks(ctx)
	if err != nil {
		if code, reason, ok := apiCode(err); ok {
			return &mcpsdk.CallToolResult{IsError: true}, TaskListOutput{Code: code, Reason: reason}, nil
		}
		return nil, TaskListOutput{}, err
	}
	return nil, TaskListOutput{Tasks: tasks}, nil
}

func (s *Server) handleTaskCreate(ctx context.Context, req *mcpsdk.CallToolRequest, input TaskCreateInput) (*mcpsdk.CallToolResult, TaskCreateOutput, error) {
	task, created, err := s.client.CreateTask(ctx, teamguard.CreateTaskRequest{
		Title:          input.Title,
		Description:    input.Description,
		Dependencies:   input.Dependencies,
		Resources:      input.Resources,
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		if code, reason, ok := apiCode(err); ok {
			return &mcpsdk.CallToolResult{IsError: true}, TaskCreateOutput{Code: code, Reason: reason}, nil
		}
		return nil, TaskCreateOutput{}, err
	}
	return nil, TaskCreateOutput{Task: task, Created: created}, nil
}

func (s *Server) handleTaskClaim(ctx context.Context, req *mcpsdk.CallToolRequest, input TaskClaimInput) (*mcpsdk.CallToolResult, TaskClaimOutput, error) {
	ttl := time.Duration(input.TTLMs) * time.Millisecond
	task, lease, err := s.client.ClaimTask(ctx, input.TaskID, ttl)
	if err != nil {
		if code, reason, ok := apiCode(err); ok {
			return &mcpsdk.CallToolResult{IsError: true}, TaskClaimOutput{Code: code, Reason: reason}, nil
		}
		return nil, TaskClaimOutput{}, err
	}
	return nil, TaskClaimOutput{Task: task, Lease: lease}, nil
}

func (s *Server) handleTaskComplete(ctx context.Context, req *mcpsdk.CallToolRequest, input TaskFinalizeInput) (*mcpsdk.CallToolResult, TaskFinalizeOutput, error) {
	task, err := s.client.CompleteTask(ctx, input.TaskID, input.Epoch)
	return finalizeResult(task, err)
}

func (s *Server) handleTaskFail(ctx context.Context, req *mcpsdk.CallToolRequest, input TaskFinalizeInput) (*mcpsdk.CallToolResult, TaskFinalizeOutput, error) {
	task, err := s.client.FailTask(ctx, input.TaskID, input.Epoch)
	return finalizeResult(task, err)
}

func finalizeResult(task *model.Task, err error) (*mcpsdk.CallToolResult, TaskFinalizeOutput, error) {
	if err != nil {
		if code, reason, ok := apiCode(err); ok {
			return &mcpsdk.CallToolResult{IsError: true}, TaskFinalizeOutput{Code: code, Reason: reason}, nil
		}
		return nil, TaskFinalizeOutput{}, err
	}
	return nil, TaskFinalizeOutput{Task: task}, nil
}

func (s *Server) handleThreadStart(ctx context.Context, req *mcpsdk.CallToolRequest, input ThreadStartInput) (*mcpsdk.CallToolResult, ThreadStartOutput, error) {
	thread, err := s.client.StartThread(ctx, teamguard.StartThreadRequest{
		Title:        input.Title,
		Participants: input.Participants,
		TaskID:       input.TaskID,
	})
	if err != nil {
		if code, reason, ok := apiCode(err); ok {
			return &mcpsdk.CallToolResult{IsError: true}, ThreadStartOutput{Code: code, Reason: reason}, nil
		}
		return nil, ThreadStartOutput{}, err
	}
	return nil, ThreadStartOutput{Thread: thread}, nil
}

func (s *Server) handleThreadPost(ctx context.Context, req *mcpsdk.CallToolRequest, input ThreadPostInput) (*mcpsdk.CallToolResult, ThreadPostOutput, error) {
	msg, err := s.client.PostMessage(ctx, input.ThreadID, input.Body)
	if err != nil {
		if code, reason, ok := apiCode(err); ok {
			return &mcpsdk.CallToolResult{IsError: true}, ThreadPostOutput{Code: code, Reason: reason}, nil
		}
		return nil, ThreadPostOutput{}, err
	}
	return nil, ThreadPostOutput{Message: msg}, nil
}

func (s *Server) handleInboxFetch(ctx context.Context, req *mcpsdk.CallToolRequest, input InboxFetchInput) (*mcpsdk.CallToolResult, InboxFetchOutput, error) {
	events, next, err := s.client.FetchInbox(ctx, input.Since)
	if err != nil {
		if code, reason, ok := apiCode(err); ok {
			return &mcpsdk.CallToolResult{IsError: true}, InboxFetchOutput{Code: code, Reason: reason}, nil
		}
		return nil, InboxFetchOutput{}, err
	}
	return nil, InboxFetchOutput{Events: events, Next: next}, nil
}
