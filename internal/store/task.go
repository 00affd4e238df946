package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mkdir700/pi-team/internal/audit"
	"github.com/mkdir700/pi-team/internal/fsio"
	"github.com/mkdir700/pi-team/internal/model"
)

// CreateTaskInput is the payload of a task create call.
type CreateTaskInput struct {
	Title          string
	Description    string
	Dependencies   []string
	Resources      []string
	IdempotencyKey string
}

type idemRecord struct {
	TaskID    string `json:"taskId"`
	CreatedAt string `json:"createdAt"`
}

// CreateTask mints a new task, or returns the recorded one when the
// idempotency key was seen before (created=false). The first payload wins;
// repeats are not compared.
func (s *Store) CreateTask(ctx context.Context, teamID string, in CreateTaskInput) (*model.Task, bool, error) {
	var task *model.Task
	created := false
	err := s.mutate(ctx, func() error {
		dir, err := s.existingTeamDir(teamID)
		if err != nil {
			return err
		}

		keys, err := readIdemFile(dir)
		if err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			if rec, ok := keys[in.IdempotencyKey]; ok {
				if t, err := s.readTask(dir, rec.TaskID); err == nil {
					task = t
					return nil
				}
				// Key recorded but the task is gone; mint fresh below.
			}
		}

		title := strings.TrimSpace(in.Title)
		if title == "" {
			return model.Invalid(model.CodeInvalidTask, "title is required")
		}
		deps := dedupe(in.Dependencies)
		blocked := false
		for _, d := range deps {
			if !model.ValidID(d) {
				return model.Invalid(model.CodeInvalidTask, "dependency id %q is not allowed", d)
			}
			dep, err := s.readTask(dir, d)
			if err != nil {
				return model.Invalid(model.CodeInvalidTask, "unknown dependency %s", d)
			}
			if dep.Status != model.StatusCompleted {
				blocked = true
			}
		}
		resources := make([]string, 0, len(in.Resources))
		for _, r := range in.Resources {
			n, ok := model.NormalizeResource(r)
			if !ok {
				return model.Invalid(model.CodeInvalidTask, "resource %q is not allowed", r)
			}
			resources = append(resources, n)
		}

		ids, err := taskIDsOnDisk(dir)
		if err != nil {
			return err
		}
		id := nextNumericID("task-", ids)

		status := model.StatusPending
		if blocked {
			status = model.StatusBlocked
		}
		t := &model.Task{
			SchemaVersion: model.SchemaVersion,
			ID:            id,
			Title:         title,
			Description:   in.Description,
			Status:        status,
			Dependencies:  deps,
			Resources:     resources,
			Epoch:         0,
			CreatedAt:     model.Now(),
		}

		alog, err := s.auditLog(dir)
		if err != nil {
			return err
		}
		if err := alog.Record(audit.Entry{
			Actor:  "daemon",
			Type:   model.EventTaskCreated,
			TaskID: id,
			Data:   map[string]any{"title": title, "status": string(status)},
		}); err != nil {
			return err
		}
		if err := s.writeTask(dir, t); err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			keys[in.IdempotencyKey] = idemRecord{TaskID: id, CreatedAt: t.CreatedAt}
			if err := writeIdemFile(dir, keys); err != nil {
				return err
			}
		}
		task = t
		created = true
		s.log.Debug().Str("team", teamID).Str("task", id).Str("status", string(status)).Msg("task created")
		return nil
	})
	return task, created, err
}

// GetTask reads one task record.
func (s *Store) GetTask(teamID, taskID string) (*model.Task, error) {
	dir, err := s.existingTeamDir(teamID)
	if err != nil {
		return nil, err
	}
	return s.readTask(dir, taskID)
}

// ListTasks returns every task of a team, sorted by id.
func (s *Store) ListTasks(teamID string) ([]*model.Task, error) {
	dir, err := s.existingTeamDir(teamID)
	if err != nil {
		return nil, err
	}
	return s.listTasks(dir)
}

// ClaimTask moves a pending task to in_progress under a fresh lease. A task
// sitting in_progress under an expired lease is silently reset to pending
// first, so the claim wins cleanly with a higher epoch.
func (s *Store) ClaimTask(ctx context.Context, teamID, taskID, agentID string, ttl time.Duration) (*model.Task, error) {
	if !model.ValidID(agentID) {
		return nil, model.Invalid(model.CodeInvalidAgentID, "agent id %q is not allowed", agentID)
	}
	var task *model.Task
	err := s.mutate(ctx, func() error {
		dir, err := s.existingTeamDir(teamID)
		if err != nil {
			return err
		}
		t, err := s.readTask(dir, taskID)
		if err != nil {
			return err
		}

		now := time.Now()
		if t.Status == model.StatusInProgress && t.Lease != nil && t.Lease.Expired(now) {
			t.Status = model.StatusPending
			t.Lease = nil
			t.Owner = ""
		}
		if t.Status != model.StatusPending {
			return model.Conflict(model.CodeTaskNotClaimable, "task %s is %s", t.ID, t.Status)
		}

		t.Epoch++
		t.Lease = &model.Lease{Holder: agentID, Epoch: t.Epoch, ExpiresAt: model.Timestamp(now.Add(ttl))}
		t.Status = model.StatusInProgress
		t.Owner = agentID
		if t.StartedAt == "" {
			t.StartedAt = model.Timestamp(now)
		}

		alog, err := s.auditLog(dir)
		if err != nil {
			return err
		}
		if err := alog.Record(audit.Entry{
			Actor:  agentID,
			Type:   model.EventTaskClaimed,
			TaskID: t.ID,
			Data:   map[string]any{"epoch": t.Epoch, "expiresAt": t.Lease.ExpiresAt},
		}); err != nil {
			return err
		}
		if err := s.writeTask(dir, t); err != nil {
			return err
		}
		s.fanOutTaskEvent(dir, model.EventTaskClaimed, t, agentID)
		task = t
		s.log.Debug().Str("team", teamID).Str("task", t.ID).Str("agent", agentID).
			Int64("epoch", t.Epoch).Msg("task claimed")
		return nil
	})
	return task, err
}

// RenewTask extends a live lease. Holder, epoch, and expiry are all checked;
// a stale fencing token is rejected.
func (s *Store) RenewTask(ctx context.Context, teamID, taskID, agentID string, epoch int64, ttl time.Duration) (*model.Task, error) {
	if !model.ValidID(agentID) {
		return nil, model.Invalid(model.CodeInvalidAgentID, "agent id %q is not allowed", agentID)
	}
	var task *model.Task
	err := s.mutate(ctx, func() error {
		dir, err := s.existingTeamDir(teamID)
		if err != nil {
			return err
		}
		t, err := s.readTask(dir, taskID)
		if err != nil {
			return err
		}
		now := time.Now()
		if err := checkLease(t, agentID, epoch, now); err != nil {
			return err
		}

		t.Lease.ExpiresAt = model.Timestamp(now.Add(ttl))

		alog, err := s.auditLog(dir)
		if err != nil {
			return err
		}
		if err := alog.Record(audit.Entry{
			Actor:  agentID,
			Type:   model.EventTaskRenewed,
			TaskID: t.ID,
			Data:   map[string]any{"epoch": t.Epoch, "expiresAt": t.Lease.ExpiresAt},
		}); err != nil {
			return err
		}
		if err := s.writeTask(dir, t); err != nil {
			return err
		}
		task = t
		return nil
	})
	return task, err
}

// CompleteTask finalizes a task as completed and unblocks its dependents.
func (s *Store) CompleteTask(ctx context.Context, teamID, taskID, agentID string, epoch int64) (*model.Task, error) {
	return s.finalizeTask(ctx, teamID, taskID, agentID, epoch, model.StatusCompleted)
}

// FailTask finalizes a task as failed. Dependents stay blocked.
func (s *Store) FailTask(ctx context.Context, teamID, taskID, agentID string, epoch int64) (*model.Task, error) {
	return s.finalizeTask(ctx, teamID, taskID, agentID, epoch, model.StatusFailed)
}

func (s *Store) finalizeTask(ctx context.Context, teamID, taskID, agentID string, epoch int64, terminal model.Status) (*model.Task, error) {
	if !model.ValidID(agentID) {
		return nil, model.Invalid(model.CodeInvalidAgentID, "agent id %q is not allowed", agentID)
	}
	var task *model.Task
	err := s.mutate(ctx, func() error {
		dir, err := s.existingTeamDir(teamID)
		if err != nil {
			return err
		}
		t, err := s.readTask(dir, taskID)
		if err != nil {
			return err
		}
		now := time.Now()
		if err := checkLease(t, agentID, epoch, now); err != nil {
			return err
		}

		t.Lease = nil
		t.Status = terminal
		eventType := model.EventTaskCompleted
		if terminal == model.StatusFailed {
			t.FailedAt = model.Timestamp(now)
			eventType = model.EventTaskFailed
		} else {
			t.CompletedAt = model.Timestamp(now)
		}

		alog, err := s.auditLog(dir)
		if err != nil {
			return err
		}
		if err := alog.Record(audit.Entry{
			Actor:  agentID,
			Type:   eventType,
			TaskID: t.ID,
			Data:   map[string]any{"epoch": t.Epoch},
		}); err != nil {
			return err
		}
		if err := s.writeTask(dir, t); err != nil {
			return err
		}
		s.fanOutTaskEvent(dir, eventType, t, agentID)

		if terminal == model.StatusCompleted {
			if err := s.unblockDependents(dir, t.ID, agentID); err != nil {
				return err
			}
		}
		task = t
		s.log.Debug().Str("team", teamID).Str("task", t.ID).Str("agent", agentID).
			Str("status", string(terminal)).Msg("task finalized")
		return nil
	})
	return task, err
}

// checkLease is the shared fencing gate for renew and finalize.
func checkLease(t *model.Task, agentID string, epoch int64, now time.Time) error {
	if t.Status != model.StatusInProgress || t.Lease == nil {
		return model.Conflict(model.CodeTaskNotInProgress, "task %s is %s", t.ID, t.Status)
	}
	if t.Lease.Holder != agentID {
		return model.Forbidden(model.CodeLeaseHolderMismatch, "lease on %s is held by %s", t.ID, t.Lease.Holder)
	}
	if t.Lease.Epoch != epoch {
		return model.Conflict(model.CodeEpochMismatch, "lease epoch is %d, request presented %d", t.Lease.Epoch, epoch)
	}
	if t.Lease.Expired(now) {
		return model.Forbidden(model.CodeLeaseExpired, "lease on %s expired at %s", t.ID, t.Lease.ExpiresAt)
	}
	return nil
}

// unblockDependents re-evaluates blocked tasks after completedID finished
// and flips the fully-satisfied ones back to pending.
func (s *Store) unblockDependents(dir, completedID, actor string) error {
	tasks, err := s.listTasks(dir)
	if err != nil {
		return err
	}
	byID := make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	for _, t := range tasks {
		if t.Status != model.StatusBlocked || !contains(t.Dependencies, completedID) {
			continue
		}
		satisfied := true
		for _, d := range t.Dependencies {
			dep, ok := byID[d]
			if !ok || dep.Status != model.StatusCompleted {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		t.Status = model.StatusPending

		alog, err := s.auditLog(dir)
		if err != nil {
			return err
		}
		if err := alog.Record(audit.Entry{
			Actor:  actor,
			Type:   model.EventTaskUnblocked,
			TaskID: t.ID,
			Data:   map[string]any{"completed": completedID},
		}); err != nil {
			return err
		}
		if err := s.writeTask(dir, t); err != nil {
			return err
		}
		s.log.Debug().Str("task", t.ID).Str("unblockedBy", completedID).Msg("task unblocked")
	}
	return nil
}

func (s *Store) readTask(dir, taskID string) (*model.Task, error) {
	if !model.ValidID(taskID) {
		return nil, model.NotFound(model.CodeTaskNotFound, "no task %q", taskID)
	}
	data, err := os.ReadFile(filepath.Join(dir, "tasks", taskID+".json"))
	if os.IsNotExist(err) {
		return nil, model.NotFound(model.CodeTaskNotFound, "no task %q", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %w", taskID, err)
	}
	var t model.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", taskID, err)
	}
	return &t, nil
}

func (s *Store) writeTask(dir string, t *model.Task) error {
	return fsio.WriteJSONAtomic(filepath.Join(dir, "tasks", t.ID+".json"), t)
}

func (s *Store) listTasks(dir string) ([]*model.Task, error) {
	ids, err := taskIDsOnDisk(dir)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	tasks := make([]*model.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.readTask(dir, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func taskIDsOnDisk(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, "tasks"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if model.ValidID(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// nextNumericID mints "<prefix>NNNN": one past the maximum numeric suffix
// among the existing ids, zero-padded to four digits.
func nextNumericID(prefix string, existing []string) string {
	maxN := 0
	for _, id := range existing {
		rest, ok := strings.CutPrefix(id, prefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			continue
		}
		if n > maxN {
			maxN = n
		}
	}
	return fmt.Sprintf("%s%04d", prefix, maxN+1)
}

func idemPath(dir string) string {
	return filepath.Join(dir, "idempotency", "create-task.json")
}

func readIdemFile(dir string) (map[string]idemRecord, error) {
	data, err := os.ReadFile(idemPath(dir))
	if os.IsNotExist(err) {
		return make(map[string]idemRecord), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency map: %w", err)
	}
	keys := make(map[string]idemRecord)
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency map: %w", err)
	}
	return keys, nil
}

func writeIdemFile(dir string, keys map[string]idemRecord) error {
	return fsio.WriteJSONAtomic(idemPath(dir), keys)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
