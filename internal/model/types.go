// Package model defines the persisted records of a team workspace and the
// wire-level error type shared by the store, the HTTP surface, and the guard
// client.
package model

import "time"

// SchemaVersion is stamped on every persisted record.
const SchemaVersion = 1

// Version is the daemon version reported by /healthz.
const Version = "1.0.0"

// TimeFormat is RFC 3339 UTC with millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Timestamp formats t in the canonical record format.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Now returns the current time in the canonical record format.
func Now() string {
	return Timestamp(time.Now())
}

// ParseTime parses a canonical record timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// Status is a task lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusBlocked    Status = "blocked"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Agent is one entry in a team's configured roster.
type Agent struct {
	ID    string `json:"id"`
	Role  string `json:"role,omitempty"`
	Model string `json:"model,omitempty"`
}

// Team is the workspace-scoped roster record stored at team.json.
type Team struct {
	SchemaVersion int            `json:"schemaVersion"`
	ID            string         `json:"id"`
	Agents        []Agent        `json:"agents"`
	Budget        map[string]any `json:"budget,omitempty"`
	CreatedAt     string         `json:"createdAt,omitempty"`
}

// Lease is the fencing token held by the agent working a task. The triple
// (holder, epoch, expiresAt) must be presented intact on renew and finalize.
type Lease struct {
	Holder    string `json:"holder"`
	Epoch     int64  `json:"epoch"`
	ExpiresAt string `json:"expiresAt"`
}

// Expired reports whether the lease has lapsed at the given instant.
// An unparsable expiry counts as expired.
func (l *Lease) Expired(now time.Time) bool {
	exp, err := ParseTime(l.ExpiresAt)
	if err != nil {
		return true
	}
	return !now.Before(exp)
}

// Task is a unit of work stored at tasks/<id>.json.
type Task struct {
	SchemaVersion int      `json:"schemaVersion"`
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Status        Status   `json:"status"`
	Owner         string   `json:"owner,omitempty"`
	Dependencies  []string `json:"dependencies"`
	Resources     []string `json:"resources"`
	Lease         *Lease   `json:"lease"`
	Epoch         int64    `json:"epoch"`
	CreatedAt     string   `json:"createdAt"`
	StartedAt     string   `json:"startedAt,omitempty"`
	CompletedAt   string   `json:"completedAt,omitempty"`
	FailedAt      string   `json:"failedAt,omitempty"`
}

// Thread is a durable discussion channel recorded in threads/index.json.
type Thread struct {
	SchemaVersion int      `json:"schemaVersion"`
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Participants  []string `json:"participants"`
	TaskID        string   `json:"taskId,omitempty"`
	CreatedAt     string   `json:"createdAt"`
	UpdatedAt     string   `json:"updatedAt"`
}

// Message is one appended line of threads/<id>.jsonl.
type Message struct {
	SchemaVersion int    `json:"schemaVersion"`
	ID            string `json:"id"`
	ThreadID      string `json:"threadId"`
	Author        string `json:"author"`
	Body          string `json:"body"`
	TS            string `json:"ts"`
}

// InboxEvent is one notification delivered to an agent's inbox.
type InboxEvent struct {
	Cursor   int64  `json:"cursor"`
	Type     string `json:"type"`
	TaskID   string `json:"taskId,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
	Actor    string `json:"actor"`
	Summary  string `json:"summary"`
	Content  string `json:"content,omitempty"`
	TS       string `json:"ts"`
}

// Inbox is the per-agent notification cache at inboxes/<agentId>.json.
// It is rebuildable from the audit log; the store is the authority.
type Inbox struct {
	SchemaVersion int          `json:"schemaVersion"`
	AgentID       string       `json:"agentId"`
	NextCursor    int64        `json:"nextCursor"`
	Events        []InboxEvent `json:"events"`
}

// Event types recorded in the audit log. The claim/complete/fail/message
// subset is also fanned out to inboxes.
const (
	EventTeamCreated   = "team_created"
	EventTaskCreated   = "task_created"
	EventTaskClaimed   = "task_claimed"
	EventTaskRenewed   = "task_renewed"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskUnblocked = "task_unblocked"
	EventThreadStarted = "thread_started"
	EventThreadMessage = "thread_message"
	EventThreadLinked  = "thread_linked"
)

// Runtime is the descriptor published at runtime.json (mode 0600).
type Runtime struct {
	SchemaVersion int    `json:"schemaVersion"`
	URL           string `json:"url"`
	Token         string `json:"token"`
	PID           int    `json:"pid"`
}

// LockFile is the payload of .teamd.lock.
type LockFile struct {
	PID           int    `json:"pid"`
	StartedAt     string `json:"startedAt"`
	SchemaVersion int    `json:"schemaVersion"`
}

// CanWriteResult answers a write-permission probe.
type CanWriteResult struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Reasons carried by CanWriteResult.
const (
	ReasonLeaseActive   = "lease_active_for_resource"
	ReasonInvalidPath   = "invalid_path"
	ReasonPathTraversal = "path_traversal_denied"
	ReasonNoLease       = "no_active_lease_for_path"
)
