package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mkdir700/pi-team/internal/audit"
	"github.com/mkdir700/pi-team/internal/fsio"
	"github.com/mkdir700/pi-team/internal/model"
)

// messageSummaryBytes caps the inbox summary taken from a message body.
const messageSummaryBytes = 120

// StartThreadInput is the payload of a thread create call.
type StartThreadInput struct {
	Title        string
	Participants []string
	TaskID       string
	Originator   string
}

// StartThread opens a discussion thread. The originator always ends up in
// the participant set; a linked task must already exist.
func (s *Store) StartThread(ctx context.Context, teamID string, in StartThreadInput) (*model.Thread, error) {
	if !model.ValidID(in.Originator) {
		return nil, model.Invalid(model.CodeInvalidAgentID, "agent id %q is not allowed", in.Originator)
	}
	for _, p := range in.Participants {
		if !model.ValidID(p) {
			return nil, model.Invalid(model.CodeInvalidAgentID, "agent id %q is not allowed", p)
		}
	}
	var thread *model.Thread
	err := s.mutate(ctx, func() error {
		dir, err := s.existingTeamDir(teamID)
		if err != nil {
			return err
		}
		if in.TaskID != "" {
			if _, err := s.readTask(dir, in.TaskID); err != nil {
				return err
			}
		}
		threads, err := readThreadIndex(dir)
		if err != nil {
			return err
		}

		participants := dedupe(in.Participants)
		if !contains(participants, in.Originator) {
			participants = append(participants, in.Originator)
		}

		ids := make([]string, 0, len(threads))
		for _, t := range threads {
			ids = append(ids, t.ID)
		}
		now := model.Now()
		th := &model.Thread{
			SchemaVersion: model.SchemaVersion,
			ID:            nextNumericID("thread-", ids),
			Title:         strings.TrimSpace(in.Title),
			Participants:  participants,
			TaskID:        in.TaskID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		alog, err := s.auditLog(dir)
		if err != nil {
			return err
		}
		if err := alog.Record(audit.Entry{
			Actor:    in.Originator,
			Type:     model.EventThreadStarted,
			ThreadID: th.ID,
			TaskID:   th.TaskID,
			Data:     map[string]any{"title": th.Title, "participants": th.Participants},
		}); err != nil {
			return err
		}
		if err := writeThreadIndex(dir, append(threads, th)); err != nil {
			return err
		}
		thread = th
		s.log.Debug().Str("team", teamID).Str("thread", th.ID).
			Strs("participants", th.Participants).Msg("thread started")
		return nil
	})
	return thread, err
}

// PostMessage appends one message to a thread and fans it out to every
// participant except the author. An author outside the participant set is
// added to it.
func (s *Store) PostMessage(ctx context.Context, teamID, threadID, author, body string) (*model.Message, error) {
	if !model.ValidID(author) {
		return nil, model.Invalid(model.CodeInvalidThreadMessage, "author id %q is not allowed", author)
	}
	if strings.TrimSpace(body) == "" {
		return nil, model.Invalid(model.CodeInvalidThreadMessage, "message body is empty")
	}
	var msg *model.Message
	err := s.mutate(ctx, func() error {
		dir, err := s.existingTeamDir(teamID)
		if err != nil {
			return err
		}
		threads, err := readThreadIndex(dir)
		if err != nil {
			return err
		}
		th := findThread(threads, threadID)
		if th == nil {
			return model.NotFound(model.CodeThreadNotFound, "no thread %q", threadID)
		}

		m := &model.Message{
			SchemaVersion: model.SchemaVersion,
			ID:            uuid.NewString(),
			ThreadID:      th.ID,
			Author:        author,
			Body:          body,
			TS:            model.Now(),
		}

		alog, err := s.auditLog(dir)
		if err != nil {
			return err
		}
		if err := alog.Record(audit.Entry{
			Actor:    author,
			Type:     model.EventThreadMessage,
			ThreadID: th.ID,
			Data:     map[string]any{"messageId": m.ID},
		}); err != nil {
			return err
		}
		if err := fsio.AppendJSONLine(messagesPath(dir, th.ID), m); err != nil {
			return err
		}

		if !contains(th.Participants, author) {
			th.Participants = append(th.Participants, author)
		}
		th.UpdatedAt = m.TS
		if err := writeThreadIndex(dir, threads); err != nil {
			return err
		}

		summary := messageSummary(body)
		for _, p := range th.Participants {
			if p == author {
				continue
			}
			s.appendInbox(dir, p, model.InboxEvent{
				Type:     model.EventThreadMessage,
				ThreadID: th.ID,
				Actor:    author,
				Summary:  summary,
				Content:  body,
				TS:       m.TS,
			})
		}
		msg = m
		s.log.Debug().Str("team", teamID).Str("thread", th.ID).Str("author", author).Msg("message posted")
		return nil
	})
	return msg, err
}

// ThreadTail returns a thread record with its most recent messages.
// A non-positive limit means 20.
func (s *Store) ThreadTail(teamID, threadID string, limit int) (*model.Thread, []*model.Message, error) {
	dir, err := s.existingTeamDir(teamID)
	if err != nil {
		return nil, nil, err
	}
	threads, err := readThreadIndex(dir)
	if err != nil {
		return nil, nil, err
	}
	th := findThread(threads, threadID)
	if th == nil {
		return nil, nil, model.NotFound(model.CodeThreadNotFound, "no thread %q", threadID)
	}
	msgs, err := readMessages(dir, th.ID)
	if err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return th, msgs, nil
}

// SearchThreads matches the query against thread titles, case-insensitively.
// An empty query returns everything.
func (s *Store) SearchThreads(teamID, query string) ([]*model.Thread, error) {
	dir, err := s.existingTeamDir(teamID)
	if err != nil {
		return nil, err
	}
	threads, err := readThreadIndex(dir)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	matched := make([]*model.Thread, 0, len(threads))
	for _, th := range threads {
		if q == "" || strings.Contains(strings.ToLower(th.Title), q) {
			matched = append(matched, th)
		}
	}
	return matched, nil
}

// LinkThread attaches a thread to a task. Both must exist.
func (s *Store) LinkThread(ctx context.Context, teamID, threadID, taskID string) (*model.Thread, error) {
	var thread *model.Thread
	err := s.mutate(ctx, func() error {
		dir, err := s.existingTeamDir(teamID)
		if err != nil {
			return err
		}
		threads, err := readThreadIndex(dir)
		if err != nil {
			return err
		}
		th := findThread(threads, threadID)
		if th == nil {
			return model.NotFound(model.CodeThreadNotFound, "no thread %q", threadID)
		}
		if _, err := s.readTask(dir, taskID); err != nil {
			return err
		}

		th.TaskID = taskID
		th.UpdatedAt = model.Now()

		alog, err := s.auditLog(dir)
		if err != nil {
			return err
		}
		if err := alog.Record(audit.Entry{
			Actor:    "daemon",
			Type:     model.EventThreadLinked,
			ThreadID: th.ID,
			TaskID:   taskID,
		}); err != nil {
			return err
		}
		if err := writeThreadIndex(dir, threads); err != nil {
			return err
		}
		thread = th
		return nil
	})
	return thread, err
}

func threadIndexPath(dir string) string {
	return filepath.Join(dir, "threads", "index.json")
}

func messagesPath(dir, threadID string) string {
	return filepath.Join(dir, "threads", threadID+".jsonl")
}

func readThreadIndex(dir string) ([]*model.Thread, error) {
	data, err := os.ReadFile(threadIndexPath(dir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read thread index: %w", err)
	}
	var threads []*model.Thread
	if err := json.Unmarshal(data, &threads); err != nil {
		return nil, fmt.Errorf("failed to decode thread index: %w", err)
	}
	return threads, nil
}

func writeThreadIndex(dir string, threads []*model.Thread) error {
	return fsio.WriteJSONAtomic(threadIndexPath(dir), threads)
}

func findThread(threads []*model.Thread, id string) *model.Thread {
	for _, th := range threads {
		if th.ID == id {
			return th
		}
	}
	return nil
}

func readMessages(dir, threadID string) ([]*model.Message, error) {
	lines, err := fsio.ReadJSONLines(messagesPath(dir, threadID))
	if err != nil {
		return nil, err
	}
	msgs := make([]*model.Message, 0, len(lines))
	for i, line := range lines {
		var m model.Message
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("failed to decode message %d of %s: %w", i+1, threadID, err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

// messageSummary flattens a body onto one line and truncates it to the
// summary byte cap without splitting a UTF-8 sequence.
func messageSummary(body string) string {
	flat := strings.Join(strings.Fields(body), " ")
	if len(flat) <= messageSummaryBytes {
		return flat
	}
	cut := messageSummaryBytes
	for cut > 0 && !utf8.RuneStart(flat[cut]) {
		cut--
	}
	return flat[:cut]
}

// taskEventSummary is the one-line wording for task state changes.
func taskEventSummary(eventType, taskID, agentID string) string {
	verb := map[string]string{
		model.EventTaskClaimed:   "claimed",
		model.EventTaskCompleted: "completed",
		model.EventTaskFailed:    "failed",
	}[eventType]
	if verb == "" {
		verb = eventType
	}
	return fmt.Sprintf("Task %s %s by %s", taskID, verb, agentID)
}

// fanOutTaskEvent broadcasts a task state change to every known team agent.
func (s *Store) fanOutTaskEvent(dir, eventType string, t *model.Task, actor string) {
	summary := taskEventSummary(eventType, t.ID, actor)
	for _, agent := range s.knownAgents(dir) {
		s.appendInbox(dir, agent, model.InboxEvent{
			Type:    eventType,
			TaskID:  t.ID,
			Actor:   actor,
			Summary: summary,
			TS:      model.Now(),
		})
	}
}
