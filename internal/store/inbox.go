package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mkdir700/pi-team/internal/audit"
	"github.com/mkdir700/pi-team/internal/fsio"
	"github.com/mkdir700/pi-team/internal/model"
)

// FetchInbox returns the events with cursor > since, oldest first, plus the
// cursor to pass on the next call.
func (s *Store) FetchInbox(teamID, agentID string, since int64) ([]model.InboxEvent, int64, error) {
	if !model.ValidID(agentID) {
		return nil, 0, model.Invalid(model.CodeInvalidAgentID, "agent id %q is not allowed", agentID)
	}
	dir, err := s.existingTeamDir(teamID)
	if err != nil {
		return nil, 0, err
	}
	inbox, err := readInbox(dir, agentID)
	if err != nil {
		return nil, 0, err
	}
	events := make([]model.InboxEvent, 0, len(inbox.Events))
	nextSince := since
	for _, ev := range inbox.Events {
		if ev.Cursor <= since {
			continue
		}
		events = append(events, ev)
		if ev.Cursor > nextSince {
			nextSince = ev.Cursor
		}
	}
	return events, nextSince, nil
}

// RebuildInboxes replays the audit log into fresh inbox files. Cursors
// restart at 1; the previous files are replaced wholesale. Inboxes are
// caches, so a rebuild is always safe.
func (s *Store) RebuildInboxes(ctx context.Context, teamID string) error {
	return s.mutate(ctx, func() error {
		dir, err := s.existingTeamDir(teamID)
		if err != nil {
			return err
		}
		entries, err := audit.Replay(filepath.Join(dir, "audit", "events.jsonl"))
		if err != nil {
			return err
		}
		threads, err := readThreadIndex(dir)
		if err != nil {
			return err
		}

		inboxes := make(map[string]*model.Inbox)
		ensure := func(agentID string) *model.Inbox {
			if in, ok := inboxes[agentID]; ok {
				return in
			}
			in := &model.Inbox{
				SchemaVersion: model.SchemaVersion,
				AgentID:       agentID,
				NextCursor:    1,
				Events:        []model.InboxEvent{},
			}
			inboxes[agentID] = in
			return in
		}
		deliver := func(agentID string, ev model.InboxEvent) {
			in := ensure(agentID)
			ev.Cursor = in.NextCursor
			in.NextCursor++
			in.Events = append(in.Events, ev)
		}
		for _, agent := range s.knownAgents(dir) {
			ensure(agent)
		}

		for _, e := range entries {
			switch e.Type {
			case model.EventTaskClaimed, model.EventTaskCompleted, model.EventTaskFailed:
				ensure(e.Actor)
				summary := taskEventSummary(e.Type, e.TaskID, e.Actor)
				for agent := range inboxes {
					deliver(agent, model.InboxEvent{
						Type:    e.Type,
						TaskID:  e.TaskID,
						Actor:   e.Actor,
						Summary: summary,
						TS:      e.TS,
					})
				}
			case model.EventThreadMessage:
				th := findThread(threads, e.ThreadID)
				if th == nil {
					continue
				}
				body, ok := lookupMessageBody(dir, e)
				if !ok {
					s.log.Warn().Str("thread", e.ThreadID).Msg("message missing during inbox rebuild, skipped")
					continue
				}
				for _, p := range th.Participants {
					if p == e.Actor {
						continue
					}
					deliver(p, model.InboxEvent{
						Type:     e.Type,
						ThreadID: e.ThreadID,
						Actor:    e.Actor,
						Summary:  messageSummary(body),
						Content:  body,
						TS:       e.TS,
					})
				}
			}
		}

		for _, in := range inboxes {
			if err := writeInbox(dir, in); err != nil {
				return err
			}
		}
		s.log.Info().Str("team", teamID).Int("inboxes", len(inboxes)).Msg("inboxes rebuilt")
		return nil
	})
}

// appendInbox delivers one event to an agent's inbox file. Inboxes are
// rebuildable caches, so a delivery failure is logged and swallowed rather
// than failing the mutation that triggered it.
func (s *Store) appendInbox(dir, agentID string, ev model.InboxEvent) {
	inbox, err := readInbox(dir, agentID)
	if err != nil {
		s.log.Warn().Err(err).Str("agent", agentID).Msg("failed to read inbox, event dropped")
		return
	}
	ev.Cursor = inbox.NextCursor
	inbox.NextCursor++
	inbox.Events = append(inbox.Events, ev)
	if err := writeInbox(dir, inbox); err != nil {
		s.log.Warn().Err(err).Str("agent", agentID).Msg("failed to write inbox, event dropped")
	}
}

func inboxPath(dir, agentID string) string {
	return filepath.Join(dir, "inboxes", agentID+".json")
}

func readInbox(dir, agentID string) (*model.Inbox, error) {
	data, err := os.ReadFile(inboxPath(dir, agentID))
	if os.IsNotExist(err) {
		return &model.Inbox{
			SchemaVersion: model.SchemaVersion,
			AgentID:       agentID,
			NextCursor:    1,
			Events:        []model.InboxEvent{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox for %s: %w", agentID, err)
	}
	var inbox model.Inbox
	if err := json.Unmarshal(data, &inbox); err != nil {
		return nil, fmt.Errorf("failed to decode inbox for %s: %w", agentID, err)
	}
	if inbox.NextCursor < 1 {
		inbox.NextCursor = 1
	}
	return &inbox, nil
}

func writeInbox(dir string, inbox *model.Inbox) error {
	return fsio.WriteJSONAtomic(inboxPath(dir, inbox.AgentID), inbox)
}

// lookupMessageBody finds the body of the message an audit entry refers to.
func lookupMessageBody(dir string, e audit.Entry) (string, bool) {
	id, _ := e.Data["messageId"].(string)
	if id == "" {
		return "", false
	}
	msgs, err := readMessages(dir, e.ThreadID)
	if err != nil {
		return "", false
	}
	for _, m := range msgs {
		if m.ID == id {
			return m.Body, true
		}
	}
	return "", false
}
