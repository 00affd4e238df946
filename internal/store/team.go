package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mkdir700/pi-team/internal/audit"
	"github.com/mkdir700/pi-team/internal/fsio"
	"github.com/mkdir700/pi-team/internal/model"
)

// CreateTeamInput is the payload of a team create call.
type CreateTeamInput struct {
	ID     string
	Agents []model.Agent
	Budget map[string]any
}

// CreateTeam writes team.json and scaffolds the team directory. Creating a
// team that already has a team.json is a no-op returning the stored record.
func (s *Store) CreateTeam(ctx context.Context, in CreateTeamInput) (*model.Team, bool, error) {
	var team *model.Team
	created := false
	err := s.mutate(ctx, func() error {
		dir, err := s.teamDir(in.ID)
		if err != nil {
			return err
		}
		for _, a := range in.Agents {
			if !model.ValidID(a.ID) {
				return model.Invalid(model.CodeInvalidAgentID, "agent id %q is not allowed", a.ID)
			}
		}

		path := filepath.Join(dir, "team.json")
		if existing, err := readTeamFile(path); err != nil {
			return err
		} else if existing != nil {
			team = existing
			return nil
		}

		if _, err := s.EnsureTeamDirs(in.ID); err != nil {
			return err
		}
		t := &model.Team{
			SchemaVersion: model.SchemaVersion,
			ID:            in.ID,
			Agents:        in.Agents,
			Budget:        in.Budget,
			CreatedAt:     model.Now(),
		}
		if t.Agents == nil {
			t.Agents = []model.Agent{}
		}

		alog, err := s.auditLog(dir)
		if err != nil {
			return err
		}
		if err := alog.Record(audit.Entry{
			Actor: "daemon",
			Type:  model.EventTeamCreated,
			Data:  map[string]any{"teamId": in.ID, "agents": len(t.Agents)},
		}); err != nil {
			return err
		}
		if err := fsio.WriteJSONAtomic(path, t); err != nil {
			return err
		}
		team = t
		created = true
		s.log.Debug().Str("team", in.ID).Int("agents", len(t.Agents)).Msg("team created")
		return nil
	})
	return team, created, err
}

// GetTeam returns the team record. A scaffolded team directory without a
// team.json reads as the default empty team.
func (s *Store) GetTeam(teamID string) (*model.Team, error) {
	dir, err := s.existingTeamDir(teamID)
	if err != nil {
		return nil, err
	}
	team, err := readTeamFile(filepath.Join(dir, "team.json"))
	if err != nil {
		return nil, err
	}
	if team == nil {
		team = &model.Team{SchemaVersion: model.SchemaVersion, ID: teamID, Agents: []model.Agent{}}
	}
	return team, nil
}

// ListTeams returns every team under the root, sorted by id.
func (s *Store) ListTeams() ([]*model.Team, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read root %s: %w", s.root, err)
	}
	teams := make([]*model.Team, 0)
	for _, e := range entries {
		if !e.IsDir() || !model.ValidID(e.Name()) {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		if !isTeamDir(dir) {
			continue
		}
		team, err := s.GetTeam(e.Name())
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

// isTeamDir reports whether dir holds a team workspace: a team.json or a
// scaffolded tasks directory.
func isTeamDir(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "team.json")); err == nil {
		return true
	}
	if fi, err := os.Stat(filepath.Join(dir, "tasks")); err == nil && fi.IsDir() {
		return true
	}
	return false
}

// readTeamFile returns nil without error when the file does not exist.
func readTeamFile(path string) (*model.Team, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var team model.Team
	if err := json.Unmarshal(data, &team); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &team, nil
}

// knownAgents is the task-event fan-out audience: the union of the
// configured roster and every agent that already has an inbox file.
func (s *Store) knownAgents(dir string) []string {
	seen := make(map[string]bool)
	var agents []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			agents = append(agents, id)
		}
	}

	if team, err := readTeamFile(filepath.Join(dir, "team.json")); err == nil && team != nil {
		for _, a := range team.Agents {
			add(a.ID)
		}
	}
	if entries, err := os.ReadDir(filepath.Join(dir, "inboxes")); err == nil {
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			id := strings.TrimSuffix(name, ".json")
			if model.ValidID(id) {
				add(id)
			}
		}
	}
	sort.Strings(agents)
	return agents
}
