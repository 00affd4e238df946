package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mkdir700/pi-team/internal/model"
	"github.com/mkdir700/pi-team/internal/store"
)

// maxBodyBytes caps request bodies; a message body is the largest payload.
const maxBodyBytes = 1 << 20

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	e := model.AsError(err)
	if e.Status >= 500 {
		s.log.Error().Str("code", string(e.Code)).Msg(e.Message)
	}
	s.writeJSON(w, e.Status, struct {
		Error *model.Error `json:"error"`
	}{e})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.Invalid(model.CodeInvalidJSON, "failed to decode request body: %v", err)
	}
	return nil
}

func (s *Server) notFound(w http.ResponseWriter) {
	s.writeError(w, model.NotFound(model.CodeNotFound, "no such route"))
}

// ttl converts a request ttlMs to a duration, falling back to the
// configured default when absent or non-positive.
func (s *Server) ttl(ms int64) time.Duration {
	if ms <= 0 {
		return s.defaultTTL
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Server) handleUnknown(w http.ResponseWriter, r *http.Request) {
	s.notFound(w)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.notFound(w)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}{"ok", s.version})
}

func (s *Server) handleTeams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		teams, err := s.store.ListTeams()
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, struct {
			Teams []*model.Team `json:"teams"`
		}{teams})
	case http.MethodPost:
		var req struct {
			ID     string         `json:"id"`
			Agents []model.Agent  `json:"agents"`
			Budget map[string]any `json:"budget"`
		}
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		team, created, err := s.store.CreateTeam(r.Context(), store.CreateTeamInput{
			ID:     req.ID,
			Agents: req.Agents,
			Budget: req.Budget,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		s.writeJSON(w, status, team)
	default:
		s.notFound(w)
	}
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.notFound(w)
		return
	}
	team, err := s.store.GetTeam(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, team)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := s.store.ListTasks(r.URL.Query().Get("teamId"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, struct {
			Tasks []*model.Task `json:"tasks"`
		}{tasks})
	case http.MethodPost:
		var req struct {
			TeamID         string   `json:"teamId"`
			Title          string   `json:"title"`
			Description    string   `json:"description"`
			Dependencies   []string `json:"dependencies"`
			Resources      []string `json:"resources"`
			IdempotencyKey string   `json:"idempotencyKey"`
		}
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			key = req.IdempotencyKey
		}
		task, created, err := s.store.CreateTask(r.Context(), req.TeamID, store.CreateTaskInput{
			Title:          req.Title,
			Description:    req.Description,
			Dependencies:   req.Dependencies,
			Resources:      req.Resources,
			IdempotencyKey: key,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		s.writeJSON(w, status, struct {
			Task    *model.Task `json:"task"`
			Created bool        `json:"created"`
		}{task, created})
	default:
		s.notFound(w)
	}
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.notFound(w)
		return
	}
	task, err := s.store.GetTask(r.URL.Query().Get("teamId"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.notFound(w)
		return
	}
	taskID := r.PathValue("id")

	switch r.PathValue("action") {
	case "claim":
		var req struct {
			TeamID  string `json:"teamId"`
			AgentID string `json:"agentId"`
			TTLMs   int64  `json:"ttlMs"`
		}
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		task, err := s.store.ClaimTask(r.Context(), req.TeamID, taskID, req.AgentID, s.ttl(req.TTLMs))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeLeased(w, task)
	case "renew":
		var req struct {
			TeamID  string `json:"teamId"`
			AgentID string `json:"agentId"`
			Epoch   int64  `json:"epoch"`
			TTLMs   int64  `json:"ttlMs"`
		}
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		task, err := s.store.RenewTask(r.Context(), req.TeamID, taskID, req.AgentID, req.Epoch, s.ttl(req.TTLMs))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeLeased(w, task)
	case "complete", "fail":
		var req struct {
			TeamID  string `json:"teamId"`
			AgentID string `json:"agentId"`
			Epoch   int64  `json:"epoch"`
		}
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		finalize := s.store.CompleteTask
		if r.PathValue("action") == "fail" {
			finalize = s.store.FailTask
		}
		task, err := finalize(r.Context(), req.TeamID, taskID, req.AgentID, req.Epoch)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, struct {
			Task *model.Task `json:"task"`
		}{task})
	default:
		s.notFound(w)
	}
}

func (s *Server) writeLeased(w http.ResponseWriter, task *model.Task) {
	s.writeJSON(w, http.StatusOK, struct {
		Task  *model.Task  `json:"task"`
		Lease *model.Lease `json:"lease"`
	}{task, task.Lease})
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.notFound(w)
		return
	}
	var req struct {
		TeamID       string   `json:"teamId"`
		Title        string   `json:"title"`
		Participants []string `json:"participants"`
		TaskID       string   `json:"taskId"`
		Originator   string   `json:"originator"`
	}
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	thread, err := s.store.StartThread(r.Context(), req.TeamID, store.StartThreadInput{
		Title:        req.Title,
		Participants: req.Participants,
		TaskID:       req.TaskID,
		Originator:   req.Originator,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, struct {
		Thread *model.Thread `json:"thread"`
	}{thread})
}

func (s *Server) handleThreadSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.notFound(w)
		return
	}
	q := r.URL.Query()
	threads, err := s.store.SearchThreads(q.Get("teamId"), q.Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Threads []*model.Thread `json:"threads"`
	}{threads})
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.notFound(w)
		return
	}
	var req struct {
		TeamID string `json:"teamId"`
		Author string `json:"author"`
		Body   string `json:"body"`
	}
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	msg, err := s.store.PostMessage(r.Context(), req.TeamID, r.PathValue("id"), req.Author, req.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, struct {
		Message *model.Message `json:"message"`
	}{msg})
}

func (s *Server) handleThreadTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.notFound(w)
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	thread, messages, err := s.store.ThreadTail(q.Get("teamId"), r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Thread   *model.Thread    `json:"thread"`
		Messages []*model.Message `json:"messages"`
	}{thread, messages})
}

func (s *Server) handleThreadLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.notFound(w)
		return
	}
	var req struct {
		TeamID string `json:"teamId"`
		TaskID string `json:"taskId"`
	}
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	thread, err := s.store.LinkThread(r.Context(), req.TeamID, r.PathValue("id"), req.TaskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Thread *model.Thread `json:"thread"`
	}{thread})
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.notFound(w)
		return
	}
	q := r.URL.Query()
	since, _ := strconv.ParseInt(q.Get("since"), 10, 64)
	events, nextSince, err := s.store.FetchInbox(q.Get("teamId"), q.Get("agentId"), since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Events    []model.InboxEvent `json:"events"`
		NextSince int64              `json:"nextSince"`
	}{events, nextSince})
}

func (s *Server) handleCanWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.notFound(w)
		return
	}
	q := r.URL.Query()
	res, err := s.store.CanWrite(q.Get("teamId"), q.Get("agentId"), q.Get("path"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
