package teamguard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mkdir700/pi-team/internal/model"
)

// ErrNoDiscovery is returned by client operations when no daemon
// coordinates could be resolved.
var ErrNoDiscovery = errors.New("teamguard: no daemon discovered")

// Client talks to a discovered daemon. Safe for concurrent use.
type Client struct {
	cfg  clientConfig
	http *http.Client

	mu   sync.RWMutex
	disc Discovery
}

// New builds a client and runs discovery once. A client with
// incomplete discovery is still usable: operations fail with
// ErrNoDiscovery and the guard fails closed.
func New(opts ...Option) (*Client, error) {
	cfg := defaultClientConfig()
	for _, o := range opts {
		o(&cfg)
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, http: hc, disc: discover(cfg)}, nil
}

// Discovery returns the currently resolved daemon coordinates.
func (c *Client) Discovery() Discovery {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disc
}

// Rediscover re-runs discovery, picking up a restarted daemon's new
// URL and credential.
func (c *Client) Rediscover() Discovery {
	d := discover(c.cfg)
	c.mu.Lock()
	c.disc = d
	c.mu.Unlock()
	return d
}

// Health probes GET /healthz. Requires only a discovered URL.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	d := c.Discovery()
	if d.URL == "" {
		return nil, ErrNoDiscovery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL+"/healthz", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &h, nil
}

// CreateTeam registers the discovered team with the given roster.
func (c *Client) CreateTeam(ctx context.Context, agents []model.Agent, budget map[string]any) (*model.Team, error) {
	d := c.Discovery()
	body := map[string]any{"id": d.Team, "agents": agents, "budget": budget}
	var team model.Team
	if err := c.do(ctx, http.MethodPost, "/v1/teams", nil, body, nil, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// GetTeam fetches the discovered team's record.
func (c *Client) GetTeam(ctx context.Context) (*model.Team, error) {
	var team model.Team
	if err := c.do(ctx, http.MethodGet, "/v1/teams/"+c.Discovery().Team, nil, nil, nil, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// CreateTaskRequest carries the fields of a task creation call.
type CreateTaskRequest struct {
	Title          string
	Description    string
	Dependencies   []string
	Resources      []string
	IdempotencyKey string
}

// CreateTask creates a task in the discovered team. The bool reports
// whether the task was newly created or replayed idempotently.
func (c *Client) CreateTask(ctx context.Context, in CreateTaskRequest) (*model.Task, bool, error) {
	d := c.Discovery()
	body := map[string]any{
		"teamId":       d.Team,
		"title":        in.Title,
		"description":  in.Description,
		"dependencies": in.Dependencies,
		"resources":    in.Resources,
	}
	var headers http.Header
	if in.IdempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": []string{in.IdempotencyKey}}
	}
	var out struct {
		Task    *model.Task `json:"task"`
		Created bool        `json:"created"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/tasks", nil, body, headers, &out); err != nil {
		return nil, false, err
	}
	return out.Task, out.Created, nil
}

// ListTasks fetches every task in the discovered team.
func (c *Client) ListTasks(ctx context.Context) ([]*model.Task, error) {
	var out struct {
		Tasks []*model.Task `json:"tasks"`
	}
	q := url.Values{"teamId": []string{c.Discovery().Team}}
	if err := c.do(ctx, http.MethodGet, "/v1/tasks", q, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	q := url.Values{"teamId": []string{c.Discovery().Team}}
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+taskID, q, nil, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ClaimTask claims a pending task for the discovered agent. Zero ttl
// uses the daemon default.
func (c *Client) ClaimTask(ctx context.Context, taskID string, ttl time.Duration) (*model.Task, *model.Lease, error) {
	d := c.Discovery()
	body := map[string]any{"teamId": d.Team, "agentId": d.Agent, "ttlMs": ttl.Milliseconds()}
	return c.doLeased(ctx, "/v1/tasks/"+taskID+"/claim", body)
}

// RenewTask extends a held lease under the fencing epoch.
func (c *Client) RenewTask(ctx context.Context, taskID string, epoch int64, ttl time.Duration) (*model.Task, *model.Lease, error) {
	d := c.Discovery()
	body := map[string]any{"teamId": d.Team, "agentId": d.Agent, "epoch": epoch, "ttlMs": ttl.Milliseconds()}
	return c.doLeased(ctx, "/v1/tasks/"+taskID+"/renew", body)
}

// CompleteTask finalizes a held task as completed.
func (c *Client) CompleteTask(ctx context.Context, taskID string, epoch int64) (*model.Task, error) {
	return c.doFinalize(ctx, "/v1/tasks/"+taskID+"/complete", epoch)
}

// FailTask finalizes a held task as failed.
func (c *Client) FailTask(ctx context.Context, taskID string, epoch int64) (*model.Task, error) {
	return c.doFinalize(ctx, "/v1/tasks/"+taskID+"/fail", epoch)
}

// StartThreadRequest carries the fields of a thread creation call. The
// discovered agent becomes the originator.
type StartThreadRequest struct {
	Title        string
	Participants []string
	TaskID       string
}

// StartThread opens a conversation thread.
func (c *Client) StartThread(ctx context.Context, in StartThreadRequest) (*model.Thread, error) {
	d := c.Discovery()
	body := map[string]any{
		"teamId":       d.Team,
		"title":        in.Title,
		"participants": in.Participants,
		"taskId":       in.TaskID,
		"originator":   d.Agent,
	}
	var out struct {
		Thread *model.Thread `json:"thread"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/threads", nil, body, nil, &out); err != nil {
		return nil, err
	}
	return out.Thread, nil
}

// PostMessage appends a message authored by the discovered agent.
func (c *Client) PostMessage(ctx context.Context, threadID, body string) (*model.Message, error) {
	d := c.Discovery()
	payload := map[string]any{"teamId": d.Team, "author": d.Agent, "body": body}
	var out struct {
		Message *model.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/threads/"+threadID+"/messages", nil, payload, nil, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// ThreadTail fetches the thread record and its newest messages.
func (c *Client) ThreadTail(ctx context.Context, threadID string, limit int) (*model.Thread, []model.Message, error) {
	q := url.Values{"teamId": []string{c.Discovery().Team}}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out struct {
		Thread   *model.Thread   `json:"thread"`
		Messages []model.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/threads/"+threadID+"/tail", q, nil, nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Thread, out.Messages, nil
}

// SearchThreads finds threads whose title or participants match q.
func (c *Client) SearchThreads(ctx context.Context, query string) ([]*model.Thread, error) {
	q := url.Values{"teamId": []string{c.Discovery().Team}, "q": []string{query}}
	var out struct {
		Threads []*model.Thread `json:"threads"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/threads/search", q, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

// LinkThread attaches a thread to a task.
func (c *Client) LinkThread(ctx context.Context, threadID, taskID string) (*model.Thread, error) {
	d := c.Discovery()
	body := map[string]any{"teamId": d.Team, "taskId": taskID}
	var out struct {
		Thread *model.Thread `json:"thread"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/threads/"+threadID+"/link", nil, body, nil, &out); err != nil {
		return nil, err
	}
	return out.Thread, nil
}

// FetchInbox returns the discovered agent's events after the cursor.
func (c *Client) FetchInbox(ctx context.Context, since int64) ([]model.InboxEvent, int64, error) {
	d := c.Discovery()
	q := url.Values{
		"teamId":  []string{d.Team},
		"agentId": []string{d.Agent},
		"since":   []string{fmt.Sprintf("%d", since)},
	}
	var out struct {
		Events    []model.InboxEvent `json:"events"`
		NextSince int64              `json:"nextSince"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/inbox", q, nil, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Events, out.NextSince, nil
}

// CanWrite asks the daemon whether the discovered agent may mutate the
// path right now.
func (c *Client) CanWrite(ctx context.Context, path string) (model.CanWriteResult, error) {
	d := c.Discovery()
	q := url.Values{
		"teamId":  []string{d.Team},
		"agentId": []string{d.Agent},
		"path":    []string{path},
	}
	var res model.CanWriteResult
	if err := c.do(ctx, http.MethodGet, "/v1/can-write", q, nil, nil, &res); err != nil {
		return model.CanWriteResult{}, err
	}
	return res, nil
}

func (c *Client) doLeased(ctx context.Context, path string, body map[string]any) (*model.Task, *model.Lease, error) {
	var out struct {
		Task  *model.Task  `json:"task"`
		Lease *model.Lease `json:"lease"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, body, nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Task, out.Lease, nil
}

func (c *Client) doFinalize(ctx context.Context, path string, epoch int64) (*model.Task, error) {
	d := c.Discovery()
	body := map[string]any{"teamId": d.Team, "agentId": d.Agent, "epoch": epoch}
	var out struct {
		Task *model.Task `json:"task"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, body, nil, &out); err != nil {
		return nil, err
	}
	return out.Task, nil
}

// do builds, authenticates and executes one daemon request, decoding
// the response into out when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, headers http.Header, out any) error {
	d := c.Discovery()
	if !d.Complete() {
		return ErrNoDiscovery
	}

	u := d.URL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+d.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = "INTERNAL_ERROR"
		apiErr.Message = resp.Status
	}
	return apiErr
}
