package teamguard

import "net/http"

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	workspaceRoot string
	team          string
	agent         string
	baseURL       string
	token         string
	tokenFile     string
	httpClient    *http.Client
	interactive   bool
}

// WithWorkspaceRoot sets the directory scanned for runtime descriptors.
func WithWorkspaceRoot(root string) Option {
	return func(c *clientConfig) { c.workspaceRoot = root }
}

// WithTeam pins the team id, restricting discovery to that team.
func WithTeam(team string) Option {
	return func(c *clientConfig) { c.team = team }
}

// WithAgent sets the caller's agent id.
func WithAgent(agent string) Option {
	return func(c *clientConfig) { c.agent = agent }
}

// WithBaseURL sets the daemon URL explicitly, skipping discovery for it.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithToken sets the bearer credential explicitly.
func WithToken(token string) Option {
	return func(c *clientConfig) { c.token = token }
}

// WithTokenFile points at a file holding the credential, either a raw
// one-line token or a JSON object with token and optional url.
func WithTokenFile(path string) Option {
	return func(c *clientConfig) { c.tokenFile = path }
}

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithInteractive declares whether the host agent has an interactive
// surface. Non-interactive hosts get write, edit and bash blocked
// unconditionally.
func WithInteractive(interactive bool) Option {
	return func(c *clientConfig) { c.interactive = interactive }
}
