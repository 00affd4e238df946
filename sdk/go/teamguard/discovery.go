package teamguard

import (
	"encoding/json"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/mkdir700/pi-team/internal/model"
)

// Discovery is the resolved identity and endpoint of a running daemon.
// RuntimePath is set when the coordinates came from a runtime
// descriptor on disk.
type Discovery struct {
	Team        string
	Agent       string
	URL         string
	Token       string
	RuntimePath string
}

// Complete reports whether the discovery can authenticate a request.
func (d Discovery) Complete() bool {
	return d.URL != "" && d.Token != "" && d.Team != "" && d.Agent != ""
}

// Discover resolves daemon coordinates without building a client.
// Precedence: explicit options, then environment, then the token file,
// then the newest runtime descriptor under the workspace root.
func Discover(opts ...Option) Discovery {
	cfg := defaultClientConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return discover(cfg)
}

func defaultClientConfig() clientConfig {
	return clientConfig{interactive: true}
}

func discover(cfg clientConfig) Discovery {
	d := Discovery{Team: cfg.team, Agent: cfg.agent, URL: cfg.baseURL, Token: cfg.token}
	if d.Team == "" {
		d.Team = os.Getenv("TEAM_ID")
	}
	if d.Agent == "" {
		d.Agent = os.Getenv("AGENT_ID")
	}
	if d.URL == "" {
		d.URL = os.Getenv("TEAMD_URL")
	}
	if d.Token == "" {
		d.Token = os.Getenv("TEAMD_TOKEN")
	}

	if d.Token == "" || d.URL == "" {
		tokenFile := cfg.tokenFile
		if tokenFile == "" {
			tokenFile = os.Getenv("TEAMD_TOKEN_FILE")
		}
		if tokenFile != "" {
			fillFromTokenFile(&d, tokenFile)
		}
	}

	if d.Token == "" || d.URL == "" {
		root := cfg.workspaceRoot
		if root == "" {
			root = os.Getenv("TEAM_WORKSPACE_ROOT")
		}
		if root == "" {
			root = DefaultWorkspaceRoot()
		}
		fillFromRuntimeScan(&d, root)
	}

	if d.Agent == "" {
		d.Agent = localAgentID()
	}
	return d
}

// DefaultWorkspaceRoot returns the workspace directory scanned when no
// explicit root is configured.
func DefaultWorkspaceRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".pi-team")
	}
	return filepath.Join(home, ".pi-team")
}

// fillFromTokenFile reads a credential file: either a raw one-line
// token or a JSON object carrying token and optionally url. Only
// missing fields are filled.
func fillFromTokenFile(d *Discovery, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, "{") {
		var payload struct {
			Token string `json:"token"`
			URL   string `json:"url"`
		}
		if json.Unmarshal([]byte(text), &payload) != nil {
			return
		}
		if d.Token == "" {
			d.Token = payload.Token
		}
		if d.URL == "" && payload.URL != "" {
			d.URL = payload.URL
		}
		return
	}
	if d.Token == "" {
		if line, _, found := strings.Cut(text, "\n"); found {
			d.Token = strings.TrimSpace(line)
		} else {
			d.Token = text
		}
	}
}

// fillFromRuntimeScan picks the most recently modified runtime
// descriptor under root. A known team restricts the scan to its
// directory; an unknown team is learned from the chosen descriptor.
func fillFromRuntimeScan(d *Discovery, root string) {
	pattern := filepath.Join(root, "*", "runtime.json")
	if d.Team != "" {
		pattern = filepath.Join(root, d.Team, "runtime.json")
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}

	var chosen string
	var chosenMod int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if chosen == "" || info.ModTime().UnixNano() > chosenMod {
			chosen = m
			chosenMod = info.ModTime().UnixNano()
		}
	}
	if chosen == "" {
		return
	}

	raw, err := os.ReadFile(chosen)
	if err != nil {
		return
	}
	var rt model.Runtime
	if json.Unmarshal(raw, &rt) != nil {
		return
	}
	if d.URL == "" {
		d.URL = rt.URL
	}
	if d.Token == "" {
		d.Token = rt.Token
	}
	if d.Team == "" {
		d.Team = filepath.Base(filepath.Dir(chosen))
	}
	d.RuntimePath = chosen
}

// localAgentID synthesizes a stable identity for callers that never
// configured one.
func localAgentID() string {
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		name = "agent"
	}
	return name + "-auto"
}
