package teamguard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mkdir700/pi-team/internal/model"
)

// clearDiscoveryEnv isolates a test from the host's daemon coordinates.
func clearDiscoveryEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TEAM_WORKSPACE_ROOT", "TEAM_ID", "AGENT_ID",
		"TEAMD_URL", "TEAMD_TOKEN", "TEAMD_TOKEN_FILE",
	} {
		t.Setenv(key, "")
	}
}

func writeRuntimeFile(t *testing.T, root, team, url, token string, mod time.Time) string {
	t.Helper()
	dir := filepath.Join(root, team)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("failed to create team dir: %v", err)
	}
	path := filepath.Join(dir, "runtime.json")
	raw, _ := json.Marshal(model.Runtime{SchemaVersion: 1, URL: url, Token: token, PID: 1234})
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("failed to write runtime descriptor: %v", err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}
	return path
}

func TestDiscoverFromEnv(t *testing.T) {
	clearDiscoveryEnv(t)
	t.Setenv("TEAM_ID", "demo")
	t.Setenv("AGENT_ID", "worker_a")
	t.Setenv("TEAMD_URL", "http://127.0.0.1:4100")
	t.Setenv("TEAMD_TOKEN", "env-token")

	d := Discover()
	if !d.Complete() {
		t.Fatalf("expected complete discovery, got %+v", d)
	}
	if d.Team != "demo" || d.Agent != "worker_a" {
		t.Errorf("expected demo/worker_a, got %s/%s", d.Team, d.Agent)
	}
	if d.URL != "http://127.0.0.1:4100" || d.Token != "env-token" {
		t.Errorf("expected env endpoint, got %s / %s", d.URL, d.Token)
	}
}

func TestExplicitOptionsBeatEnv(t *testing.T) {
	clearDiscoveryEnv(t)
	t.Setenv("TEAM_ID", "env-team")
	t.Setenv("TEAMD_TOKEN", "env-token")
	t.Setenv("TEAMD_URL", "http://127.0.0.1:1")

	d := Discover(WithTeam("opt-team"), WithToken("opt-token"))
	if d.Team != "opt-team" {
		t.Errorf("expected option team to win, got %q", d.Team)
	}
	if d.Token != "opt-token" {
		t.Errorf("expected option token to win, got %q", d.Token)
	}
	if d.URL != "http://127.0.0.1:1" {
		t.Errorf("expected env to fill the url gap, got %q", d.URL)
	}
}

func TestDiscoverFromTokenFileRaw(t *testing.T) {
	clearDiscoveryEnv(t)
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("file-token\n"), 0o600); err != nil {
		t.Fatalf("failed to write token file: %v", err)
	}
	t.Setenv("TEAMD_URL", "http://127.0.0.1:4100")
	t.Setenv("TEAMD_TOKEN_FILE", path)

	d := Discover(WithTeam("demo"), WithAgent("worker_a"))
	if d.Token != "file-token" {
		t.Errorf("expected raw token from file, got %q", d.Token)
	}
	if !d.Complete() {
		t.Errorf("expected complete discovery, got %+v", d)
	}
}

func TestDiscoverFromTokenFileJSON(t *testing.T) {
	clearDiscoveryEnv(t)
	path := filepath.Join(t.TempDir(), "token.json")
	payload := `{"token":"json-token","url":"http://127.0.0.1:4200"}`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("failed to write token file: %v", err)
	}

	d := Discover(WithTeam("demo"), WithAgent("worker_a"), WithTokenFile(path))
	if d.Token != "json-token" {
		t.Errorf("expected token from JSON file, got %q", d.Token)
	}
	if d.URL != "http://127.0.0.1:4200" {
		t.Errorf("expected url from JSON file, got %q", d.URL)
	}
}

func TestEnvTokenBeatsTokenFile(t *testing.T) {
	clearDiscoveryEnv(t)
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("file-token"), 0o600); err != nil {
		t.Fatalf("failed to write token file: %v", err)
	}
	t.Setenv("TEAMD_TOKEN", "env-token")
	t.Setenv("TEAMD_URL", "http://127.0.0.1:4100")
	t.Setenv("TEAMD_TOKEN_FILE", path)

	d := Discover(WithTeam("demo"))
	if d.Token != "env-token" {
		t.Errorf("expected env token to beat the file, got %q", d.Token)
	}
}

func TestDiscoverFromRuntimeScanNewestWins(t *testing.T) {
	clearDiscoveryEnv(t)
	root := t.TempDir()
	old := time.Now().Add(-time.Hour)
	writeRuntimeFile(t, root, "alpha", "http://127.0.0.1:4101", "alpha-token", old)
	writeRuntimeFile(t, root, "beta", "http://127.0.0.1:4102", "beta-token", time.Now())

	d := Discover(WithWorkspaceRoot(root))
	if d.Team != "beta" {
		t.Errorf("expected newest descriptor's team, got %q", d.Team)
	}
	if d.Token != "beta-token" || d.URL != "http://127.0.0.1:4102" {
		t.Errorf("expected beta coordinates, got %s / %s", d.URL, d.Token)
	}
	if d.RuntimePath == "" || filepath.Base(filepath.Dir(d.RuntimePath)) != "beta" {
		t.Errorf("expected runtime path under beta, got %q", d.RuntimePath)
	}
}

func TestDiscoverScanRestrictedToTeam(t *testing.T) {
	clearDiscoveryEnv(t)
	root := t.TempDir()
	writeRuntimeFile(t, root, "alpha", "http://127.0.0.1:4101", "alpha-token", time.Now().Add(-time.Hour))
	writeRuntimeFile(t, root, "beta", "http://127.0.0.1:4102", "beta-token", time.Now())

	d := Discover(WithWorkspaceRoot(root), WithTeam("alpha"))
	if d.Token != "alpha-token" {
		t.Errorf("expected the pinned team's descriptor, got %q", d.Token)
	}
}

func TestAgentFallbackSynthesized(t *testing.T) {
	clearDiscoveryEnv(t)
	d := Discover(WithWorkspaceRoot(t.TempDir()))
	if !strings.HasSuffix(d.Agent, "-auto") {
		t.Errorf("expected synthesized -auto agent id, got %q", d.Agent)
	}
}
