package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", JSON: true, Output: &buf})
	log.Debug().Str("k", "v").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "hello" {
		t.Errorf("expected message hello, got %v", entry["message"])
	}
	if entry["k"] != "v" {
		t.Errorf("expected field k=v, got %v", entry["k"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", JSON: true, Output: &buf})
	log.Info().Msg("dropped")
	log.Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("expected info to be filtered at warn level, got %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("expected warn to pass, got %q", out)
	}
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "bogus", JSON: true, Output: &buf})
	log.Debug().Msg("dropped")
	log.Info().Msg("kept")

	if strings.Contains(buf.String(), "dropped") {
		t.Errorf("expected debug filtered under default info level")
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected info to pass under default level")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := WithComponent(New(Config{JSON: true, Output: &buf}), "store")
	log.Info().Msg("tagged")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log line: %v", err)
	}
	if entry["component"] != "store" {
		t.Errorf("expected component store, got %v", entry["component"])
	}
}
