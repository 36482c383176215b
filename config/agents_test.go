package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAgentsMissingFileYieldsDefaults(t *testing.T) {
	agents, err := LoadAgentsFrom(filepath.Join(t.TempDir(), "agents.yaml"))
	if err != nil {
		t.Fatalf("LoadAgentsFrom: %v", err)
	}

	claude := agents.Preset("claude")
	if claude.Command != "claude" {
		t.Errorf("claude command = %q", claude.Command)
	}
	if len(claude.BusyPatterns) == 0 {
		t.Error("claude preset should carry busy patterns")
	}

	shell := agents.Preset("shell")
	if shell.Command != "" {
		t.Errorf("shell command = %q, want empty", shell.Command)
	}
}

func TestLoadAgentsMergesUserPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	doc := `agents:
  aider:
    command: aider --watch
    busy_patterns: ["Processing"]
    waiting_patterns: ["Apply changes?"]
  claude:
    command: claude --continue
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	agents, err := LoadAgentsFrom(path)
	if err != nil {
		t.Fatalf("LoadAgentsFrom: %v", err)
	}

	if got := agents.Preset("aider").Command; got != "aider --watch" {
		t.Errorf("aider command = %q", got)
	}
	// User preset replaces the default wholesale.
	if got := agents.Preset("claude").Command; got != "claude --continue" {
		t.Errorf("claude command = %q", got)
	}
	// Types not mentioned keep their defaults.
	if _, ok := agents.Presets["shell"]; !ok {
		t.Error("shell default dropped by merge")
	}
}

func TestPresetUnknownTypeIsPlainShell(t *testing.T) {
	agents := DefaultAgents()
	p := agents.Preset("no-such-agent")
	if p.Command != "" || len(p.BusyPatterns) != 0 || len(p.WaitingPatterns) != 0 {
		t.Errorf("unknown type should be a zero preset, got %+v", p)
	}
}

func TestLoadAgentsRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	if err := os.WriteFile(path, []byte("agents: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAgentsFrom(path); err == nil {
		t.Error("expected parse error")
	}
}
