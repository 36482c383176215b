package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/magenthq/magent-core/paths"
)

// AgentPreset describes how one agent type is launched and how its pane
// output is classified by the session monitor.
type AgentPreset struct {
	// Command is the program typed into a fresh session. Empty means a
	// plain shell with nothing started.
	Command string `yaml:"command"`

	// BusyPatterns mark the agent as actively working when present in
	// recent pane output.
	BusyPatterns []string `yaml:"busy_patterns"`

	// WaitingPatterns mark the agent as blocked on user input.
	WaitingPatterns []string `yaml:"waiting_patterns"`
}

// Agents maps agent type names to their presets.
type Agents struct {
	Presets map[string]AgentPreset `yaml:"agents"`
}

// DefaultAgents returns the built-in presets used when agents.yaml is
// absent or silent about a type.
func DefaultAgents() *Agents {
	return &Agents{
		Presets: map[string]AgentPreset{
			"claude": {
				Command:         "claude",
				BusyPatterns:    []string{"esc to interrupt", "ctrl+c to interrupt"},
				WaitingPatterns: []string{"Do you want", "❯ 1."},
			},
			"shell": {},
		},
	}
}

// LoadAgents reads agents.yaml from the config directory, merging user
// presets over the defaults. A missing file yields the defaults.
func LoadAgents() (*Agents, error) {
	path, err := paths.AgentsFilePath()
	if err != nil {
		return nil, err
	}
	return LoadAgentsFrom(path)
}

// LoadAgentsFrom reads agent presets from an explicit path. Used by tests.
func LoadAgentsFrom(path string) (*Agents, error) {
	agents := DefaultAgents()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return agents, nil
	}
	if err != nil {
		return nil, err
	}

	var loaded Agents
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// User presets win over defaults per type; unnamed types keep defaults.
	for name, preset := range loaded.Presets {
		agents.Presets[name] = preset
	}

	return agents, nil
}

// Preset returns the preset for an agent type, falling back to a plain
// shell for unknown types.
func (a *Agents) Preset(agentType string) AgentPreset {
	if p, ok := a.Presets[agentType]; ok {
		return p
	}
	return AgentPreset{}
}
