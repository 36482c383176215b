// Package config owns the persisted application state: the single
// settings.json document holding projects, threads, and sections, plus the
// agents.yaml preset file. The document is loaded once at startup and
// rewritten atomically on every mutation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/magenthq/magent-core/errs"
	"github.com/magenthq/magent-core/paths"
)

// Settings is the root persisted document.
type Settings struct {
	Projects         []Project `json:"projects"`
	Threads          []Thread  `json:"threads"`
	ThreadSections   []Section `json:"threadSections"`
	AgentCommand     string    `json:"agentCommand,omitempty"`
	AgentType        string    `json:"agentType,omitempty"`
	InjectionStrings []string  `json:"injectionStrings,omitempty"`
	Configured       bool      `json:"configured,omitempty"`

	mu       sync.RWMutex
	filePath string
}

// Load reads the settings from disk, or creates a fresh document if none
// exists yet.
func Load() (*Settings, error) {
	path, err := paths.SettingsFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the settings from an explicit path. Used by tests.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{filePath: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.ensureInitialized()
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// Initialization and migration must happen before Validate, which only reads.
	s.ensureInitialized()
	s.migrate()

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// ensureInitialized ensures all slices are initialized (not nil) after
// unmarshaling.
//
// Thread-safety: NOT thread-safe, must only be called during single-threaded
// initialization from Load/LoadFrom before the Settings is shared.
func (s *Settings) ensureInitialized() {
	if s.Projects == nil {
		s.Projects = []Project{}
	}
	if s.Threads == nil {
		s.Threads = []Thread{}
	}
	if s.ThreadSections == nil {
		s.ThreadSections = []Section{}
	}
	if s.InjectionStrings == nil {
		s.InjectionStrings = []string{}
	}
}

// migrate applies one-time schema migrations to a freshly loaded document.
// Every added field is optional-with-default; migrations here cover the
// cases where semantics changed shape.
func (s *Settings) migrate() {
	for i := range s.Threads {
		s.Threads[i].migrate()
	}
}

// Validate checks that the document is internally consistent.
func (s *Settings) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seenIDs := make(map[string]bool)
	seenWorktrees := make(map[string]string)
	mains := make(map[string]int)

	for _, th := range s.Threads {
		if th.ID == "" {
			return fmt.Errorf("thread with empty ID found")
		}
		if seenIDs[th.ID] {
			return fmt.Errorf("duplicate thread ID: %s", th.ID)
		}
		seenIDs[th.ID] = true

		if th.ProjectID == "" {
			return fmt.Errorf("thread %s has empty project ID", th.ID)
		}
		if th.WorktreePath == "" {
			return fmt.Errorf("thread %s has empty worktree path", th.ID)
		}
		if th.Branch == "" && !th.IsMain {
			return fmt.Errorf("thread %s has empty branch", th.ID)
		}

		// worktreePath must be unique among non-archived threads.
		if !th.IsArchived {
			if other, ok := seenWorktrees[th.WorktreePath]; ok {
				return fmt.Errorf("threads %s and %s share worktree path %s", other, th.ID, th.WorktreePath)
			}
			seenWorktrees[th.WorktreePath] = th.ID
		}

		if th.IsMain {
			mains[th.ProjectID]++
			if mains[th.ProjectID] > 1 {
				return fmt.Errorf("project %s has more than one main thread", th.ProjectID)
			}
		}
	}

	seenProjects := make(map[string]bool)
	for _, p := range s.Projects {
		if p.ID == "" {
			return fmt.Errorf("project with empty ID found")
		}
		if seenProjects[p.ID] {
			return fmt.Errorf("duplicate project ID: %s", p.ID)
		}
		seenProjects[p.ID] = true
		if p.RepoPath == "" {
			return fmt.Errorf("project %s has empty repo path", p.ID)
		}
	}

	return nil
}

// Save writes the document to disk by atomic replace-on-write: marshal to a
// temp file in the target directory, then rename over the target. A crash
// mid-write never corrupts the previous document.
func (s *Settings) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Persistence(err, "failed to create settings directory %s", dir)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errs.Persistence(err, "failed to marshal settings")
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return errs.Persistence(err, "failed to create temp settings file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Persistence(err, "failed to write temp settings file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Persistence(err, "failed to close temp settings file")
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		os.Remove(tmpPath)
		return errs.Persistence(err, "failed to replace settings file")
	}

	return nil
}

// SetFilePath sets the settings file path (for testing).
func (s *Settings) SetFilePath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filePath = path
}

// FilePath returns the path the document is persisted to.
func (s *Settings) FilePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filePath
}
