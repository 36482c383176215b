package config

import (
	"path/filepath"
	"strings"
)

// Project is a registered repository threads are created against.
type Project struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	RepoPath        string `json:"repoPath"`
	WorktreesPath   string `json:"worktreesPath,omitempty"`
	DefaultBranch   string `json:"defaultBranch,omitempty"`
	AgentType       string `json:"agentType,omitempty"`
	CommandOverride string `json:"commandOverride,omitempty"`
}

// ResolveWorktreePath computes the worktree path for a thread name. The
// project's worktrees path may carry a "{name}" template variable; without
// one the name is appended as a path component. An empty worktrees path
// falls back to fallbackBase.
func (p *Project) ResolveWorktreePath(fallbackBase, threadName string) string {
	base := p.WorktreesPath
	if base == "" {
		base = filepath.Join(fallbackBase, p.Slug())
	}
	if strings.Contains(base, "{name}") {
		return strings.ReplaceAll(base, "{name}", threadName)
	}
	return filepath.Join(base, threadName)
}

// Slug returns the project name lowered and reduced to [a-z0-9-], used in
// session names. Session names must stay parseable, so anything else
// becomes a hyphen.
func (p *Project) Slug() string {
	var b strings.Builder
	for _, r := range strings.ToLower(p.Name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	slug := b.String()
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return strings.Trim(slug, "-")
}

// ProjectByID returns a copy of the project with the given ID.
func (s *Settings) ProjectByID(id string) (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return Project{}, false
}

// ProjectByName returns a copy of the project with the given display name.
func (s *Settings) ProjectByName(name string) (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.Projects {
		if p.Name == name {
			return p, true
		}
	}
	return Project{}, false
}

// AllProjects returns copies of every project in display order.
func (s *Settings) AllProjects() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Project, len(s.Projects))
	copy(out, s.Projects)
	return out
}

// AddProject appends a project to the document.
func (s *Settings) AddProject(p Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Projects = append(s.Projects, p)
}

// UpdateProject applies fn to the project with the given ID under the
// write lock. Returns false if no such project exists.
func (s *Settings) UpdateProject(id string, fn func(*Project)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.Projects {
		if s.Projects[i].ID == id {
			fn(&s.Projects[i])
			return true
		}
	}
	return false
}
