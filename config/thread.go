package config

import (
	"slices"
	"time"
)

// Thread is the persisted record of one work session: a worktree, its
// branch, and the tmux sessions attached to it. Transient activity state
// (busy, waiting, dirty, delivered) is never stored here; the orchestrator
// keeps it in a separate overlay keyed by thread ID.
type Thread struct {
	ID                       string            `json:"id"`
	ProjectID                string            `json:"projectId"`
	Name                     string            `json:"name"`
	WorktreePath             string            `json:"worktreePath"`
	Branch                   string            `json:"branch,omitempty"`
	TmuxSessions             []string          `json:"tmuxSessions"`
	AgentTmuxSessions        []string          `json:"agentTmuxSessions,omitempty"`
	PinnedTmuxSessions       []string          `json:"pinnedTmuxSessions,omitempty"`
	CreatedAt                time.Time         `json:"createdAt"`
	IsArchived               bool              `json:"isArchived,omitempty"`
	SectionID                string            `json:"sectionId,omitempty"`
	IsMain                   bool              `json:"isMain,omitempty"`
	AgentType                string            `json:"agentType,omitempty"`
	LastFocusedSession       string            `json:"lastFocusedSession,omitempty"`
	AgentEverRan             bool              `json:"agentEverRan,omitempty"`
	IsPinned                 bool              `json:"isPinned,omitempty"`
	LastCompletionAt         *time.Time        `json:"lastCompletionAt,omitempty"`
	UnreadCompletionSessions []string          `json:"unreadCompletionSessions,omitempty"`
	AutoRenameApplied        bool              `json:"autoRenameApplied,omitempty"`
	TabNames                 map[string]string `json:"tabNames,omitempty"`
	BaseBranch               string            `json:"baseBranch,omitempty"`
	DisplayOrder             int               `json:"displayOrder,omitempty"`

	// HasUnreadCompletion is the pre-set-valued form of
	// UnreadCompletionSessions. Read for migration only, never written.
	HasUnreadCompletion *bool `json:"hasUnreadCompletion,omitempty"`
}

// migrate upgrades legacy field shapes on a freshly loaded thread.
func (t *Thread) migrate() {
	// A plain boolean used to mark "some session completed unread". Expand
	// it to the per-session set: every agent session is marked unread.
	if t.HasUnreadCompletion != nil {
		if *t.HasUnreadCompletion && len(t.UnreadCompletionSessions) == 0 {
			t.UnreadCompletionSessions = slices.Clone(t.AgentTmuxSessions)
		}
		t.HasUnreadCompletion = nil
	}
}

// Clone returns a deep copy of the thread. Callers receive copies so the
// orchestrator's canonical record can never be mutated from outside.
func (t Thread) Clone() Thread {
	c := t
	c.TmuxSessions = slices.Clone(t.TmuxSessions)
	c.AgentTmuxSessions = slices.Clone(t.AgentTmuxSessions)
	c.PinnedTmuxSessions = slices.Clone(t.PinnedTmuxSessions)
	c.UnreadCompletionSessions = slices.Clone(t.UnreadCompletionSessions)
	if t.TabNames != nil {
		c.TabNames = make(map[string]string, len(t.TabNames))
		for k, v := range t.TabNames {
			c.TabNames[k] = v
		}
	}
	if t.LastCompletionAt != nil {
		at := *t.LastCompletionAt
		c.LastCompletionAt = &at
	}
	return c
}

// HasSession reports whether name is one of the thread's sessions.
func (t *Thread) HasSession(name string) bool {
	return slices.Contains(t.TmuxSessions, name)
}

// IsAgentSession reports whether name is one of the thread's agent-bearing
// sessions.
func (t *Thread) IsAgentSession(name string) bool {
	return slices.Contains(t.AgentTmuxSessions, name)
}

// RemoveSession drops name from every session set on the thread.
func (t *Thread) RemoveSession(name string) {
	t.TmuxSessions = slices.DeleteFunc(t.TmuxSessions, func(s string) bool { return s == name })
	t.AgentTmuxSessions = slices.DeleteFunc(t.AgentTmuxSessions, func(s string) bool { return s == name })
	t.PinnedTmuxSessions = slices.DeleteFunc(t.PinnedTmuxSessions, func(s string) bool { return s == name })
	t.UnreadCompletionSessions = slices.DeleteFunc(t.UnreadCompletionSessions, func(s string) bool { return s == name })
	delete(t.TabNames, name)
	if t.LastFocusedSession == name {
		t.LastFocusedSession = ""
	}
}

// FocusedAgentSession returns the session a prompt should be delivered to:
// the last-focused session if it bears an agent, otherwise the first agent
// session. Empty when the thread has no agent sessions.
func (t *Thread) FocusedAgentSession() string {
	if t.LastFocusedSession != "" && t.IsAgentSession(t.LastFocusedSession) {
		return t.LastFocusedSession
	}
	if len(t.AgentTmuxSessions) > 0 {
		return t.AgentTmuxSessions[0]
	}
	return ""
}

// ThreadByID returns a copy of the thread with the given ID.
func (s *Settings) ThreadByID(id string) (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.Threads {
		if s.Threads[i].ID == id {
			return s.Threads[i].Clone(), true
		}
	}
	return Thread{}, false
}

// ThreadByName returns a copy of the first non-archived thread with the
// given display name.
func (s *Settings) ThreadByName(name string) (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.Threads {
		if s.Threads[i].Name == name && !s.Threads[i].IsArchived {
			return s.Threads[i].Clone(), true
		}
	}
	return Thread{}, false
}

// AllThreads returns copies of every thread, archived included.
func (s *Settings) AllThreads() []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Thread, 0, len(s.Threads))
	for i := range s.Threads {
		out = append(out, s.Threads[i].Clone())
	}
	return out
}

// ActiveThreads returns copies of every non-archived thread.
func (s *Settings) ActiveThreads() []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Thread
	for i := range s.Threads {
		if !s.Threads[i].IsArchived {
			out = append(out, s.Threads[i].Clone())
		}
	}
	return out
}

// ThreadsForProject returns copies of the project's threads, archived
// included.
func (s *Settings) ThreadsForProject(projectID string) []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Thread
	for i := range s.Threads {
		if s.Threads[i].ProjectID == projectID {
			out = append(out, s.Threads[i].Clone())
		}
	}
	return out
}

// MainThread returns a copy of the project's main thread.
func (s *Settings) MainThread(projectID string) (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.Threads {
		if s.Threads[i].ProjectID == projectID && s.Threads[i].IsMain {
			return s.Threads[i].Clone(), true
		}
	}
	return Thread{}, false
}

// AddThread appends a thread to the document.
func (s *Settings) AddThread(t Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Threads = append(s.Threads, t.Clone())
}

// UpdateThread applies fn to the thread with the given ID under the write
// lock. Returns false if no such thread exists.
func (s *Settings) UpdateThread(id string, fn func(*Thread)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.Threads {
		if s.Threads[i].ID == id {
			fn(&s.Threads[i])
			return true
		}
	}
	return false
}

// RemoveThread deletes the thread record entirely. Returns false if no
// such thread exists.
func (s *Settings) RemoveThread(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.Threads {
		if s.Threads[i].ID == id {
			s.Threads = append(s.Threads[:i], s.Threads[i+1:]...)
			return true
		}
	}
	return false
}

// WorktreePathInUse reports whether any non-archived thread already uses
// the given worktree path.
func (s *Settings) WorktreePathInUse(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.Threads {
		if !s.Threads[i].IsArchived && s.Threads[i].WorktreePath == path {
			return true
		}
	}
	return false
}
