package manager

import (
	"context"
	"strconv"
	"strings"

	"github.com/magenthq/magent-core/config"
	"github.com/magenthq/magent-core/errs"
	"github.com/magenthq/magent-core/logger"
)

// AddTab creates an additional session inside the thread's worktree and
// appends it to the session list. When agent is true the session launches
// the thread's agent and joins the agent set; otherwise it is a plain
// shell. Returns the updated thread and the new session name.
func (m *ThreadManager) AddTab(ctx context.Context, threadID string, agent bool) (config.Thread, string, error) {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	thread, ok := m.settings.ThreadByID(threadID)
	if !ok {
		return config.Thread{}, "", notFoundThread(threadID)
	}
	if thread.IsArchived {
		return config.Thread{}, "", errs.Conflict("thread %s is archived", threadID)
	}

	project, ok := m.settings.ProjectByID(thread.ProjectID)
	if !ok {
		return config.Thread{}, "", notFoundProject(thread.ProjectID)
	}

	index := nextTabIndex(project.Slug(), threadID, thread.TmuxSessions)
	session := tabSessionName(project.Slug(), threadID, index)

	command := ""
	if agent {
		command = m.agentCommand(project, thread.AgentType)
	}

	env := m.sessionEnv(project, thread.Name, thread.WorktreePath)
	if err := m.tmux.CreateSession(ctx, session, thread.WorktreePath, env, command); err != nil {
		return config.Thread{}, "", err
	}

	m.settings.UpdateThread(threadID, func(t *config.Thread) {
		t.TmuxSessions = append(t.TmuxSessions, session)
		if agent {
			t.AgentTmuxSessions = append(t.AgentTmuxSessions, session)
		}
		t.LastFocusedSession = session
	})
	if err := m.settings.Save(); err != nil {
		return config.Thread{}, "", err
	}

	logger.WithThread(threadID).Info("tab added", "session", session, "agent", agent)
	m.publish(Event{Type: EventThreadsChanged, ThreadID: threadID})
	updated, _ := m.settings.ThreadByID(threadID)
	return updated, session, nil
}

// nextTabIndex allocates the next tab number. The unsuffixed first session
// is index 1; closed tabs leave gaps that are never reused, so the index
// is one past the highest seen.
func nextTabIndex(projectSlug, threadID string, sessions []string) int {
	base := sessionName(projectSlug, threadID)
	max := 1
	for _, s := range sessions {
		rest, ok := strings.CutPrefix(s, base+"-tab-")
		if !ok {
			continue
		}
		// Superseded tabs still count toward the high-water mark.
		rest, _, _ = strings.Cut(rest, supersededSuffix)
		if n, err := strconv.Atoi(rest); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

// CloseTab kills the session and removes it from every session set on the
// thread. The last remaining session of a non-archived thread cannot be
// closed.
func (m *ThreadManager) CloseTab(ctx context.Context, threadID, session string) error {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	thread, ok := m.settings.ThreadByID(threadID)
	if !ok {
		return notFoundThread(threadID)
	}
	if !thread.HasSession(session) {
		return errs.NotFound("session %s not found on thread %s", session, threadID)
	}
	if len(thread.TmuxSessions) == 1 {
		return errs.Conflict("cannot close the last session of thread %s", threadID)
	}

	if err := m.tmux.KillSession(ctx, session); err != nil {
		return err
	}

	m.settings.UpdateThread(threadID, func(t *config.Thread) {
		t.RemoveSession(session)
		if t.LastFocusedSession == "" && len(t.TmuxSessions) > 0 {
			t.LastFocusedSession = t.TmuxSessions[0]
		}
	})
	if err := m.settings.Save(); err != nil {
		return err
	}

	logger.WithThread(threadID).Info("tab closed", "session", session)
	m.publish(Event{Type: EventThreadsChanged, ThreadID: threadID})
	return nil
}

// RenameTab sets a custom display name for one session.
func (m *ThreadManager) RenameTab(threadID, session, displayName string) error {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	thread, ok := m.settings.ThreadByID(threadID)
	if !ok {
		return notFoundThread(threadID)
	}
	if !thread.HasSession(session) {
		return errs.NotFound("session %s not found on thread %s", session, threadID)
	}

	m.settings.UpdateThread(threadID, func(t *config.Thread) {
		if displayName == "" {
			delete(t.TabNames, session)
			return
		}
		if t.TabNames == nil {
			t.TabNames = make(map[string]string)
		}
		t.TabNames[session] = displayName
	})
	if err := m.settings.Save(); err != nil {
		return err
	}
	m.publish(Event{Type: EventThreadsChanged, ThreadID: threadID})
	return nil
}

// AssignSection moves the thread to a section. An empty section id means
// the default section.
func (m *ThreadManager) AssignSection(threadID, sectionID string) error {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	if sectionID != "" {
		if _, ok := m.settings.SectionByID(sectionID); !ok {
			return errs.NotFound("section %s not found", sectionID)
		}
	}

	found := m.settings.UpdateThread(threadID, func(t *config.Thread) { t.SectionID = sectionID })
	if !found {
		return notFoundThread(threadID)
	}
	if err := m.settings.Save(); err != nil {
		return err
	}
	m.publish(Event{Type: EventThreadsChanged, ThreadID: threadID})
	return nil
}

// SetPinned toggles the thread's pinned flag.
func (m *ThreadManager) SetPinned(threadID string, pinned bool) error {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	found := m.settings.UpdateThread(threadID, func(t *config.Thread) { t.IsPinned = pinned })
	if !found {
		return notFoundThread(threadID)
	}
	if err := m.settings.Save(); err != nil {
		return err
	}
	m.publish(Event{Type: EventThreadsChanged, ThreadID: threadID})
	return nil
}

// SetDisplayOrder sets the thread's explicit ordering position.
func (m *ThreadManager) SetDisplayOrder(threadID string, order int) error {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	found := m.settings.UpdateThread(threadID, func(t *config.Thread) { t.DisplayOrder = order })
	if !found {
		return notFoundThread(threadID)
	}
	if err := m.settings.Save(); err != nil {
		return err
	}
	m.publish(Event{Type: EventThreadsChanged, ThreadID: threadID})
	return nil
}

// SetFocusedSession records which session the user last focused.
func (m *ThreadManager) SetFocusedSession(threadID, session string) error {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	thread, ok := m.settings.ThreadByID(threadID)
	if !ok {
		return notFoundThread(threadID)
	}
	if !thread.HasSession(session) {
		return errs.NotFound("session %s not found on thread %s", session, threadID)
	}

	m.settings.UpdateThread(threadID, func(t *config.Thread) { t.LastFocusedSession = session })
	return m.settings.Save()
}

// AddSection creates a new grouping section.
func (m *ThreadManager) AddSection(name, colorHex string, position int) (config.Section, error) {
	if name == "" {
		return config.Section{}, errs.Validation("section name must not be empty")
	}
	if _, exists := m.settings.SectionByName(name); exists {
		return config.Section{}, errs.Conflict("section %q already exists", name)
	}

	sortOrder := position
	if sortOrder <= 0 {
		sortOrder = m.settings.NextSectionSortOrder()
	}
	section := config.Section{
		ID:        newSectionID(),
		Name:      name,
		ColorHex:  colorHex,
		SortOrder: sortOrder,
	}

	m.settings.AddSection(section)
	if err := m.settings.Save(); err != nil {
		return config.Section{}, err
	}

	logger.WithComponent("manager").Info("section added", "name", name)
	m.publish(Event{Type: EventThreadsChanged})
	return section, nil
}
