package manager

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magenthq/magent-core/config"
	"github.com/magenthq/magent-core/errs"
	"github.com/magenthq/magent-core/logger"
)

const maxNameAttempts = 10

func notFoundThread(id string) error {
	return errs.NotFound("thread %s not found", id)
}

func notFoundProject(id string) error {
	return errs.NotFound("project %s not found", id)
}

// sessionEnv builds the environment injected into every session of a
// thread. The agent process consumes these; the engine never interprets
// them.
func (m *ThreadManager) sessionEnv(project config.Project, threadName, worktreePath string) []string {
	return []string{
		"MAGENT_WORKTREE=" + worktreePath,
		"MAGENT_PROJECT_PATH=" + project.RepoPath,
		"MAGENT_WORKTREE_NAME=" + threadName,
		"MAGENT_PROJECT_NAME=" + project.Name,
		"MAGENT_SOCKET=" + m.socketPath,
	}
}

// resolveAgentType picks the agent type for a new thread: explicit request,
// then project override, then global setting, then claude.
func (m *ThreadManager) resolveAgentType(project config.Project, requested string) string {
	if requested != "" {
		return requested
	}
	if project.AgentType != "" {
		return project.AgentType
	}
	if t := m.settings.AgentType; t != "" {
		return t
	}
	return "claude"
}

// agentCommand resolves the command typed into a fresh agent session:
// project override, then global command, then the preset for the agent
// type. Global injection strings are appended as extra arguments.
func (m *ThreadManager) agentCommand(project config.Project, agentType string) string {
	cmd := project.CommandOverride
	if cmd == "" {
		cmd = m.settings.AgentCommand
	}
	if cmd == "" {
		cmd = m.agents.Preset(agentType).Command
	}
	if cmd == "" {
		return ""
	}
	if extra := m.settings.InjectionStrings; len(extra) > 0 {
		cmd = strings.Join(append([]string{cmd}, extra...), " ")
	}
	return cmd
}

// CreateThread creates a new thread for the project: a generated (or
// validated explicit) name, a worktree on a fresh branch, and one agent
// session rooted in it. baseBranch defaults to the project's default
// branch, detected when unset.
func (m *ThreadManager) CreateThread(ctx context.Context, projectID, name, baseBranch, agentType string) (config.Thread, error) {
	project, ok := m.settings.ProjectByID(projectID)
	if !ok {
		return config.Thread{}, notFoundProject(projectID)
	}

	// Name generation and worktree allocation serialize per project so
	// two concurrent creates can never claim the same path.
	release := m.ops.acquire(projectKey(projectID))
	defer release()

	explicit := name != ""
	if explicit && !ValidThreadName(name) {
		return config.Thread{}, errs.Validation("invalid thread name %q", name)
	}

	var worktreePath string
	if explicit {
		if _, taken := m.settings.ThreadByName(name); taken {
			return config.Thread{}, errs.Conflict("thread name %q already in use", name)
		}
		worktreePath = project.ResolveWorktreePath(m.worktreesBase, name)
		if m.settings.WorktreePathInUse(worktreePath) {
			return config.Thread{}, errs.Conflict("worktree path %s already in use", worktreePath)
		}
	} else {
		for attempt := 0; ; attempt++ {
			if attempt >= maxNameAttempts {
				return config.Thread{}, errs.Conflict("could not generate an unused thread name after %d attempts", maxNameAttempts)
			}
			name = randomThreadName()
			if _, taken := m.settings.ThreadByName(name); taken {
				continue
			}
			worktreePath = project.ResolveWorktreePath(m.worktreesBase, name)
			if !m.settings.WorktreePathInUse(worktreePath) {
				break
			}
		}
	}

	base := baseBranch
	if base == "" {
		base = project.DefaultBranch
	}
	if base == "" {
		base = m.git.DetectDefaultBranch(ctx, project.RepoPath)
	}

	branch := branchForName(name)
	id := uuid.New().String()[:8]
	session := sessionName(project.Slug(), id)
	resolvedAgent := m.resolveAgentType(project, agentType)

	log := logger.WithThread(id)
	log.Info("creating thread", "project", project.Name, "name", name, "branch", branch, "base", base)

	if err := m.git.AddWorktree(ctx, project.RepoPath, worktreePath, branch, base); err != nil {
		return config.Thread{}, err
	}

	env := m.sessionEnv(project, name, worktreePath)
	if err := m.tmux.CreateSession(ctx, session, worktreePath, env, m.agentCommand(project, resolvedAgent)); err != nil {
		// Roll the worktree back so a failed create leaves nothing behind.
		if rbErr := m.git.RemoveWorktree(ctx, project.RepoPath, worktreePath); rbErr != nil {
			log.Warn("worktree rollback failed", "error", rbErr)
		}
		return config.Thread{}, err
	}

	thread := config.Thread{
		ID:                 id,
		ProjectID:          project.ID,
		Name:               name,
		WorktreePath:       worktreePath,
		Branch:             branch,
		BaseBranch:         baseBranch,
		TmuxSessions:       []string{session},
		AgentTmuxSessions:  []string{session},
		CreatedAt:          time.Now(),
		AgentType:          resolvedAgent,
		LastFocusedSession: session,
		DisplayOrder:       len(m.settings.ThreadsForProject(project.ID)),
	}

	m.settings.AddThread(thread)
	if err := m.settings.Save(); err != nil {
		return config.Thread{}, err
	}

	log.Info("thread created", "session", session)
	m.publish(Event{Type: EventThreadsChanged, ThreadID: id})
	return thread, nil
}

// CreateMainThread binds a synthetic thread to the project's existing
// checkout. No worktree is created. Idempotent: if the project already has
// a main thread it is returned unchanged.
func (m *ThreadManager) CreateMainThread(ctx context.Context, projectID string) (config.Thread, error) {
	project, ok := m.settings.ProjectByID(projectID)
	if !ok {
		return config.Thread{}, notFoundProject(projectID)
	}

	release := m.ops.acquire(projectKey(projectID))
	defer release()

	if existing, ok := m.settings.MainThread(projectID); ok {
		return existing, nil
	}

	branch := project.DefaultBranch
	if branch == "" {
		branch = m.git.DetectDefaultBranch(ctx, project.RepoPath)
	}

	id := uuid.New().String()[:8]
	session := sessionName(project.Slug(), id)
	resolvedAgent := m.resolveAgentType(project, "")

	env := m.sessionEnv(project, "main", project.RepoPath)
	if err := m.tmux.CreateSession(ctx, session, project.RepoPath, env, m.agentCommand(project, resolvedAgent)); err != nil {
		return config.Thread{}, err
	}

	thread := config.Thread{
		ID:                 id,
		ProjectID:          project.ID,
		Name:               "main",
		WorktreePath:       project.RepoPath,
		Branch:             branch,
		TmuxSessions:       []string{session},
		AgentTmuxSessions:  []string{session},
		CreatedAt:          time.Now(),
		IsMain:             true,
		AgentType:          resolvedAgent,
		LastFocusedSession: session,
	}

	m.settings.AddThread(thread)
	if err := m.settings.Save(); err != nil {
		return config.Thread{}, err
	}

	logger.WithThread(id).Info("main thread created", "project", project.Name)
	m.publish(Event{Type: EventThreadsChanged, ThreadID: id})
	return thread, nil
}

// RenameThread renames a thread: worktree path, branch, and session names
// are all recomputed. Running sessions are never disrupted — they keep
// working inside the moved directory and are renamed with a superseded
// suffix, while one fresh session is opened rooted at the new path.
// The main thread only changes its display name.
func (m *ThreadManager) RenameThread(ctx context.Context, threadID, newName string) (config.Thread, error) {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	thread, ok := m.settings.ThreadByID(threadID)
	if !ok {
		return config.Thread{}, notFoundThread(threadID)
	}
	if thread.IsArchived {
		return config.Thread{}, errs.Conflict("thread %s is archived", threadID)
	}
	if !ValidThreadName(newName) {
		return config.Thread{}, errs.Validation("invalid thread name %q", newName)
	}
	if newName == thread.Name {
		return thread, nil
	}
	if _, taken := m.settings.ThreadByName(newName); taken {
		return config.Thread{}, errs.Conflict("thread name %q already in use", newName)
	}

	if thread.IsMain {
		m.settings.UpdateThread(threadID, func(t *config.Thread) { t.Name = newName })
		if err := m.settings.Save(); err != nil {
			return config.Thread{}, err
		}
		m.publish(Event{Type: EventThreadsChanged, ThreadID: threadID})
		updated, _ := m.settings.ThreadByID(threadID)
		return updated, nil
	}

	project, ok := m.settings.ProjectByID(thread.ProjectID)
	if !ok {
		return config.Thread{}, notFoundProject(thread.ProjectID)
	}

	newWorktreePath := project.ResolveWorktreePath(m.worktreesBase, newName)
	if m.settings.WorktreePathInUse(newWorktreePath) {
		return config.Thread{}, errs.Conflict("worktree path %s already in use", newWorktreePath)
	}
	newBranch := branchForName(newName)

	log := logger.WithThread(threadID)
	log.Info("renaming thread", "oldName", thread.Name, "newName", newName)

	if err := m.git.MoveWorktree(ctx, project.RepoPath, thread.WorktreePath, newWorktreePath); err != nil {
		return config.Thread{}, err
	}
	if err := m.git.RenameBranch(ctx, newWorktreePath, thread.Branch, newBranch); err != nil {
		// Move the worktree back so the record keeps pointing at a
		// directory that exists.
		if rbErr := m.git.MoveWorktree(ctx, project.RepoPath, newWorktreePath, thread.WorktreePath); rbErr != nil {
			log.Warn("worktree move rollback failed", "error", rbErr)
		}
		return config.Thread{}, err
	}

	// Old sessions stay alive under superseded names; the running shells
	// follow the moved directory.
	superseded := make(map[string]string, len(thread.TmuxSessions))
	for _, old := range thread.TmuxSessions {
		if !m.tmux.SessionExists(ctx, old) {
			continue
		}
		marked := m.uniqueSupersededName(ctx, old)
		if err := m.tmux.RenameSession(ctx, old, marked); err != nil {
			log.Warn("failed to mark session superseded", "session", old, "error", err)
			continue
		}
		superseded[old] = marked
	}

	newSession := sessionName(project.Slug(), threadID)
	env := m.sessionEnv(project, newName, newWorktreePath)
	if err := m.tmux.CreateSession(ctx, newSession, newWorktreePath, env, m.agentCommand(project, thread.AgentType)); err != nil {
		return config.Thread{}, err
	}

	m.settings.UpdateThread(threadID, func(t *config.Thread) {
		t.Name = newName
		t.WorktreePath = newWorktreePath
		t.Branch = newBranch

		rename := func(list []string) []string {
			out := make([]string, len(list))
			for i, s := range list {
				if marked, ok := superseded[s]; ok {
					out[i] = marked
				} else {
					out[i] = s
				}
			}
			return out
		}
		t.TmuxSessions = append(rename(t.TmuxSessions), newSession)
		t.AgentTmuxSessions = append(rename(t.AgentTmuxSessions), newSession)
		t.PinnedTmuxSessions = rename(t.PinnedTmuxSessions)
		t.UnreadCompletionSessions = rename(t.UnreadCompletionSessions)
		if t.TabNames != nil {
			renamed := make(map[string]string, len(t.TabNames))
			for k, v := range t.TabNames {
				if marked, ok := superseded[k]; ok {
					renamed[marked] = v
				} else {
					renamed[k] = v
				}
			}
			t.TabNames = renamed
		}
		t.LastFocusedSession = newSession
	})

	if err := m.settings.Save(); err != nil {
		return config.Thread{}, err
	}

	log.Info("thread renamed", "worktree", newWorktreePath, "branch", newBranch)
	m.publish(Event{Type: EventThreadsChanged, ThreadID: threadID})
	updated, _ := m.settings.ThreadByID(threadID)
	return updated, nil
}

// uniqueSupersededName finds an unused superseded name for a session.
func (m *ThreadManager) uniqueSupersededName(ctx context.Context, session string) string {
	candidate := session + supersededSuffix
	for n := 2; m.tmux.SessionExists(ctx, candidate); n++ {
		candidate = fmt.Sprintf("%s%s-%d", session, supersededSuffix, n)
	}
	return candidate
}

// ArchiveThread removes the thread's worktree (the branch is kept), kills
// its sessions, and marks it archived. Fails closed: if worktree removal
// fails the thread stays un-archived and the error surfaces. Archiving an
// archived thread is a no-op.
func (m *ThreadManager) ArchiveThread(ctx context.Context, threadID string) error {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	return m.archiveLocked(ctx, threadID)
}

// archiveLocked is the archive body, shared with DeleteThread. Caller must
// hold the thread's op lock.
func (m *ThreadManager) archiveLocked(ctx context.Context, threadID string) error {
	thread, ok := m.settings.ThreadByID(threadID)
	if !ok {
		return notFoundThread(threadID)
	}
	if thread.IsArchived {
		return nil
	}
	if thread.IsMain {
		return errs.Conflict("cannot archive the main thread")
	}

	project, ok := m.settings.ProjectByID(thread.ProjectID)
	if !ok {
		return notFoundProject(thread.ProjectID)
	}

	log := logger.WithThread(threadID)

	// Destructive external action first; the record flips only on success.
	if _, err := os.Stat(thread.WorktreePath); err == nil {
		if err := m.git.RemoveWorktree(ctx, project.RepoPath, thread.WorktreePath); err != nil {
			return err
		}
	}

	for _, session := range thread.TmuxSessions {
		if err := m.tmux.KillSession(ctx, session); err != nil {
			log.Warn("failed to kill session", "session", session, "error", err)
		}
	}

	m.settings.UpdateThread(threadID, func(t *config.Thread) { t.IsArchived = true })
	if err := m.settings.Save(); err != nil {
		return err
	}

	m.clearStatus(threadID)
	log.Info("thread archived", "worktree", thread.WorktreePath)
	m.publish(Event{Type: EventThreadsChanged, ThreadID: threadID})
	return nil
}

// DeleteThread archives the thread if needed, then deletes its branch and
// removes the record entirely. Irreversible.
func (m *ThreadManager) DeleteThread(ctx context.Context, threadID string) error {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	thread, ok := m.settings.ThreadByID(threadID)
	if !ok {
		return notFoundThread(threadID)
	}
	if thread.IsMain {
		return errs.Conflict("cannot delete the main thread")
	}

	if err := m.archiveLocked(ctx, threadID); err != nil {
		return err
	}

	project, ok := m.settings.ProjectByID(thread.ProjectID)
	if !ok {
		return notFoundProject(thread.ProjectID)
	}

	if thread.Branch != "" && m.git.BranchExists(ctx, project.RepoPath, thread.Branch) {
		if err := m.git.DeleteBranch(ctx, project.RepoPath, thread.Branch); err != nil {
			return err
		}
	}

	m.settings.RemoveThread(threadID)
	if err := m.settings.Save(); err != nil {
		return err
	}

	logger.WithThread(threadID).Info("thread deleted", "branch", thread.Branch)
	m.publish(Event{Type: EventThreadsChanged, ThreadID: threadID})
	return nil
}

// SendPrompt delivers prompt text to the thread's focused agent session
// and records that the agent has run.
func (m *ThreadManager) SendPrompt(ctx context.Context, threadID, prompt string) error {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	thread, ok := m.settings.ThreadByID(threadID)
	if !ok {
		return notFoundThread(threadID)
	}
	if thread.IsArchived {
		return errs.Conflict("thread %s is archived", threadID)
	}

	session := thread.FocusedAgentSession()
	if session == "" {
		return errs.Conflict("thread %s has no agent session", threadID)
	}

	if err := m.tmux.SendKeys(ctx, session, prompt, false); err != nil {
		return err
	}

	if !thread.AgentEverRan {
		m.settings.UpdateThread(threadID, func(t *config.Thread) { t.AgentEverRan = true })
		if err := m.settings.Save(); err != nil {
			return err
		}
	}

	logger.WithThread(threadID).Info("prompt sent", "session", session, "length", len(prompt))
	return nil
}
