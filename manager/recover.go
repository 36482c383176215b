package manager

import (
	"context"
	"os"

	"github.com/magenthq/magent-core/errs"
	"github.com/magenthq/magent-core/logger"
)

// RecoveryOutcome describes what a worktree recovery attempt did.
type RecoveryOutcome int

const (
	// RecoveryRecovered means the worktree exists on disk, either because
	// it was recreated or because it was never missing.
	RecoveryRecovered RecoveryOutcome = iota
	// RecoveryMainMissing means the source checkout to rebuild from (the
	// main thread's worktree, or the repository path) is itself gone.
	// Retrying is pointless until the checkout is restored; the engine
	// does not manage it.
	RecoveryMainMissing
	// RecoveryProjectGone means the thread's project no longer exists.
	RecoveryProjectGone
	// RecoveryFailed means the recreate attempt errored.
	RecoveryFailed
)

// RecoverWorktree recreates a thread's worktree directory if it vanished
// from disk. The branch is reused when it still exists; otherwise a fresh
// branch is cut from the project's default. Idempotent, and single-flight
// per thread: a second call while a recovery is in flight fails with a
// conflict rather than racing the first.
func (m *ThreadManager) RecoverWorktree(ctx context.Context, threadID string) (RecoveryOutcome, error) {
	m.recoveringMu.Lock()
	if m.recovering[threadID] {
		m.recoveringMu.Unlock()
		return RecoveryFailed, errs.Conflict("recovery already in progress for thread %s", threadID)
	}
	m.recovering[threadID] = true
	m.recoveringMu.Unlock()

	defer func() {
		m.recoveringMu.Lock()
		delete(m.recovering, threadID)
		m.recoveringMu.Unlock()
	}()

	release := m.ops.acquire(threadKey(threadID))
	defer release()

	thread, ok := m.settings.ThreadByID(threadID)
	if !ok {
		return RecoveryFailed, notFoundThread(threadID)
	}
	if thread.IsArchived {
		return RecoveryFailed, errs.Conflict("thread %s is archived", threadID)
	}

	if _, err := os.Stat(thread.WorktreePath); err == nil {
		return RecoveryRecovered, nil
	}

	// The main thread is the source checkout itself; a worktree cannot be
	// rebuilt from a checkout that is gone.
	if thread.IsMain {
		return RecoveryMainMissing, errs.NotFound("main checkout %s is missing", thread.WorktreePath)
	}

	project, ok := m.settings.ProjectByID(thread.ProjectID)
	if !ok {
		return RecoveryProjectGone, notFoundProject(thread.ProjectID)
	}

	source := project.RepoPath
	if main, ok := m.settings.MainThread(thread.ProjectID); ok && main.WorktreePath != "" {
		source = main.WorktreePath
	}
	if _, err := os.Stat(source); err != nil {
		return RecoveryMainMissing, errs.NotFound("source checkout %s for project %s is missing", source, project.ID)
	}

	base := project.DefaultBranch
	if base == "" {
		base = m.git.DetectDefaultBranch(ctx, project.RepoPath)
	}

	log := logger.WithThread(threadID)
	log.Info("recovering worktree", "path", thread.WorktreePath, "branch", thread.Branch)

	if err := m.git.AddWorktree(ctx, project.RepoPath, thread.WorktreePath, thread.Branch, base); err != nil {
		log.Error("worktree recovery failed", "error", err)
		return RecoveryFailed, err
	}

	log.Info("worktree recovered")
	m.publish(Event{Type: EventThreadsChanged, ThreadID: threadID})
	return RecoveryRecovered, nil
}
