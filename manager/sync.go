package manager

import (
	"context"
	"os"

	"github.com/magenthq/magent-core/config"
	"github.com/magenthq/magent-core/logger"
)

// SyncThreadsWithWorktrees reconciles a project's non-archived threads with
// the filesystem and the repository: worktree existence is re-checked and
// the dirty/delivered flags in the transient overlay are recomputed. The
// persisted records are not mutated; a vanished worktree surfaces as a
// missing path in the returned list so callers can offer recovery.
func (m *ThreadManager) SyncThreadsWithWorktrees(ctx context.Context, projectID string) ([]string, error) {
	project, ok := m.settings.ProjectByID(projectID)
	if !ok {
		return nil, notFoundProject(projectID)
	}

	log := logger.WithComponent("manager")

	var missing []string
	for _, thread := range m.settings.ThreadsForProject(projectID) {
		if thread.IsArchived {
			continue
		}

		if _, err := os.Stat(thread.WorktreePath); err != nil {
			missing = append(missing, thread.ID)
			m.SetVCSState(thread.ID, false, false)
			continue
		}

		dirty, err := m.git.IsDirty(ctx, thread.WorktreePath)
		if err != nil {
			log.Warn("dirty check failed", "thread", thread.ID, "error", err)
			continue
		}

		delivered := false
		if !thread.IsMain {
			base := thread.BaseBranch
			if base == "" {
				base = project.DefaultBranch
			}
			if base == "" {
				base = m.git.DetectDefaultBranch(ctx, project.RepoPath)
			}
			delivered, err = m.git.IsFullyDelivered(ctx, thread.WorktreePath, base)
			if err != nil {
				log.Warn("delivered check failed", "thread", thread.ID, "error", err)
				delivered = false
			}
			// An undelivered branch with a dirty tree is doubly undelivered;
			// dirty alone never counts as delivered work.
			if dirty {
				delivered = false
			}
		}

		m.SetVCSState(thread.ID, dirty, delivered)
	}

	return missing, nil
}

// RestoreThreads reconciles persisted session lists against the live tmux
// server after an engine restart. Sessions that no longer exist are dropped
// from every session set; threads themselves are kept even when all their
// sessions are gone, so the user can reopen them.
func (m *ThreadManager) RestoreThreads(ctx context.Context) error {
	live, err := m.tmux.ListSessions(ctx)
	if err != nil {
		return err
	}
	alive := make(map[string]bool, len(live))
	for _, name := range live {
		alive[name] = true
	}

	log := logger.WithComponent("manager")
	changed := false

	for _, thread := range m.settings.AllThreads() {
		if thread.IsArchived {
			continue
		}

		var gone []string
		for _, session := range thread.TmuxSessions {
			if !alive[session] {
				gone = append(gone, session)
			}
		}
		if len(gone) == 0 {
			continue
		}

		m.settings.UpdateThread(thread.ID, func(t *config.Thread) {
			for _, session := range gone {
				t.RemoveSession(session)
			}
			if t.LastFocusedSession != "" && !t.HasSession(t.LastFocusedSession) {
				t.LastFocusedSession = ""
				if len(t.TmuxSessions) > 0 {
					t.LastFocusedSession = t.TmuxSessions[0]
				}
			}
		})
		changed = true
		log.Info("dropped vanished sessions", "thread", thread.ID, "count", len(gone))
	}

	if !changed {
		return nil
	}
	if err := m.settings.Save(); err != nil {
		return err
	}
	m.publish(Event{Type: EventThreadsChanged})
	return nil
}
