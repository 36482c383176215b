package git

import (
	"context"
	"strings"

	"github.com/magenthq/magent-core/errs"
	"github.com/magenthq/magent-core/logger"
)

// AddWorktree creates a linked worktree at worktreePath. If branch already
// exists it is checked out; otherwise the branch is created from baseBranch
// (or the current HEAD when baseBranch is empty). Serialized per repository.
func (s *Service) AddWorktree(ctx context.Context, repoPath, worktreePath, branch, baseBranch string) error {
	release := s.locks.acquire(repoPath)
	defer release()

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var args []string
	if s.BranchExists(ctx, repoPath, branch) {
		args = []string{"worktree", "add", worktreePath, branch}
	} else {
		args = []string{"worktree", "add", "-b", branch, worktreePath}
		if baseBranch != "" {
			args = append(args, baseBranch)
		}
	}

	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", args...)
	if err != nil {
		return errs.ExternalTool(err, "git worktree add failed: %s", strings.TrimSpace(string(output)))
	}

	logger.WithComponent("git").Info("worktree added", "path", worktreePath, "branch", branch)
	return nil
}

// RemoveWorktree removes the worktree at worktreePath and prunes stale
// administrative entries. The branch is left intact. Serialized per repository.
func (s *Service) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	release := s.locks.acquire(repoPath)
	defer release()

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "remove", "--force", worktreePath)
	if err != nil {
		return errs.ExternalTool(err, "git worktree remove failed: %s", strings.TrimSpace(string(output)))
	}

	// Prune is best-effort; the worktree itself is already gone.
	if output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "prune"); err != nil {
		logger.WithComponent("git").Warn("worktree prune failed", "error", err, "output", strings.TrimSpace(string(output)))
	}

	logger.WithComponent("git").Info("worktree removed", "path", worktreePath)
	return nil
}

// MoveWorktree relocates a worktree to a new path. Running processes with
// a working directory inside the worktree keep functioning; only the path
// changes. Serialized per repository.
func (s *Service) MoveWorktree(ctx context.Context, repoPath, oldPath, newPath string) error {
	release := s.locks.acquire(repoPath)
	defer release()

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "move", oldPath, newPath)
	if err != nil {
		return errs.ExternalTool(err, "git worktree move failed: %s", strings.TrimSpace(string(output)))
	}

	logger.WithComponent("git").Info("worktree moved", "from", oldPath, "to", newPath)
	return nil
}

// ListWorktrees returns the worktree paths registered in the repository,
// including the main checkout.
func (s *Service) ListWorktrees(ctx context.Context, repoPath string) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.Output(ctx, repoPath, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errs.ExternalTool(err, "git worktree list failed")
	}

	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if after, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, after)
		}
	}
	return paths, nil
}
