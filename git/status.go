package git

import (
	"context"
	"strconv"
	"strings"

	"github.com/magenthq/magent-core/errs"
)

// IsRepository reports whether path is inside a git repository.
func (s *Service) IsRepository(ctx context.Context, path string) bool {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, _, err := s.executor.Run(ctx, path, "git", "rev-parse", "--git-dir")
	return err == nil
}

// DetectDefaultBranch returns the repository's default branch name.
// It reads the remote's symbolic HEAD first, then falls back to main/master.
func (s *Service) DetectDefaultBranch(ctx context.Context, repoPath string) string {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.Output(ctx, repoPath, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		// Output is like "refs/remotes/origin/main"
		ref := strings.TrimSpace(string(output))
		if idx := strings.LastIndex(ref, "/"); idx >= 0 {
			return ref[idx+1:]
		}
	}

	// Fallback: check if main exists, otherwise use master
	_, _, err = s.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "main")
	if err == nil {
		return "main"
	}

	return "master"
}

// IsDirty reports whether the worktree has uncommitted changes
// (staged, unstaged, or untracked).
func (s *Service) IsDirty(ctx context.Context, worktreePath string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.Output(ctx, worktreePath, "git", "status", "--porcelain")
	if err != nil {
		return false, errs.ExternalTool(err, "git status failed in %s", worktreePath)
	}
	return strings.TrimSpace(string(output)) != "", nil
}

// IsFullyDelivered reports whether every commit on the worktree's branch is
// already on baseBranch, i.e. nothing remains to merge. --cherry-pick drops
// commits that landed on the base as a patch-equivalent cherry-pick.
func (s *Service) IsFullyDelivered(ctx context.Context, worktreePath, baseBranch string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.Output(ctx, worktreePath, "git", "rev-list", "--count", "--right-only", "--cherry-pick", baseBranch+"...HEAD")
	if err != nil {
		return false, errs.ExternalTool(err, "git rev-list failed for base %s", baseBranch)
	}

	count, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return false, errs.ExternalTool(err, "unexpected rev-list output: %q", string(output))
	}
	return count == 0, nil
}
