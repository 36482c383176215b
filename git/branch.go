package git

import (
	"context"
	"strings"

	"github.com/magenthq/magent-core/errs"
	"github.com/magenthq/magent-core/logger"
)

// BranchExists reports whether the local branch exists in the repository.
func (s *Service) BranchExists(ctx context.Context, repoPath, branch string) bool {
	_, _, err := s.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// CreateBranch creates a local branch pointing at startPoint (or HEAD when
// startPoint is empty). The branch is not checked out anywhere.
func (s *Service) CreateBranch(ctx context.Context, repoPath, branch, startPoint string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	args := []string{"branch", branch}
	if startPoint != "" {
		args = append(args, startPoint)
	}

	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", args...)
	if err != nil {
		return errs.ExternalTool(err, "git branch failed: %s", strings.TrimSpace(string(output)))
	}

	logger.WithComponent("git").Info("branch created", "branch", branch, "startPoint", startPoint)
	return nil
}

// DeleteBranch force-deletes a local branch. The branch must not be checked
// out in any worktree.
func (s *Service) DeleteBranch(ctx context.Context, repoPath, branch string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "branch", "-D", branch)
	if err != nil {
		return errs.ExternalTool(err, "git branch -D failed: %s", strings.TrimSpace(string(output)))
	}

	logger.WithComponent("git").Info("branch deleted", "branch", branch)
	return nil
}

// RenameBranch renames a local branch. The worktree must have the branch
// checked out.
func (s *Service) RenameBranch(ctx context.Context, worktreePath, oldName, newName string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.CombinedOutput(ctx, worktreePath, "git", "branch", "-m", oldName, newName)
	if err != nil {
		return errs.ExternalTool(err, "git branch rename failed: %s", strings.TrimSpace(string(output)))
	}

	logger.WithComponent("git").Info("branch renamed", "oldName", oldName, "newName", newName)
	return nil
}
