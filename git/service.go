// Package git wraps the external git binary for worktree lifecycle and
// branch state queries. Every call shells out through an injected executor
// with a bounded timeout; nothing is cached.
package git

import (
	"context"
	"time"

	pexec "github.com/magenthq/magent-core/exec"
)

// CommandTimeout bounds every git invocation. Worktree operations touch the
// repository's administrative files and can stall on slow disks or network
// mounts; on timeout the process is killed and the error surfaces.
const CommandTimeout = 10 * time.Second

// Service provides git operations with explicit dependency injection.
// Each Service instance holds its own executor, enabling proper testing
// and avoiding global state. Worktree-mutating operations serialize per
// repository path because git's administrative files are not safe under
// concurrent writers.
type Service struct {
	executor pexec.CommandExecutor
	locks    *pathLocks
}

// NewService creates a new Service with the default real executor.
func NewService() *Service {
	return &Service{executor: pexec.NewRealExecutor(), locks: newPathLocks()}
}

// NewServiceWithExecutor creates a new Service with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewServiceWithExecutor(exec pexec.CommandExecutor) *Service {
	return &Service{executor: exec, locks: newPathLocks()}
}

// withTimeout derives a bounded context for a single git invocation.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, CommandTimeout)
}
