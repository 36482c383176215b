package git

import (
	"path/filepath"
	"sync"
)

// pathLocks is a lock table keyed by repository path. It serializes
// worktree-mutating git calls against the same repository while allowing
// unrelated repositories to proceed concurrently.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for the given path and returns its release func.
// Paths are cleaned so trailing-slash variants map to the same lock.
func (l *pathLocks) acquire(path string) func() {
	key := filepath.Clean(path)

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
