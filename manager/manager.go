// Package manager implements the thread orchestrator: the single logical
// owner of the project/thread/section collections. All state-mutating
// operations go through a ThreadManager, which serializes compound
// read-modify-persist sequences per thread, calls the git and tmux
// services outside the collection lock, and persists through the settings
// document's atomic save.
package manager

import (
	"sync"

	"github.com/magenthq/magent-core/config"
	"github.com/magenthq/magent-core/git"
	"github.com/magenthq/magent-core/tmux"
)

// ThreadManager owns the in-memory settings document and coordinates the
// external services. Operations on different thread ids proceed
// concurrently; operations on the same thread id serialize.
type ThreadManager struct {
	settings *config.Settings
	git      *git.Service
	tmux     *tmux.Service
	agents   *config.Agents

	worktreesBase string
	socketPath    string

	// ops serializes compound operations per thread id (and per project
	// id for creation, where no thread id exists yet).
	ops *keyedLocks

	// recovering tracks in-flight worktree recoveries by thread id so a
	// recovery never runs twice concurrently for the same thread.
	recoveringMu sync.Mutex
	recovering   map[string]bool

	// status is the transient activity overlay, keyed by thread id.
	// Recomputed by the session monitor, merged into queries, never
	// persisted.
	statusMu sync.RWMutex
	status   map[string]*ThreadStatus

	handlersMu sync.RWMutex
	handlers   []func(Event)
}

// Options configures a ThreadManager.
type Options struct {
	Settings *config.Settings
	Git      *git.Service
	Tmux     *tmux.Service
	Agents   *config.Agents

	// WorktreesBase is the fallback base directory for worktrees when a
	// project does not set its own.
	WorktreesBase string

	// SocketPath is injected into agent sessions as MAGENT_SOCKET.
	SocketPath string
}

// New creates a ThreadManager.
func New(opts Options) *ThreadManager {
	agents := opts.Agents
	if agents == nil {
		agents = config.DefaultAgents()
	}
	return &ThreadManager{
		settings:      opts.Settings,
		git:           opts.Git,
		tmux:          opts.Tmux,
		agents:        agents,
		worktreesBase: opts.WorktreesBase,
		socketPath:    opts.SocketPath,
		ops:           newKeyedLocks(),
		recovering:    make(map[string]bool),
		status:        make(map[string]*ThreadStatus),
	}
}

// Settings exposes the underlying document for read-side collaborators
// (socket server, CLI). Mutations must go through manager operations.
func (m *ThreadManager) Settings() *config.Settings {
	return m.settings
}

// keyedLocks serializes operations per key while letting unrelated keys
// proceed concurrently.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for key and returns its release func.
func (l *keyedLocks) acquire(key string) func() {
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

func threadKey(id string) string  { return "thread:" + id }
func projectKey(id string) string { return "project:" + id }
