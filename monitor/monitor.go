// Package monitor watches agent sessions in the background: it polls pane
// output on a fixed interval, classifies each agent session as busy,
// waiting, or idle, and records completions when a session rings the
// terminal bell and then goes quiet. Classification is heuristic by
// necessity; the monitor only ever updates the transient overlay and the
// completion record, never any other persisted state.
package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/magenthq/magent-core/config"
	"github.com/magenthq/magent-core/logger"
	"github.com/magenthq/magent-core/manager"
	"github.com/magenthq/magent-core/tmux"
)

// DefaultInterval is the poll cadence. Two seconds keeps status fresh
// without measurable tmux server load.
const DefaultInterval = 2 * time.Second

// captureLines bounds how much pane history each poll reads.
const captureLines = 40

// classifyWindow is how many trailing lines classification inspects.
const classifyWindow = 30

// spinnerWindow is how many trailing lines are checked for spinner glyphs.
// Spinners only matter at the live edge of the pane; historical output
// scrolled above may contain stale frames.
const spinnerWindow = 5

// spinnerRunes are the braille animation frames common to terminal agents.
const spinnerRunes = "⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏"

// Monitor polls agent sessions and feeds the orchestrator's overlay.
type Monitor struct {
	manager  *manager.ThreadManager
	tmux     *tmux.Service
	agents   *config.Agents
	interval time.Duration

	// foreground reports whether the session is currently focused by an
	// attached client. Foregrounded completions are seen immediately and
	// never marked unread. Nil means nothing is ever foregrounded.
	foreground func(threadID, session string) bool

	// pendingBell holds sessions whose bell rang while still busy; the
	// completion is recorded on the first later tick where the session has
	// gone quiet.
	mu          sync.Mutex
	pendingBell map[string]bool
}

// Options configures a Monitor.
type Options struct {
	Manager    *manager.ThreadManager
	Tmux       *tmux.Service
	Agents     *config.Agents
	Interval   time.Duration
	Foreground func(threadID, session string) bool
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	agents := opts.Agents
	if agents == nil {
		agents = config.DefaultAgents()
	}
	return &Monitor{
		manager:     opts.Manager,
		tmux:        opts.Tmux,
		agents:      agents,
		interval:    interval,
		foreground:  opts.Foreground,
		pendingBell: make(map[string]bool),
	}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log := logger.WithComponent("monitor")
	log.Info("monitor started", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitor stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick polls every agent session of every non-archived thread once. A
// failed read skips that session until the next tick; transient tmux
// errors must never wedge the loop or leak stale state into the overlay.
func (m *Monitor) tick(ctx context.Context) {
	log := logger.WithComponent("monitor")

	seen := make(map[string]bool)
	for _, thread := range m.manager.Settings().ActiveThreads() {
		preset := m.agents.Preset(thread.AgentType)
		for _, session := range thread.AgentTmuxSessions {
			seen[session] = true

			output, err := m.tmux.CapturePane(ctx, session, captureLines)
			if err != nil {
				log.Debug("capture failed, skipping", "session", session, "error", err)
				continue
			}

			activity := Classify(output, preset)
			m.manager.SetSessionActivity(thread.ID, session, activity)

			rang, err := m.tmux.ReadAndClearBellFlag(ctx, session)
			if err != nil {
				log.Debug("bell read failed, skipping", "session", session, "error", err)
				continue
			}
			if rang {
				m.mu.Lock()
				m.pendingBell[session] = true
				m.mu.Unlock()
			}

			m.mu.Lock()
			pending := m.pendingBell[session]
			if pending && activity != manager.ActivityBusy {
				delete(m.pendingBell, session)
			}
			m.mu.Unlock()

			if pending && activity != manager.ActivityBusy {
				fg := m.foreground != nil && m.foreground(thread.ID, session)
				if err := m.manager.RecordCompletion(thread.ID, session, fg); err != nil {
					log.Warn("failed to record completion", "session", session, "error", err)
				}
			}
		}
	}

	// Drop pending bells for sessions that vanished between ticks.
	m.mu.Lock()
	for session := range m.pendingBell {
		if !seen[session] {
			delete(m.pendingBell, session)
		}
	}
	m.mu.Unlock()
}

// Classify maps recent pane output to an activity state. Busy wins over
// waiting: an agent streaming output may also show a stale prompt above.
func Classify(output string, preset config.AgentPreset) manager.SessionActivity {
	lines := recentLines(output, classifyWindow)
	window := strings.Join(lines, "\n")

	for _, pattern := range preset.BusyPatterns {
		if pattern != "" && strings.Contains(window, pattern) {
			return manager.ActivityBusy
		}
	}

	edge := lines
	if len(edge) > spinnerWindow {
		edge = edge[len(edge)-spinnerWindow:]
	}
	if strings.ContainsAny(strings.Join(edge, "\n"), spinnerRunes) {
		return manager.ActivityBusy
	}

	for _, pattern := range preset.WaitingPatterns {
		if pattern != "" && strings.Contains(window, pattern) {
			return manager.ActivityWaiting
		}
	}

	return manager.ActivityIdle
}

// recentLines returns the last n non-blank-trimmed lines of output.
func recentLines(output string, n int) []string {
	all := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}
