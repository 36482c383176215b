package manager

import (
	"time"

	"github.com/magenthq/magent-core/config"
	"github.com/magenthq/magent-core/logger"
)

// SessionActivity is the transient classification of one session.
type SessionActivity int

const (
	// ActivityIdle means the session is quiet.
	ActivityIdle SessionActivity = iota
	// ActivityBusy means the agent is producing output.
	ActivityBusy
	// ActivityWaiting means the agent emitted a recognized input prompt.
	ActivityWaiting
)

// ThreadStatus is the transient overlay for one thread. It is recomputed
// by the session monitor and by reconciliation passes, merged into queries
// at read time, and never persisted. Updates are last-writer-wins.
type ThreadStatus struct {
	BusySessions    map[string]bool
	WaitingSessions map[string]bool
	Dirty           bool
	FullyDelivered  bool
}

func newThreadStatus() *ThreadStatus {
	return &ThreadStatus{
		BusySessions:    make(map[string]bool),
		WaitingSessions: make(map[string]bool),
	}
}

func (st *ThreadStatus) clone() ThreadStatus {
	c := ThreadStatus{
		BusySessions:    make(map[string]bool, len(st.BusySessions)),
		WaitingSessions: make(map[string]bool, len(st.WaitingSessions)),
		Dirty:           st.Dirty,
		FullyDelivered:  st.FullyDelivered,
	}
	for k, v := range st.BusySessions {
		c.BusySessions[k] = v
	}
	for k, v := range st.WaitingSessions {
		c.WaitingSessions[k] = v
	}
	return c
}

// Status returns a copy of the thread's transient overlay. A thread with
// no recorded activity yields an empty status.
func (m *ThreadManager) Status(threadID string) ThreadStatus {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()

	if st, ok := m.status[threadID]; ok {
		return st.clone()
	}
	return ThreadStatus{
		BusySessions:    map[string]bool{},
		WaitingSessions: map[string]bool{},
	}
}

// SetSessionActivity records the monitor's classification of one session.
func (m *ThreadManager) SetSessionActivity(threadID, session string, activity SessionActivity) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	st, ok := m.status[threadID]
	if !ok {
		st = newThreadStatus()
		m.status[threadID] = st
	}
	delete(st.BusySessions, session)
	delete(st.WaitingSessions, session)
	switch activity {
	case ActivityBusy:
		st.BusySessions[session] = true
	case ActivityWaiting:
		st.WaitingSessions[session] = true
	}
}

// SetVCSState records the reconciliation pass's dirty/delivered flags.
func (m *ThreadManager) SetVCSState(threadID string, dirty, delivered bool) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	st, ok := m.status[threadID]
	if !ok {
		st = newThreadStatus()
		m.status[threadID] = st
	}
	st.Dirty = dirty
	st.FullyDelivered = delivered
}

// clearStatus drops the overlay for a thread that was archived or deleted.
func (m *ThreadManager) clearStatus(threadID string) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	delete(m.status, threadID)
}

// RecordCompletion marks a fresh completion on a session: stamps the
// thread's last-completion time and, when the host is not foregrounded,
// adds the session to the unread set. Emits a completion event.
func (m *ThreadManager) RecordCompletion(threadID, session string, foreground bool) error {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	now := time.Now()
	found := m.settings.UpdateThread(threadID, func(t *config.Thread) {
		t.LastCompletionAt = &now
		if !foreground && t.IsAgentSession(session) && !contains(t.UnreadCompletionSessions, session) {
			t.UnreadCompletionSessions = append(t.UnreadCompletionSessions, session)
		}
	})
	if !found {
		// The thread vanished between the monitor's snapshot and now.
		return nil
	}

	if err := m.settings.Save(); err != nil {
		return err
	}

	logger.WithThread(threadID).Info("completion recorded", "session", session, "foreground", foreground)
	m.publish(Event{Type: EventCompletion, ThreadID: threadID, Session: session})
	return nil
}

// MarkRead clears a session from the thread's unread-completion set. An
// empty session name clears the whole set.
func (m *ThreadManager) MarkRead(threadID, session string) error {
	release := m.ops.acquire(threadKey(threadID))
	defer release()

	found := m.settings.UpdateThread(threadID, func(t *config.Thread) {
		if session == "" {
			t.UnreadCompletionSessions = nil
			return
		}
		var kept []string
		for _, s := range t.UnreadCompletionSessions {
			if s != session {
				kept = append(kept, s)
			}
		}
		t.UnreadCompletionSessions = kept
	})
	if !found {
		return notFoundThread(threadID)
	}

	if err := m.settings.Save(); err != nil {
		return err
	}
	m.publish(Event{Type: EventThreadsChanged, ThreadID: threadID})
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
