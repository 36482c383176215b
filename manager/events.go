package manager

// EventType identifies what changed.
type EventType string

const (
	// EventThreadsChanged signals any mutation of the thread collection.
	// Consumers re-query; the event carries no payload beyond the id.
	EventThreadsChanged EventType = "threadsChanged"

	// EventCompletion signals a fresh agent completion on a session.
	EventCompletion EventType = "completion"
)

// Event is a change notification published by the orchestrator.
type Event struct {
	Type     EventType
	ThreadID string
	Session  string
}

// Subscribe registers a handler for change notifications. Handlers are
// called outside the orchestrator's locks; they may safely call read
// methods without deadlocking. Handlers must not block.
func (m *ThreadManager) Subscribe(fn func(Event)) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// publish calls all registered handlers.
func (m *ThreadManager) publish(ev Event) {
	m.handlersMu.RLock()
	handlers := make([]func(Event), len(m.handlers))
	copy(handlers, m.handlers)
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
