package tasklock

import "time"

// EventKind identifies a lock or claim state change.
type EventKind string

const (
	EventLockAcquired      EventKind = "lock-acquired"
	EventLockReleased      EventKind = "lock-released"
	EventLockExpired       EventKind = "lock-expired"
	EventTaskClaimed       EventKind = "task-claimed"
	EventTaskStatusChanged EventKind = "task-status-changed"
)

// Event is emitted after the underlying state mutation has completed.
type Event struct {
	Kind      EventKind
	TaskID    string
	AgentID   string
	Status    string // set for task-status-changed
	Timestamp time.Time
}

const eventBufferSize = 64

// Subscribe registers an event channel. The returned cancel function
// unregisters it and closes the channel. Events are dropped for
// subscribers whose buffer is full.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	ch := make(chan Event, eventBufferSize)
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if ch, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the mutation path.
		}
	}
}
