// Package tasklock implements the atomic task-lease protocol: a
// short-lived lock guards the claim race, a claim records durable task
// ownership, and a sweeper reaps expired locks.
package tasklock

import (
	"sync"
	"time"

	"github.com/collabhub/collabhub/internal/hub/id"
	"github.com/collabhub/collabhub/internal/metrics"
	"github.com/collabhub/collabhub/internal/util/timefmt"
)

// LockTTL is the lease duration of an unclaimed lock.
const LockTTL = 5 * time.Second

// Claim lifecycle states. Transitions are strictly
// claimed → in_progress → completed.
const (
	StatusClaimed    = "claimed"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Lock is a live lease on a task ID. Locks are ephemeral and never
// survive a restart.
type Lock struct {
	TaskID        string
	HolderAgentID string
	Token         string
	AcquiredAt    time.Time
	ExpiresAt     time.Time
}

// Claim records task ownership after a successful claim.
type Claim struct {
	TaskID    string `json:"taskId"`
	AgentID   string `json:"agentId"`
	Status    string `json:"status"`
	ClaimedAt string `json:"claimedAt"`
	UpdatedAt string `json:"updatedAt"`
}

// LockStatus is the observable state of a task's lock.
type LockStatus struct {
	Locked      bool   `json:"locked"`
	By          string `json:"by,omitempty"`
	ExpiresInMs int64  `json:"expiresInMs,omitempty"`
}

// Manager serializes lock and claim state. Claims are snapshotted
// best-effort after each mutation; locks are only dumped at shutdown
// for diagnostics.
type Manager struct {
	mu     sync.Mutex
	locks  map[string]*Lock
	claims map[string]*Claim

	claimsPath string
	locksPath  string
	nowFn      func() time.Time

	subs   map[int]chan Event
	nextID int
}

// NewManager creates a Manager, restoring any claim snapshot at
// claimsPath. Empty paths disable persistence.
func NewManager(claimsPath, locksPath string) *Manager {
	m := &Manager{
		locks:      make(map[string]*Lock),
		claims:     make(map[string]*Claim),
		claimsPath: claimsPath,
		locksPath:  locksPath,
		nowFn:      func() time.Time { return time.Now().UTC() },
		subs:       make(map[int]chan Event),
	}
	if claimsPath != "" {
		m.loadClaims()
	}
	return m
}

// AcquireLock takes or refreshes the lease on a task. It returns the
// lock token, or false when another agent holds a live lock.
func (m *Manager) AcquireLock(taskID, agentID string) (string, bool) {
	m.mu.Lock()
	now := m.nowFn()

	if lk, ok := m.locks[taskID]; ok && lk.ExpiresAt.After(now) {
		if lk.HolderAgentID != agentID {
			m.mu.Unlock()
			metrics.LockConflictsTotal.Inc()
			return "", false
		}
		// Idempotent refresh keeps the original token.
		lk.ExpiresAt = now.Add(LockTTL)
		token := lk.Token
		m.mu.Unlock()
		return token, true
	}

	lk := &Lock{
		TaskID:        taskID,
		HolderAgentID: agentID,
		Token:         id.Generate(),
		AcquiredAt:    now,
		ExpiresAt:     now.Add(LockTTL),
	}
	m.locks[taskID] = lk
	token := lk.Token
	m.mu.Unlock()

	metrics.LockAcquisitionsTotal.Inc()
	m.emit(Event{Kind: EventLockAcquired, TaskID: taskID, AgentID: agentID, Timestamp: now})
	return token, true
}

// ReleaseLock drops a lock iff the token matches.
func (m *Manager) ReleaseLock(taskID, token string) bool {
	m.mu.Lock()
	lk, ok := m.locks[taskID]
	if !ok || lk.Token != token {
		m.mu.Unlock()
		return false
	}
	agentID := lk.HolderAgentID
	delete(m.locks, taskID)
	now := m.nowFn()
	m.mu.Unlock()

	m.emit(Event{Kind: EventLockReleased, TaskID: taskID, AgentID: agentID, Timestamp: now})
	return true
}

// ClaimTask finalizes a claim: the caller must hold a live lock with a
// matching token, and the task must not already be claimed. On success
// the claim is recorded and the lock released.
func (m *Manager) ClaimTask(taskID, agentID, token string) bool {
	m.mu.Lock()
	now := m.nowFn()

	lk, ok := m.locks[taskID]
	if !ok || !lk.ExpiresAt.After(now) || lk.HolderAgentID != agentID || lk.Token != token {
		m.mu.Unlock()
		return false
	}
	if c, ok := m.claims[taskID]; ok && c.Status != StatusCompleted {
		m.mu.Unlock()
		return false
	}

	m.claims[taskID] = &Claim{
		TaskID:    taskID,
		AgentID:   agentID,
		Status:    StatusClaimed,
		ClaimedAt: timefmt.Format(now),
		UpdatedAt: timefmt.Format(now),
	}
	delete(m.locks, taskID)
	m.snapshotClaimsLocked()
	m.mu.Unlock()

	m.emit(Event{Kind: EventTaskClaimed, TaskID: taskID, AgentID: agentID, Timestamp: now})
	return true
}

// IsAvailable reports whether a task can currently be locked and
// claimed: no live lock and no unfinished claim.
func (m *Manager) IsAvailable(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lk, ok := m.locks[taskID]; ok && lk.ExpiresAt.After(m.nowFn()) {
		return false
	}
	if c, ok := m.claims[taskID]; ok && c.Status != StatusCompleted {
		return false
	}
	return true
}

// Owner returns the agent holding an unfinished claim on the task.
func (m *Manager) Owner(taskID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.claims[taskID]
	if !ok || c.Status == StatusCompleted {
		return "", false
	}
	return c.AgentID, true
}

// Status returns the lock state of a task.
func (m *Manager) Status(taskID string) LockStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	lk, ok := m.locks[taskID]
	if !ok {
		return LockStatus{}
	}
	remaining := lk.ExpiresAt.Sub(m.nowFn())
	if remaining <= 0 {
		return LockStatus{}
	}
	return LockStatus{
		Locked:      true,
		By:          lk.HolderAgentID,
		ExpiresInMs: remaining.Milliseconds(),
	}
}

// AgentTasks returns every claim held by an agent.
func (m *Manager) AgentTasks(agentID string) []Claim {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Claim
	for _, c := range m.claims {
		if c.AgentID == agentID {
			out = append(out, *c)
		}
	}
	return out
}

// UpdateStatus advances a claim's lifecycle. Only the claim owner may
// call it, and only along claimed → in_progress → completed.
func (m *Manager) UpdateStatus(taskID, agentID, newStatus string) bool {
	m.mu.Lock()

	c, ok := m.claims[taskID]
	if !ok || c.AgentID != agentID {
		m.mu.Unlock()
		return false
	}

	valid := (c.Status == StatusClaimed && newStatus == StatusInProgress) ||
		(c.Status == StatusInProgress && newStatus == StatusCompleted)
	if !valid {
		m.mu.Unlock()
		return false
	}

	now := m.nowFn()
	c.Status = newStatus
	c.UpdatedAt = timefmt.Format(now)
	m.snapshotClaimsLocked()
	m.mu.Unlock()

	m.emit(Event{Kind: EventTaskStatusChanged, TaskID: taskID, AgentID: agentID, Status: newStatus, Timestamp: now})
	return true
}

// ExpireLocks drops every lock whose lease has lapsed, emitting a
// lock-expired event per reaped lock. Driven by the 1s sweeper.
func (m *Manager) ExpireLocks() int {
	m.mu.Lock()
	now := m.nowFn()
	var expired []*Lock
	for taskID, lk := range m.locks {
		if !lk.ExpiresAt.After(now) {
			expired = append(expired, lk)
			delete(m.locks, taskID)
		}
	}
	m.mu.Unlock()

	for _, lk := range expired {
		metrics.LocksExpiredTotal.Inc()
		m.emit(Event{Kind: EventLockExpired, TaskID: lk.TaskID, AgentID: lk.HolderAgentID, Timestamp: now})
	}
	return len(expired)
}

// LockCount returns the number of live locks.
func (m *Manager) LockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
