// Package session tracks live agent sessions: the in-memory mapping
// from connection-bound session IDs to identities, with per-session
// counters that roll up into identity stats on removal.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/collabhub/collabhub/internal/hub/identity"
	"github.com/collabhub/collabhub/internal/metrics"
)

// Sentinel errors returned by Create.
var (
	ErrInvalidToken    = errors.New("invalid auth token")
	ErrMissingIdentity = errors.New("auth token or agent name is required")
)

// Status is a session lifecycle state.
type Status string

const (
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusDisconnected Status = "disconnected"
)

// Counter selects a per-session counter for Bump.
type Counter int

const (
	CounterEdits Counter = iota
	CounterMessages
	CounterTasks
)

// Sender delivers a serialized frame to the session's connection. The
// connection itself is owned by the gateway; the table only holds this
// severable reference.
type Sender interface {
	Send(v any) error
}

// Session is one connected instance of an agent.
type Session struct {
	ID       string
	Sender   Sender
	JoinedAt time.Time
	Status   Status

	AgentID     string
	DisplayName string

	CurrentRole        string
	CurrentPerspective string

	Edits    int
	Messages int
	Tasks    int
}

// CreateResult carries the new session plus the identity facts the
// handshake reply needs.
type CreateResult struct {
	Session     Session
	Identity    identity.Identity
	IsReturning bool
	LastSeen    time.Time // lastSeen before this connect
}

// Table is the session registry. Thread-safe; at most one session per
// agent is active at a time.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byAgent  map[string]string // agentID -> sessionID

	ids *identity.Store
}

// NewTable creates a Table bound to an identity store.
func NewTable(ids *identity.Store) *Table {
	return &Table{
		sessions: make(map[string]*Session),
		byAgent:  make(map[string]string),
		ids:      ids,
	}
}

// Create resolves an identity (token first, then display name),
// detaches any previous session of that agent, and attaches the new
// session. The role is committed to the identity when it differs.
func (t *Table) Create(sessionID string, sender Sender, authToken, displayName, role string) (*CreateResult, error) {
	var (
		ident identity.Identity
		err   error
	)

	switch {
	case authToken != "":
		var ok bool
		ident, ok = t.ids.AuthenticateByToken(authToken)
		if !ok {
			if displayName == "" {
				return nil, ErrInvalidToken
			}
			ident, err = t.ids.GetOrCreate(displayName, role, "")
			if err != nil {
				return nil, fmt.Errorf("resolve identity: %w", err)
			}
		}
	case displayName != "":
		ident, err = t.ids.GetOrCreate(displayName, role, "")
		if err != nil {
			return nil, fmt.Errorf("resolve identity: %w", err)
		}
	default:
		return nil, ErrMissingIdentity
	}

	isReturning := ident.Stats.TotalSessions > 0
	lastSeen := ident.LastSeen

	t.mu.Lock()
	if prevID, ok := t.byAgent[ident.AgentID]; ok {
		t.removeLocked(prevID)
	}

	sess := &Session{
		ID:                 sessionID,
		Sender:             sender,
		JoinedAt:           time.Now().UTC(),
		Status:             StatusActive,
		AgentID:            ident.AgentID,
		DisplayName:        ident.DisplayName,
		CurrentRole:        ident.CurrentRole,
		CurrentPerspective: ident.CurrentPerspective,
	}
	t.sessions[sessionID] = sess
	t.byAgent[ident.AgentID] = sessionID
	metrics.ActiveSessions.Set(float64(len(t.sessions)))
	t.mu.Unlock()

	if err := t.ids.Connect(ident.AgentID, sessionID); err != nil {
		return nil, fmt.Errorf("connect identity: %w", err)
	}
	if role != "" && role != ident.CurrentRole {
		if err := t.ids.ChangeRole(ident.AgentID, role, sessionID); err != nil {
			return nil, fmt.Errorf("apply role: %w", err)
		}
		t.mu.Lock()
		sess.CurrentRole = role
		t.mu.Unlock()
	}

	after, _ := t.ids.Get(ident.AgentID)
	return &CreateResult{
		Session:     *sess,
		Identity:    after,
		IsReturning: isReturning,
		LastSeen:    lastSeen,
	}, nil
}

// Get returns a snapshot of a session.
func (t *Table) Get(sessionID string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// All returns snapshots of every session.
func (t *Table) All() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	return out
}

// Active returns snapshots of sessions with active status.
func (t *Table) Active() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Session
	for _, s := range t.sessions {
		if s.Status == StatusActive {
			out = append(out, *s)
		}
	}
	return out
}

// ByRole returns active sessions holding the given role.
func (t *Table) ByRole(role string) []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Session
	for _, s := range t.sessions {
		if s.Status == StatusActive && s.CurrentRole == role {
			out = append(out, *s)
		}
	}
	return out
}

// ByPerspective returns active sessions holding the given perspective.
func (t *Table) ByPerspective(p string) []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Session
	for _, s := range t.sessions {
		if s.Status == StatusActive && s.CurrentPerspective == p {
			out = append(out, *s)
		}
	}
	return out
}

// ActivePerspectives returns the distinct non-empty perspectives held
// by active sessions.
func (t *Table) ActivePerspectives() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, s := range t.sessions {
		if s.Status != StatusActive || s.CurrentPerspective == "" {
			continue
		}
		if !seen[s.CurrentPerspective] {
			seen[s.CurrentPerspective] = true
			out = append(out, s.CurrentPerspective)
		}
	}
	return out
}

// UniqueActiveAgents returns one session per distinct agent.
func (t *Table) UniqueActiveAgents() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]bool)
	var out []Session
	for _, s := range t.sessions {
		if s.Status != StatusActive || seen[s.AgentID] {
			continue
		}
		seen[s.AgentID] = true
		out = append(out, *s)
	}
	return out
}

// Remove drops a session, rolling its counters into identity stats and
// clearing the identity's session linkage. Idempotent.
func (t *Table) Remove(sessionID string) {
	t.mu.Lock()
	t.removeLocked(sessionID)
	t.mu.Unlock()
}

// removeLocked performs the removal bookkeeping. Caller holds mu.
// Identity updates happen outside the table lock would be preferable,
// but the store serializes internally and never calls back into the
// table, so the nesting is safe.
func (t *Table) removeLocked(sessionID string) {
	s, ok := t.sessions[sessionID]
	if !ok {
		return
	}
	delete(t.sessions, sessionID)
	if t.byAgent[s.AgentID] == sessionID {
		delete(t.byAgent, s.AgentID)
	}
	metrics.ActiveSessions.Set(float64(len(t.sessions)))

	if err := t.ids.UpdateStats(s.AgentID, identity.StatsDelta{
		Edits:    s.Edits,
		Messages: s.Messages,
		Tasks:    s.Tasks,
	}); err != nil {
		// Identity may have been pruned; nothing to roll up into.
		return
	}
	t.ids.Disconnect(sessionID)
}

// SetStatus updates a session's lifecycle state.
func (t *Table) SetStatus(sessionID string, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok {
		s.Status = status
	}
}

// ChangeRole updates the session's role and commits it to the
// identity. Returns the previous role.
func (t *Table) ChangeRole(sessionID, newRole string) (string, error) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return "", fmt.Errorf("unknown session %s", sessionID)
	}
	oldRole := s.CurrentRole
	s.CurrentRole = newRole
	agentID := s.AgentID
	t.mu.Unlock()

	if err := t.ids.ChangeRole(agentID, newRole, sessionID); err != nil {
		return "", err
	}
	return oldRole, nil
}

// ChangePerspective updates the session's perspective and commits it
// to the identity.
func (t *Table) ChangePerspective(sessionID, perspective, reason string) error {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown session %s", sessionID)
	}
	s.CurrentPerspective = perspective
	agentID := s.AgentID
	t.mu.Unlock()

	return t.ids.ChangePerspective(agentID, perspective, reason)
}

// Bump increments a per-session counter.
func (t *Table) Bump(sessionID string, c Counter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return
	}
	switch c {
	case CounterEdits:
		s.Edits++
	case CounterMessages:
		s.Messages++
	case CounterTasks:
		s.Tasks++
	}
}

// Count returns the number of tracked sessions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
