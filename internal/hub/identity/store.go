package identity

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/collabhub/collabhub/internal/hub/id"
	"github.com/collabhub/collabhub/internal/metrics"
	"github.com/collabhub/collabhub/internal/util/timefmt"
)

// Store is the identity registry. The three indexes (by agent ID, by
// display name, by auth token) are kept mutually consistent under all
// mutations; concurrent callers observe a serialized view.
type Store struct {
	mu      sync.Mutex
	byID    map[string]*Identity
	byName  map[string]*Identity
	byToken map[string]*Identity

	path  string // snapshot path; empty disables persistence
	nowFn func() time.Time
}

// NewStore creates a Store backed by the snapshot file at path. A
// missing or corrupt snapshot is logged and treated as empty. Pass an
// empty path for an ephemeral in-memory store.
func NewStore(path string) *Store {
	s := &Store{
		byID:    make(map[string]*Identity),
		byName:  make(map[string]*Identity),
		byToken: make(map[string]*Identity),
		path:    path,
		nowFn:   func() time.Time { return timefmt.Truncate(time.Now()) },
	}
	if path != "" {
		s.load()
	}
	metrics.RegisteredAgents.Set(float64(len(s.byID)))
	return s
}

// RegisterNew creates a fresh identity. Fails atomically with
// ErrNameTaken when the display name is in use.
func (s *Store) RegisterNew(displayName, role string) (Identity, error) {
	if displayName == "" {
		return Identity{}, ErrNameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[displayName]; taken {
		return Identity{}, fmt.Errorf("%w: %s", ErrNameTaken, displayName)
	}

	ident := s.newIdentityLocked(displayName, role)
	s.snapshotLocked()
	return ident.clone(), nil
}

// LegacyRegister creates an identity without enforcing display-name
// uniqueness. This is the forceNew registration path; the duplicate is
// reachable by agent ID and token but never shadows the name index.
func (s *Store) LegacyRegister(displayName, role string) (Identity, error) {
	if displayName == "" {
		return Identity{}, ErrNameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[displayName]; taken {
		slog.Warn("legacy registration creating duplicate display name", "name", displayName)
	}

	ident := s.newIdentityLocked(displayName, role)
	s.snapshotLocked()
	return ident.clone(), nil
}

// newIdentityLocked allocates and indexes a new identity. Caller holds mu.
func (s *Store) newIdentityLocked(displayName, role string) *Identity {
	now := s.nowFn()
	ident := &Identity{
		AgentID:     id.Generate(),
		DisplayName: displayName,
		AuthToken:   id.GenerateToken(),
		FirstSeen:   now,
		LastSeen:    now,
		CurrentRole: role,
		RoleHistory: []RoleChange{{Role: role, Timestamp: now}},
		Stats: Stats{
			DiversityScore: 0.5,
			AgreementRate:  0.5,
			EvidenceRate:   0.5,
		},
	}

	s.byID[ident.AgentID] = ident
	s.byToken[ident.AuthToken] = ident
	if _, taken := s.byName[displayName]; !taken {
		s.byName[displayName] = ident
	}
	metrics.RegisteredAgents.Set(float64(len(s.byID)))
	return ident
}

// AuthenticateByToken resolves a token to its identity, updating
// lastSeen on success.
func (s *Store) AuthenticateByToken(token string) (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byToken[token]
	if !ok {
		return Identity{}, false
	}
	ident.LastSeen = s.nowFn()
	s.snapshotLocked()
	return ident.clone(), true
}

// FindByDisplayName looks up an identity by display name.
func (s *Store) FindByDisplayName(name string) (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byName[name]
	if !ok {
		return Identity{}, false
	}
	return ident.clone(), true
}

// Get looks up an identity by agent ID.
func (s *Store) Get(agentID string) (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[agentID]
	if !ok {
		return Identity{}, false
	}
	return ident.clone(), true
}

// IsNameAvailable reports whether a display name is free.
func (s *Store) IsNameAvailable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, taken := s.byName[name]
	return !taken
}

// SuggestNames proposes available alternatives for a taken base name:
// base2..base10, then base_new, then base_agent, truncated to count.
func (s *Store) SuggestNames(base string, count int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	candidates := make([]string, 0, 11)
	for i := 2; i <= 10; i++ {
		candidates = append(candidates, fmt.Sprintf("%s%d", base, i))
	}
	candidates = append(candidates, base+"_new", base+"_agent")

	for _, c := range candidates {
		if len(out) >= count {
			break
		}
		if _, taken := s.byName[c]; !taken {
			out = append(out, c)
		}
	}
	return out
}

// GetOrCreate resolves an identity in order: valid token, existing
// display name, newly created. A supplied-but-invalid token falls
// through to name resolution.
func (s *Store) GetOrCreate(displayName, role, token string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != "" {
		if ident, ok := s.byToken[token]; ok {
			ident.LastSeen = s.nowFn()
			s.snapshotLocked()
			return ident.clone(), nil
		}
	}

	if displayName == "" {
		return Identity{}, ErrNameRequired
	}

	if ident, ok := s.byName[displayName]; ok {
		ident.LastSeen = s.nowFn()
		s.snapshotLocked()
		return ident.clone(), nil
	}

	ident := s.newIdentityLocked(displayName, role)
	s.snapshotLocked()
	return ident.clone(), nil
}

// Connect binds an identity to a live session, detaching any previous
// session, and counts the session in the identity's stats.
func (s *Store) Connect(agentID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}

	now := s.nowFn()
	ident.CurrentSessionID = sessionID
	ident.LastActivity = now
	ident.LastSeen = now
	ident.Stats.TotalSessions++
	s.snapshotLocked()
	return nil
}

// Disconnect clears the session linkage for whichever identity holds
// the given session. Idempotent.
func (s *Store) Disconnect(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ident := range s.byID {
		if ident.CurrentSessionID == sessionID {
			ident.CurrentSessionID = ""
			ident.LastActivity = time.Time{}
			s.snapshotLocked()
			return
		}
	}
}

// ChangeRole updates the current role, pushing the previous role (with
// the change timestamp) into the role history.
func (s *Store) ChangeRole(agentID, newRole, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}

	ident.RoleHistory = append(ident.RoleHistory, RoleChange{
		Role:      ident.CurrentRole,
		Timestamp: s.nowFn(),
		SessionID: sessionID,
	})
	ident.CurrentRole = newRole
	s.snapshotLocked()
	return nil
}

// ChangePerspective updates the current perspective, pushing the
// previous one into the history iff one existed.
func (s *Store) ChangePerspective(agentID, newPerspective, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}

	if ident.CurrentPerspective != "" {
		ident.PerspectiveHistory = append(ident.PerspectiveHistory, PerspectiveChange{
			Perspective: ident.CurrentPerspective,
			Timestamp:   s.nowFn(),
			Reason:      reason,
		})
	}
	ident.CurrentPerspective = newPerspective
	s.snapshotLocked()
	return nil
}

// TouchActivity refreshes the activity timestamp of a connected
// identity. Disconnected identities are left untouched.
func (s *Store) TouchActivity(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[agentID]
	if !ok || !ident.Connected() {
		return
	}
	ident.LastActivity = s.nowFn()
	s.snapshotLocked()
}

// CleanupInactive disconnects every connected identity whose last
// activity is older than now minus timeout, returning the session IDs
// that were cleared.
func (s *Store) CleanupInactive(timeout time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.nowFn().Add(-timeout)
	var cleaned []string
	for _, ident := range s.byID {
		if ident.Connected() && ident.LastActivity.Before(cutoff) {
			cleaned = append(cleaned, ident.CurrentSessionID)
			ident.CurrentSessionID = ""
			ident.LastActivity = time.Time{}
		}
	}
	if len(cleaned) > 0 {
		s.snapshotLocked()
	}
	return cleaned
}

// UpdateStats merges a partial stats update: counters are added,
// scores replace the current value when set.
func (s *Store) UpdateStats(agentID string, delta StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}

	ident.Stats.TotalSessions += delta.Sessions
	ident.Stats.TotalMessages += delta.Messages
	ident.Stats.TotalTasks += delta.Tasks
	ident.Stats.TotalEdits += delta.Edits
	if delta.DiversityScore != nil {
		ident.Stats.DiversityScore = *delta.DiversityScore
	}
	if delta.AgreementRate != nil {
		ident.Stats.AgreementRate = *delta.AgreementRate
	}
	if delta.EvidenceRate != nil {
		ident.Stats.EvidenceRate = *delta.EvidenceRate
	}
	s.snapshotLocked()
	return nil
}

// All returns a copy of every identity in the registry.
func (s *Store) All() []Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Identity, 0, len(s.byID))
	for _, ident := range s.byID {
		out = append(out, ident.clone())
	}
	return out
}

// Count returns the number of registered identities.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// ConnectedCounts returns the number of connected and disconnected
// identities, for the sweeper's periodic summary.
func (s *Store) ConnectedCounts() (active, inactive int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ident := range s.byID {
		if ident.Connected() {
			active++
		} else {
			inactive++
		}
	}
	return active, inactive
}
