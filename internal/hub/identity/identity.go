// Package identity implements the persistent agent registry: stable
// agent IDs, display-name and auth-token indexes, role and perspective
// history, and contribution statistics. All mutations are serialized
// and followed by a durable JSON snapshot.
package identity

import (
	"errors"
	"time"
)

// Sentinel errors returned by Store operations.
var (
	ErrNameRequired = errors.New("agent name is required")
	ErrNameTaken    = errors.New("name is already taken")
	ErrNotFound     = errors.New("identity not found")
)

// RoleChange records a role an agent held before switching away from it.
type RoleChange struct {
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId,omitempty"`
}

// PerspectiveChange records a perspective an agent held before a switch.
type PerspectiveChange struct {
	Perspective string    `json:"perspective"`
	Timestamp   time.Time `json:"timestamp"`
	Reason      string    `json:"reason,omitempty"`
}

// Stats tracks an identity's lifetime contribution counters and the
// policy-maintained collaboration scores.
type Stats struct {
	TotalSessions  int     `json:"totalSessions"`
	TotalMessages  int     `json:"totalMessages"`
	TotalTasks     int     `json:"totalTasks"`
	TotalEdits     int     `json:"totalEdits"`
	DiversityScore float64 `json:"diversityScore"`
	AgreementRate  float64 `json:"agreementRate"`
	EvidenceRate   float64 `json:"evidenceRate"`
}

// StatsDelta is a partial stats update. Counter fields are added to the
// identity's totals; score fields replace the current value when set.
type StatsDelta struct {
	Sessions int
	Messages int
	Tasks    int
	Edits    int

	DiversityScore *float64
	AgreementRate  *float64
	EvidenceRate   *float64
}

// Identity is a persistent agent record. CurrentSessionID and
// LastActivity are set iff the agent is currently connected.
type Identity struct {
	AgentID     string
	DisplayName string
	AuthToken   string

	FirstSeen time.Time
	LastSeen  time.Time

	CurrentRole string
	RoleHistory []RoleChange

	CurrentPerspective string
	PerspectiveHistory []PerspectiveChange

	Stats Stats

	CurrentSessionID string
	LastActivity     time.Time
}

// Connected reports whether the identity currently has a live session.
func (i *Identity) Connected() bool {
	return i.CurrentSessionID != ""
}

// clone returns a deep copy so callers never alias store-owned state.
func (i *Identity) clone() Identity {
	out := *i
	out.RoleHistory = append([]RoleChange(nil), i.RoleHistory...)
	out.PerspectiveHistory = append([]PerspectiveChange(nil), i.PerspectiveHistory...)
	return out
}
