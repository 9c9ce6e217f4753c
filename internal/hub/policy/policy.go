// Package policy defines the hook points the hub exposes to pluggable
// collaboration policy: the anti-echo engine, the edit coordinator and
// the task/vote orchestrator. The hub only depends on these interfaces;
// diversity scoring and perspective enumeration live behind them.
package policy

import (
	"encoding/json"

	"github.com/collabhub/collabhub/internal/hub/wire"
)

// Message is the view of an inbound frame the anti-echo engine
// inspects before the hub handles it.
type Message struct {
	Type        string
	AgentID     string
	Perspective string
	Text        string
	Evidence    string
}

// Intervention is an engine veto: the message is not applied and the
// sender is told what to change.
type Intervention struct {
	Reason         string
	RequiredAction string
	Suggestions    []string
}

// Metrics is the periodic diversity snapshot broadcast by the metrics
// sweeper.
type Metrics struct {
	OverallDiversity        float64
	AgreementRate           float64
	EvidenceRate            float64
	PerspectiveDistribution map[string]int
	RecentInterventions     int
}

// Resolution is the outcome of conflict resolution on an edit.
type Resolution struct {
	Edit       json.RawMessage
	ResolvedBy string
	Confidence float64
}

// Engine is the anti-echo policy hook.
type Engine interface {
	// Enabled reports whether the engine vetoes messages at all.
	Enabled() bool

	// Evaluate inspects a checkable message. A non-nil intervention
	// means the message must not be applied.
	Evaluate(msg Message) *Intervention

	// AssignPerspective picks a perspective for a new session given the
	// perspectives currently active.
	AssignPerspective(active []string) string

	// CanClaim decides whether an agent with the given perspective may
	// claim the task. The string is the rejection reason when denied.
	CanClaim(perspective string, task wire.Task) (bool, string)

	// EnrichTask fills in policy-required perspectives and evidence
	// requirements on a newly created task.
	EnrichTask(task wire.Task) wire.Task

	// VoteWeight computes the weight of a vote from the voter's
	// perspective and supplied evidence.
	VoteWeight(perspective, evidence string) float64

	// ResolveConflict resolves a conflicting edit.
	ResolveConflict(file string, edit json.RawMessage, version int) Resolution

	// Snapshot reports current diversity metrics over the active
	// perspective set.
	Snapshot(active []string) Metrics
}

// ApplyResult is the edit coordinator's verdict on one edit.
type ApplyResult struct {
	Conflict bool
	Version  int // version the file is at after a non-conflicting apply
}

// EditCoordinator orders concurrent edits per file.
type EditCoordinator interface {
	Apply(file string, edit json.RawMessage, version int, agentID string) ApplyResult
}

// VoteOutcome is returned by the orchestrator once a proposal reaches
// a decision.
type VoteOutcome struct {
	ProposalID     string
	Decision       string
	Confidence     float64
	DiversityScore float64
	Perspectives   []string
}

// AgentSpec describes one agent the orchestrator wants spawned.
type AgentSpec struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Perspective string `json:"perspective,omitempty"`
	Task        string `json:"task,omitempty"`
}

// Orchestrator tracks registered tasks, running votes, and spawn
// requests.
type Orchestrator interface {
	// RegisterTask records a newly created task.
	RegisterTask(task wire.Task)

	// RecordVote tallies one weighted vote. The outcome is non-nil once
	// the proposal is decided.
	RecordVote(proposalID, agentID, vote, evidence, perspective string, weight float64) *VoteOutcome

	// Spawn produces agent descriptors for a spawn request.
	Spawn(mode, task string, count int) []AgentSpec
}
