// Package wire defines the framed JSON protocol spoken between the hub
// and its clients. Every frame is a UTF-8 JSON object carrying a
// required "type" field; the remaining fields depend on the type.
package wire

import (
	"encoding/json"
	"fmt"
)

// Frame is a parsed inbound frame: the dispatch tag plus the raw bytes
// for a second, type-specific decode.
type Frame struct {
	Type string
	Data json.RawMessage
}

// ParseFrame extracts the type tag from a raw frame. Returns an error
// for malformed JSON or a missing/empty type field.
func ParseFrame(data []byte) (Frame, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Frame{}, fmt.Errorf("malformed frame: %w", err)
	}
	if probe.Type == "" {
		return Frame{}, fmt.Errorf("frame has no type field")
	}
	return Frame{Type: probe.Type, Data: data}, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s frame: %w", f.Type, err)
	}
	return nil
}

// Inbound payloads.

type RegisterRequest struct {
	AgentName string `json:"agentName"`
	Role      string `json:"role"`
	ForceNew  bool   `json:"forceNew"`
}

type AuthRequest struct {
	AgentName     string `json:"agentName"`
	AuthToken     string `json:"authToken"`
	Role          string `json:"role"`
	Perspective   string `json:"perspective"`
	ClientVersion string `json:"clientVersion"`
}

type EditRequest struct {
	File    string          `json:"file"`
	Edit    json.RawMessage `json:"edit"`
	Version int             `json:"version"`
}

// Task describes a shared work item as carried by task frames.
type Task struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title,omitempty"`
	Description          string   `json:"description,omitempty"`
	Status               string   `json:"status,omitempty"`
	RequiredPerspectives []string `json:"requiredPerspectives,omitempty"`
	RequiresEvidence     bool     `json:"requiresEvidence,omitempty"`
}

type TaskRequest struct {
	Action string `json:"action"` // create, claim, complete
	Task   Task   `json:"task"`
}

type VoteRequest struct {
	ProposalID string `json:"proposalId"`
	Vote       string `json:"vote"`
	Evidence   string `json:"evidence,omitempty"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

type SpawnRequest struct {
	Mode  string `json:"mode"`
	Task  string `json:"task"`
	Count int    `json:"count"`
}

type SwitchRoleRequest struct {
	NewRole string `json:"newRole"`
}

type CursorRequest struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

type TypingRequest struct {
	File   string `json:"file"`
	Active bool   `json:"active"`
}

type FileSignalRequest struct {
	File string `json:"file"`
}

// Outbound payloads. Each struct carries its own type tag so callers
// marshal it directly into a frame.

type RegisterSuccess struct {
	Type      string `json:"type"` // "register-success"
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	AuthToken string `json:"authToken"`
	Role      string `json:"role"`
}

type RegisterFailed struct {
	Type        string   `json:"type"` // "register-failed"
	Reason      string   `json:"reason"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type AuthSuccess struct {
	Type               string   `json:"type"` // "auth-success"
	AgentID            string   `json:"agentId"`
	AuthToken          string   `json:"authToken"`
	IsReturning        bool     `json:"isReturning"`
	TotalSessions      int      `json:"totalSessions"`
	TotalContributions int      `json:"totalContributions"`
	LastSeen           string   `json:"lastSeen"`
	ServerVersion      string   `json:"serverVersion"`
	ClientVersion      string   `json:"clientVersion,omitempty"`
	VersionWarning     *Warning `json:"versionWarning"`
	Capabilities       []string `json:"capabilities"`
}

type AuthFailed struct {
	Type   string `json:"type"` // "auth-failed"
	Reason string `json:"reason"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// Error builds an error frame.
func Error(message string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: message}
}

type Chat struct {
	Type        string `json:"type"` // "chat"
	SessionID   string `json:"sessionId"`
	AgentID     string `json:"agentId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Perspective string `json:"perspective,omitempty"`
	Text        string `json:"text"`
	Timestamp   string `json:"timestamp"`
}

type EditBroadcast struct {
	Type    string          `json:"type"` // "edit"
	File    string          `json:"file"`
	Edit    json.RawMessage `json:"edit"`
	Version int             `json:"version"`
	AgentID string          `json:"agentId"`
}

type EditResolved struct {
	Type       string          `json:"type"` // "edit-resolved"
	File       string          `json:"file"`
	Edit       json.RawMessage `json:"edit"`
	ResolvedBy string          `json:"resolvedBy"`
	Confidence float64         `json:"confidence"`
}

type TaskUpdate struct {
	Type  string `json:"type"`  // "task-update"
	Event string `json:"event"` // created, assigned, completed
	Task  Task   `json:"task"`
}

type TaskRejection struct {
	Type   string `json:"type"` // "task-rejection"
	Reason string `json:"reason"`
}

type DecisionMade struct {
	Type           string   `json:"type"` // "decision-made"
	ProposalID     string   `json:"proposalId"`
	Decision       string   `json:"decision"`
	Confidence     float64  `json:"confidence"`
	DiversityScore float64  `json:"diversityScore"`
	Perspectives   []string `json:"perspectives"`
}

type AgentsSpawned struct {
	Type   string `json:"type"` // "agents-spawned"
	Agents []any  `json:"agents"`
}

type DiversityIntervention struct {
	Type           string   `json:"type"` // "diversity-intervention"
	Reason         string   `json:"reason"`
	RequiredAction string   `json:"requiredAction"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

type DiversityMetrics struct {
	Type                    string         `json:"type"` // "diversity-metrics"
	OverallDiversity        float64        `json:"overallDiversity"`
	AgreementRate           float64        `json:"agreementRate"`
	EvidenceRate            float64        `json:"evidenceRate"`
	PerspectiveDistribution map[string]int `json:"perspectiveDistribution"`
	RecentInterventions     int            `json:"recentInterventions"`
}

// SessionInfo is the session summary carried by session-update frames.
type SessionInfo struct {
	SessionID   string `json:"sessionId"`
	AgentID     string `json:"agentId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Perspective string `json:"perspective,omitempty"`
}

type SessionUpdate struct {
	Type    string      `json:"type"`  // "session-update"
	Event   string      `json:"event"` // joined, left, role-changed
	Session SessionInfo `json:"session"`
}

type SessionCleanup struct {
	Type            string `json:"type"` // "session-cleanup"
	CleanedSessions int    `json:"cleanedSessions"`
	Timestamp       string `json:"timestamp"`
}

type RoleChanged struct {
	Type    string `json:"type"` // "role-changed"
	OldRole string `json:"oldRole"`
	NewRole string `json:"newRole"`
	AgentID string `json:"agentId"`
}

type IdentityCardMessage struct {
	Type string `json:"type"` // "identity-card"
	Card any    `json:"card"`
}

type HistoryReport struct {
	Type   string `json:"type"` // "history-report"
	Report string `json:"report"`
}

// RealtimeUpdate wraps a file-change notification fanned out to
// subscribed sessions.
type RealtimeUpdate struct {
	Type       string `json:"type"` // "realtime-update"
	UpdateType string `json:"updateType"`
	Path       string `json:"path"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Priority   string `json:"priority"`
	Timestamp  string `json:"timestamp"`
}

// DataMessage is the generic {type, data} envelope used by the typed
// update streams (file-update, task-board-update, discussion-update,
// new-message-notification, cursor-update, typing-indicator).
type DataMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type ConcurrentEditingWarning struct {
	Type         string   `json:"type"` // "concurrent-editing-warning"
	Filepath     string   `json:"filepath"`
	OtherEditors []string `json:"otherEditors"`
}

type Pong struct {
	Type      string `json:"type"` // "pong"
	Timestamp string `json:"timestamp"`
}

type StatusReply struct {
	Type     string `json:"type"` // "status"
	Sessions int    `json:"sessions"`
	Agents   int    `json:"agents"`
	UptimeMs int64  `json:"uptimeMs"`
}

type ServerShutdown struct {
	Type   string `json:"type"` // "server-shutdown"
	Reason string `json:"reason"`
}
