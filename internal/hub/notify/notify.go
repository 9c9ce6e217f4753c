// Package notify watches the shared workspace for file changes and
// turns raw filesystem events into typed, de-duplicated, prioritized
// notifications. It also tracks ephemeral editing presence (cursor
// positions and per-file editor sets).
package notify

import "time"

// Kind describes what happened to a path.
type Kind string

const (
	KindAdd    Kind = "add"
	KindChange Kind = "change"
	KindRemove Kind = "remove"
)

// Priority orders notifications in the delivery queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// Type is the routed notification type.
type Type string

const (
	TypeTaskBoardUpdated  Type = "task-board-updated"
	TypeDiscussionUpdated Type = "discussion-updated"
	TypeNewMessage        Type = "new-message"
	TypeFileChanged       Type = "file-changed"
)

// Notification is one debounced, classified file event.
type Notification struct {
	Type      Type      `json:"type"`
	Kind      Kind      `json:"kind"`
	Path      string    `json:"path"`
	Priority  Priority  `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}
