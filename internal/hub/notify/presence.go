package notify

import (
	"sync"
	"time"
)

// cursorStaleAfter is how long a cursor position stays visible without
// an update.
const cursorStaleAfter = 30 * time.Second

// Cursor is an agent's last reported position in a file.
type Cursor struct {
	AgentID   string    `json:"agentId"`
	File      string    `json:"file"`
	Line      int       `json:"line"`
	Column    int       `json:"column"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Presence tracks ephemeral editing state: cursor positions and which
// agents currently have which files open. Nothing here is persisted.
type Presence struct {
	mu      sync.Mutex
	cursors map[string]Cursor          // agentID -> last position
	editors map[string]map[string]bool // file -> open agent IDs

	nowFn func() time.Time
}

// NewPresence creates an empty tracker.
func NewPresence() *Presence {
	return &Presence{
		cursors: make(map[string]Cursor),
		editors: make(map[string]map[string]bool),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// UpdateCursor records an agent's cursor position.
func (p *Presence) UpdateCursor(agentID, file string, line, column int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors[agentID] = Cursor{
		AgentID:   agentID,
		File:      file,
		Line:      line,
		Column:    column,
		UpdatedAt: p.nowFn(),
	}
}

// Cursors returns the live cursor positions, pruning entries older
// than 30 seconds as it goes.
func (p *Presence) Cursors() []Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.nowFn().Add(-cursorStaleAfter)
	out := make([]Cursor, 0, len(p.cursors))
	for agentID, c := range p.cursors {
		if c.UpdatedAt.Before(cutoff) {
			delete(p.cursors, agentID)
			continue
		}
		out = append(out, c)
	}
	return out
}

// OpenFile adds an agent to a file's editor set.
func (p *Presence) OpenFile(agentID, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.editors[file]
	if !ok {
		set = make(map[string]bool)
		p.editors[file] = set
	}
	set[agentID] = true
}

// CloseFile removes an agent from a file's editor set; the last
// removal clears the entry entirely.
func (p *Presence) CloseFile(agentID, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.editors[file]
	if !ok {
		return
	}
	delete(set, agentID)
	if len(set) == 0 {
		delete(p.editors, file)
	}
}

// Editors returns the agents that currently have the file open.
func (p *Presence) Editors(file string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.editors[file]
	out := make([]string, 0, len(set))
	for agentID := range set {
		out = append(out, agentID)
	}
	return out
}

// Drop removes every trace of an agent, for session teardown.
func (p *Presence) Drop(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cursors, agentID)
	for file, set := range p.editors {
		delete(set, agentID)
		if len(set) == 0 {
			delete(p.editors, file)
		}
	}
}
