package hub

import (
	"fmt"
	"time"

	"github.com/collabhub/collabhub/internal/hub/identity"
	"github.com/collabhub/collabhub/internal/hub/session"
	"github.com/collabhub/collabhub/internal/hub/tasklock"
	"github.com/collabhub/collabhub/internal/hub/wire"
	"github.com/collabhub/collabhub/internal/util/sanitize"
	"github.com/collabhub/collabhub/internal/util/timefmt"
)

// Input length caps.
const (
	maxMessageLen = 4000
	maxNameLen    = 64
)

func (h *Hub) handleEdit(sess session.Session, frame wire.Frame) error {
	var req wire.EditRequest
	if err := frame.Decode(&req); err != nil {
		return err
	}
	if req.File == "" {
		return fmt.Errorf("edit requires a file")
	}

	if editors := otherEditors(h, sess.AgentID, req.File); len(editors) > 0 {
		h.SendTo(sess, wire.ConcurrentEditingWarning{
			Type:         "concurrent-editing-warning",
			Filepath:     req.File,
			OtherEditors: editors,
		})
	}

	res := h.edits.Apply(req.File, req.Edit, req.Version, sess.AgentID)
	if res.Conflict {
		resolution := h.engine.ResolveConflict(req.File, req.Edit, req.Version)
		h.Broadcast(wire.EditResolved{
			Type:       "edit-resolved",
			File:       req.File,
			Edit:       resolution.Edit,
			ResolvedBy: resolution.ResolvedBy,
			Confidence: resolution.Confidence,
		}, sess.ID)
	} else {
		h.Broadcast(wire.EditBroadcast{
			Type:    "edit",
			File:    req.File,
			Edit:    req.Edit,
			Version: res.Version,
			AgentID: sess.AgentID,
		}, sess.ID)
	}

	h.sessions.Bump(sess.ID, session.CounterEdits)
	return nil
}

func (h *Hub) handleTask(sess session.Session, frame wire.Frame) error {
	var req wire.TaskRequest
	if err := frame.Decode(&req); err != nil {
		return err
	}
	if req.Task.ID == "" {
		return fmt.Errorf("task requires an id")
	}

	switch req.Action {
	case "create":
		task := h.engine.EnrichTask(req.Task)
		h.orch.RegisterTask(task)
		h.Broadcast(wire.TaskUpdate{Type: "task-update", Event: "created", Task: task}, "")
		h.sessions.Bump(sess.ID, session.CounterTasks)
		return nil

	case "claim":
		task := req.Task
		if registered, ok := registeredTask(h, task.ID); ok {
			task = registered
		}
		if allowed, reason := h.engine.CanClaim(sess.CurrentPerspective, task); !allowed {
			h.SendTo(sess, wire.TaskRejection{Type: "task-rejection", Reason: reason})
			return nil
		}

		token, ok := h.locks.AcquireLock(task.ID, sess.AgentID)
		if !ok {
			h.SendTo(sess, wire.TaskRejection{Type: "task-rejection", Reason: "task is locked by another agent"})
			return nil
		}
		if !h.locks.ClaimTask(task.ID, sess.AgentID, token) {
			h.locks.ReleaseLock(task.ID, token)
			h.SendTo(sess, wire.TaskRejection{Type: "task-rejection", Reason: "task has already been claimed"})
			return nil
		}

		task.Status = tasklock.StatusClaimed
		h.Broadcast(wire.TaskUpdate{Type: "task-update", Event: "assigned", Task: task}, "")
		return nil

	case "complete":
		owner, ok := h.locks.Owner(req.Task.ID)
		if !ok || owner != sess.AgentID {
			h.SendTo(sess, wire.TaskRejection{Type: "task-rejection", Reason: "only the claim owner may complete a task"})
			return nil
		}
		// claimed tasks pass through in_progress on the way out.
		h.locks.UpdateStatus(req.Task.ID, sess.AgentID, tasklock.StatusInProgress)
		if !h.locks.UpdateStatus(req.Task.ID, sess.AgentID, tasklock.StatusCompleted) {
			return fmt.Errorf("task %s could not be completed", req.Task.ID)
		}

		task := req.Task
		task.Status = tasklock.StatusCompleted
		h.Broadcast(wire.TaskUpdate{Type: "task-update", Event: "completed", Task: task}, "")
		h.sessions.Bump(sess.ID, session.CounterTasks)
		return nil

	default:
		return fmt.Errorf("unknown task action %q", req.Action)
	}
}

// registeredTask asks the orchestrator for its copy of a task, when it
// supports lookup.
func registeredTask(h *Hub, id string) (wire.Task, bool) {
	type lookup interface {
		Task(id string) (wire.Task, bool)
	}
	if o, ok := h.orch.(lookup); ok {
		return o.Task(id)
	}
	return wire.Task{}, false
}

func (h *Hub) handleVote(sess session.Session, frame wire.Frame) error {
	var req wire.VoteRequest
	if err := frame.Decode(&req); err != nil {
		return err
	}
	if req.ProposalID == "" || req.Vote == "" {
		return fmt.Errorf("vote requires proposalId and vote")
	}

	weight := h.engine.VoteWeight(sess.CurrentPerspective, req.Evidence)
	outcome := h.orch.RecordVote(req.ProposalID, sess.AgentID, req.Vote, req.Evidence, sess.CurrentPerspective, weight)
	if outcome == nil {
		return nil
	}
	h.Broadcast(wire.DecisionMade{
		Type:           "decision-made",
		ProposalID:     outcome.ProposalID,
		Decision:       outcome.Decision,
		Confidence:     outcome.Confidence,
		DiversityScore: outcome.DiversityScore,
		Perspectives:   outcome.Perspectives,
	}, "")
	return nil
}

func (h *Hub) handleMessage(sess session.Session, frame wire.Frame) error {
	var req wire.ChatRequest
	if err := frame.Decode(&req); err != nil {
		return err
	}
	text := sanitize.Text(req.Text, maxMessageLen)
	if text == "" {
		return fmt.Errorf("message requires text")
	}

	now := time.Now().UTC()
	if h.board != nil {
		if err := h.board.Append(BoardEntry{
			DisplayName: sess.DisplayName,
			AgentID:     sess.AgentID,
			Role:        sess.CurrentRole,
			Perspective: sess.CurrentPerspective,
			Text:        text,
			Timestamp:   now,
		}); err != nil {
			return fmt.Errorf("append to discussion board: %w", err)
		}
	}

	h.Broadcast(wire.Chat{
		Type:        "chat",
		SessionID:   sess.ID,
		AgentID:     sess.AgentID,
		DisplayName: sess.DisplayName,
		Role:        sess.CurrentRole,
		Perspective: sess.CurrentPerspective,
		Text:        text,
		Timestamp:   timefmt.Format(now),
	}, sess.ID)

	h.sessions.Bump(sess.ID, session.CounterMessages)
	return nil
}

func (h *Hub) handleSpawn(sess session.Session, frame wire.Frame) error {
	var req wire.SpawnRequest
	if err := frame.Decode(&req); err != nil {
		return err
	}

	agents := h.orch.Spawn(req.Mode, req.Task, req.Count)
	if h.engine.Enabled() {
		active := h.sessions.ActivePerspectives()
		for i := range agents {
			if agents[i].Perspective == "" {
				agents[i].Perspective = h.engine.AssignPerspective(active)
				active = append(active, agents[i].Perspective)
			}
		}
	}

	specs := make([]any, len(agents))
	for i, a := range agents {
		specs[i] = a
	}
	h.SendTo(sess, wire.AgentsSpawned{Type: "agents-spawned", Agents: specs})
	return nil
}

func (h *Hub) handleWhoami(sess session.Session) error {
	ident, ok := h.ids.Get(sess.AgentID)
	if !ok {
		return fmt.Errorf("identity not found for session")
	}
	card := identity.BuildCard(ident, time.Now().UTC())
	h.SendTo(sess, wire.IdentityCardMessage{Type: "identity-card", Card: card})
	return nil
}

func (h *Hub) handleSwitchRole(sess session.Session, frame wire.Frame) error {
	var req wire.SwitchRoleRequest
	if err := frame.Decode(&req); err != nil {
		return err
	}
	newRole := sanitize.Name(req.NewRole, maxNameLen)
	if newRole == "" {
		return fmt.Errorf("switch-role requires newRole")
	}

	oldRole, err := h.sessions.ChangeRole(sess.ID, newRole)
	if err != nil {
		return err
	}

	h.SendTo(sess, wire.RoleChanged{Type: "role-changed", OldRole: oldRole, NewRole: newRole, AgentID: sess.AgentID})
	h.Broadcast(wire.SessionUpdate{
		Type:  "session-update",
		Event: "role-changed",
		Session: wire.SessionInfo{
			SessionID:   sess.ID,
			AgentID:     sess.AgentID,
			DisplayName: sess.DisplayName,
			Role:        newRole,
			Perspective: sess.CurrentPerspective,
		},
	}, sess.ID)
	return nil
}

func (h *Hub) handleGetHistory(sess session.Session) error {
	ident, ok := h.ids.Get(sess.AgentID)
	if !ok {
		return fmt.Errorf("identity not found for session")
	}
	h.SendTo(sess, wire.HistoryReport{Type: "history-report", Report: identity.FormatHistory(ident)})
	return nil
}

func (h *Hub) handleCursor(sess session.Session, frame wire.Frame) error {
	var req wire.CursorRequest
	if err := frame.Decode(&req); err != nil {
		return err
	}
	h.presence.UpdateCursor(sess.AgentID, req.File, req.Line, req.Column)
	h.Broadcast(wire.DataMessage{Type: "cursor-update", Data: map[string]any{
		"agentId": sess.AgentID,
		"file":    req.File,
		"line":    req.Line,
		"column":  req.Column,
	}}, sess.ID)
	return nil
}

func (h *Hub) handleTyping(sess session.Session, frame wire.Frame) error {
	var req wire.TypingRequest
	if err := frame.Decode(&req); err != nil {
		return err
	}
	h.Broadcast(wire.DataMessage{Type: "typing-indicator", Data: map[string]any{
		"agentId":     sess.AgentID,
		"displayName": sess.DisplayName,
		"file":        req.File,
		"active":      req.Active,
	}}, sess.ID)
	return nil
}

func (h *Hub) handleFileOpen(sess session.Session, frame wire.Frame) error {
	var req wire.FileSignalRequest
	if err := frame.Decode(&req); err != nil {
		return err
	}
	if others := otherEditors(h, sess.AgentID, req.File); len(others) > 0 {
		h.SendTo(sess, wire.ConcurrentEditingWarning{
			Type:         "concurrent-editing-warning",
			Filepath:     req.File,
			OtherEditors: others,
		})
	}
	h.presence.OpenFile(sess.AgentID, req.File)
	return nil
}

func (h *Hub) handleFileClose(sess session.Session, frame wire.Frame) error {
	var req wire.FileSignalRequest
	if err := frame.Decode(&req); err != nil {
		return err
	}
	h.presence.CloseFile(sess.AgentID, req.File)
	return nil
}

func otherEditors(h *Hub, agentID, file string) []string {
	var out []string
	for _, editor := range h.presence.Editors(file) {
		if editor != agentID {
			out = append(out, editor)
		}
	}
	return out
}
