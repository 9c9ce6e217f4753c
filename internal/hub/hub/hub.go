// Package hub implements the authenticated message loop: frame
// dispatch, policy pre-checks, the discussion board, and fan-out to
// connected sessions.
package hub

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/collabhub/collabhub/internal/hub/identity"
	"github.com/collabhub/collabhub/internal/hub/notify"
	"github.com/collabhub/collabhub/internal/hub/policy"
	"github.com/collabhub/collabhub/internal/hub/session"
	"github.com/collabhub/collabhub/internal/hub/tasklock"
	"github.com/collabhub/collabhub/internal/hub/wire"
	"github.com/collabhub/collabhub/internal/metrics"
)

// Hub routes inbound frames from authenticated sessions. All
// collaborators are injected; tests substitute fakes.
type Hub struct {
	ids      *identity.Store
	sessions *session.Table
	locks    *tasklock.Manager
	presence *notify.Presence

	engine policy.Engine
	edits  policy.EditCoordinator
	orch   policy.Orchestrator

	board *Board
	ext   *Registry

	startedAt time.Time
}

// New wires a Hub and registers the built-in extension handlers.
func New(ids *identity.Store, sessions *session.Table, locks *tasklock.Manager,
	presence *notify.Presence, engine policy.Engine, edits policy.EditCoordinator,
	orch policy.Orchestrator, board *Board) *Hub {

	h := &Hub{
		ids:       ids,
		sessions:  sessions,
		locks:     locks,
		presence:  presence,
		engine:    engine,
		edits:     edits,
		orch:      orch,
		board:     board,
		ext:       NewRegistry(),
		startedAt: time.Now(),
	}
	h.registerBuiltins()
	return h
}

// Sessions exposes the session table to the frontend.
func (h *Hub) Sessions() *session.Table { return h.sessions }

// Identities exposes the identity store to the frontend.
func (h *Hub) Identities() *identity.Store { return h.ids }

// Engine exposes the policy engine to the frontend and sweepers.
func (h *Hub) Engine() policy.Engine { return h.engine }

// Presence exposes the presence tracker.
func (h *Hub) Presence() *notify.Presence { return h.presence }

// checkable lists the frame types subject to the anti-echo pre-check.
var checkable = map[string]bool{
	"edit":     true,
	"vote":     true,
	"proposal": true,
	"decision": true,
	"message":  true,
}

// Handle processes one inbound frame from an authenticated session.
// Handler errors are mapped to an error frame for the sender only;
// they never tear the connection down.
func (h *Hub) Handle(sessionID string, frame wire.Frame) {
	sess, ok := h.sessions.Get(sessionID)
	if !ok {
		return
	}
	metrics.MessagesInTotal.WithLabelValues(frame.Type).Inc()

	if checkable[frame.Type] && h.engine.Enabled() {
		if iv := h.engine.Evaluate(h.policyMessage(sess, frame)); iv != nil {
			h.SendTo(sess, wire.DiversityIntervention{
				Type:           "diversity-intervention",
				Reason:         iv.Reason,
				RequiredAction: iv.RequiredAction,
				Suggestions:    iv.Suggestions,
			})
			return
		}
	}

	var err error
	switch frame.Type {
	case "edit":
		err = h.handleEdit(sess, frame)
	case "task":
		err = h.handleTask(sess, frame)
	case "vote":
		err = h.handleVote(sess, frame)
	case "message":
		err = h.handleMessage(sess, frame)
	case "spawn":
		err = h.handleSpawn(sess, frame)
	case "whoami":
		err = h.handleWhoami(sess)
	case "switch-role":
		err = h.handleSwitchRole(sess, frame)
	case "get-history":
		err = h.handleGetHistory(sess)
	case "cursor-position":
		err = h.handleCursor(sess, frame)
	case "typing":
		err = h.handleTyping(sess, frame)
	case "file-open":
		err = h.handleFileOpen(sess, frame)
	case "file-close":
		err = h.handleFileClose(sess, frame)
	default:
		if !h.ext.Dispatch(h, sess, frame) {
			slog.Debug("ignoring unknown frame type", "type", frame.Type, "session", sessionID)
		}
		h.ids.TouchActivity(sess.AgentID)
		return
	}

	if err != nil {
		slog.Warn("frame handling failed", "type", frame.Type, "session", sessionID, "error", err)
		h.SendTo(sess, wire.Error(err.Error()))
		return
	}
	h.ids.TouchActivity(sess.AgentID)
}

// policyMessage projects a frame into the engine's view of it.
func (h *Hub) policyMessage(sess session.Session, frame wire.Frame) policy.Message {
	var loose struct {
		Text     string `json:"text"`
		Vote     string `json:"vote"`
		Evidence string `json:"evidence"`
	}
	_ = json.Unmarshal(frame.Data, &loose)

	text := loose.Text
	if frame.Type == "vote" {
		text = loose.Vote
	}
	return policy.Message{
		Type:        frame.Type,
		AgentID:     sess.AgentID,
		Perspective: sess.CurrentPerspective,
		Text:        text,
		Evidence:    loose.Evidence,
	}
}

// SendTo writes one payload to one session. Write failures are
// tolerated; the session will be torn down by its own read loop.
func (h *Hub) SendTo(sess session.Session, payload any) {
	if sess.Sender == nil {
		return
	}
	if err := sess.Sender.Send(payload); err != nil {
		slog.Debug("send failed", "session", sess.ID, "error", err)
		return
	}
	metrics.MessagesOutTotal.Inc()
}

// Broadcast writes a payload to every session except the excluded one.
// Best-effort per target: one slow or dead connection never blocks the
// rest.
func (h *Hub) Broadcast(payload any, excludeSessionID string) {
	metrics.BroadcastsTotal.Inc()
	for _, sess := range h.sessions.All() {
		if sess.ID == excludeSessionID {
			continue
		}
		h.SendTo(sess, payload)
	}
}
