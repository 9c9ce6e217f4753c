// Package gateway is the connection frontend: it accepts WebSocket
// connections, runs the register/auth handshake, and pumps frames from
// authenticated sessions into the hub.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/collabhub/collabhub/internal/hub/hub"
	"github.com/collabhub/collabhub/internal/hub/id"
	"github.com/collabhub/collabhub/internal/hub/identity"
	"github.com/collabhub/collabhub/internal/hub/wire"
	"github.com/collabhub/collabhub/internal/metrics"
	"github.com/collabhub/collabhub/internal/util/sanitize"
	"github.com/collabhub/collabhub/internal/util/timefmt"
)

// Close codes for handshake failures.
const (
	closeAuthFailure    = websocket.StatusCode(4001)
	closeInvalidRequest = websocket.StatusCode(4002)
)

// preAuthFrameLimit bounds how many frames a client may send before
// authenticating.
const preAuthFrameLimit = 8

// maxNameLen caps agent names, roles and perspectives.
const maxNameLen = 64

// capabilities advertised in every auth-success reply.
var capabilities = []string{
	"chat", "edits", "tasks", "votes", "spawn", "presence", "realtime-updates",
}

// Gateway owns the WebSocket endpoint and every live connection.
type Gateway struct {
	hub *hub.Hub

	mu         sync.Mutex
	conns      map[*wsConn]string // conn -> session ID ("" before auth)
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New creates a Gateway in front of the hub.
func New(h *hub.Hub) *Gateway {
	return &Gateway{
		hub:        h,
		conns:      make(map[*wsConn]string),
		shutdownCh: make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-g.shutdownCh:
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Debug("websocket accept failed", "error", err)
		return
	}

	conn := newWSConn(c)
	g.track(conn)
	metrics.WSConnectionsActive.Inc()
	defer func() {
		g.untrack(conn)
		metrics.WSConnectionsActive.Dec()
	}()

	g.wg.Add(1)
	defer g.wg.Done()

	g.serve(r.Context(), conn)
}

// Shutdown stops accepting connections, closes the live ones, and
// waits for their loops to drain.
func (g *Gateway) Shutdown() {
	close(g.shutdownCh)

	g.mu.Lock()
	for conn := range g.conns {
		conn.close(websocket.StatusGoingAway, "server shutting down")
	}
	g.mu.Unlock()

	g.wg.Wait()
}

func (g *Gateway) track(conn *wsConn) {
	g.mu.Lock()
	g.conns[conn] = ""
	g.mu.Unlock()
}

func (g *Gateway) untrack(conn *wsConn) {
	g.mu.Lock()
	delete(g.conns, conn)
	g.mu.Unlock()
}

func (g *Gateway) bindSession(conn *wsConn, sessionID string) {
	g.mu.Lock()
	g.conns[conn] = sessionID
	g.mu.Unlock()
}

// serve runs the pre-auth handshake and, once authenticated, the
// session read loop.
func (g *Gateway) serve(ctx context.Context, conn *wsConn) {
	sessionID, ok := g.preAuth(ctx, conn)
	if !ok {
		return
	}
	defer g.teardown(sessionID)

	for {
		_, data, err := conn.c.Read(ctx)
		if err != nil {
			slog.Debug("session read loop ended", "session", sessionID, "error", err)
			return
		}
		frame, err := wire.ParseFrame(data)
		if err != nil {
			_ = conn.Send(wire.Error(err.Error()))
			continue
		}
		g.hub.Handle(sessionID, frame)
	}
}

// preAuth accepts only register and auth frames, up to the frame
// limit. It returns a live session ID when auth succeeds; in every
// other outcome the connection ends here.
func (g *Gateway) preAuth(ctx context.Context, conn *wsConn) (string, bool) {
	for i := 0; i < preAuthFrameLimit; i++ {
		_, data, err := conn.c.Read(ctx)
		if err != nil {
			return "", false
		}
		frame, err := wire.ParseFrame(data)
		if err != nil {
			_ = conn.Send(wire.Error(err.Error()))
			continue
		}

		switch frame.Type {
		case "register":
			g.handleRegister(conn, frame)
			return "", false
		case "auth":
			if sessionID, ok := g.handleAuth(conn, frame); ok {
				return sessionID, true
			}
			return "", false
		default:
			_ = conn.Send(wire.Error("Authentication required"))
		}
	}

	conn.close(closeInvalidRequest, "too many frames before authentication")
	return "", false
}

// handleRegister runs the one-shot out-of-band registration. The
// connection closes afterwards either way; registration never creates
// a session.
func (g *Gateway) handleRegister(conn *wsConn, frame wire.Frame) {
	var req wire.RegisterRequest
	if err := frame.Decode(&req); err != nil {
		_ = conn.Send(wire.RegisterFailed{Type: "register-failed", Reason: err.Error()})
		conn.close(closeInvalidRequest, "malformed register frame")
		return
	}

	name := sanitize.Name(req.AgentName, maxNameLen)
	if name == "" {
		_ = conn.Send(wire.RegisterFailed{Type: "register-failed", Reason: "agent name is required"})
		conn.close(closeInvalidRequest, "agent name is required")
		return
	}

	ids := g.hub.Identities()
	if !req.ForceNew && !ids.IsNameAvailable(name) {
		_ = conn.Send(wire.RegisterFailed{
			Type:        "register-failed",
			Reason:      "name-taken",
			Suggestions: ids.SuggestNames(name, 3),
		})
		conn.close(closeInvalidRequest, "name taken")
		return
	}

	var (
		ident identity.Identity
		err   error
	)
	if req.ForceNew {
		ident, err = ids.LegacyRegister(name, req.Role)
	} else {
		ident, err = ids.RegisterNew(name, req.Role)
	}
	if err != nil {
		_ = conn.Send(wire.RegisterFailed{Type: "register-failed", Reason: err.Error()})
		conn.close(closeInvalidRequest, "registration failed")
		return
	}

	_ = conn.Send(wire.RegisterSuccess{
		Type:      "register-success",
		AgentID:   ident.AgentID,
		AgentName: ident.DisplayName,
		AuthToken: ident.AuthToken,
		Role:      ident.CurrentRole,
	})
	conn.close(websocket.StatusNormalClosure, "registered")
}

// handleAuth establishes the session. On failure the reply carries the
// reason and the connection closes with the auth failure code.
func (g *Gateway) handleAuth(conn *wsConn, frame wire.Frame) (string, bool) {
	var req wire.AuthRequest
	if err := frame.Decode(&req); err != nil {
		_ = conn.Send(wire.AuthFailed{Type: "auth-failed", Reason: err.Error()})
		conn.close(closeInvalidRequest, "malformed auth frame")
		return "", false
	}

	warning := wire.CheckCompatibility(req.ClientVersion, wire.ServerVersion)

	sessionID := id.Generate()
	res, err := g.hub.Sessions().Create(sessionID, conn, req.AuthToken,
		sanitize.Name(req.AgentName, maxNameLen), sanitize.Name(req.Role, maxNameLen))
	if err != nil {
		_ = conn.Send(wire.AuthFailed{Type: "auth-failed", Reason: err.Error()})
		conn.close(closeAuthFailure, "authentication failed")
		return "", false
	}
	g.bindSession(conn, sessionID)

	perspective := sanitize.Name(req.Perspective, maxNameLen)
	if perspective == "" && g.hub.Engine().Enabled() {
		perspective = g.hub.Engine().AssignPerspective(g.hub.Sessions().ActivePerspectives())
	}
	if perspective != "" {
		if err := g.hub.Sessions().ChangePerspective(sessionID, perspective, "assigned at connect"); err != nil {
			slog.Warn("assign perspective", "session", sessionID, "error", err)
		}
	}

	st := res.Identity.Stats
	_ = conn.Send(wire.AuthSuccess{
		Type:               "auth-success",
		AgentID:            res.Identity.AgentID,
		AuthToken:          res.Identity.AuthToken,
		IsReturning:        res.IsReturning,
		TotalSessions:      st.TotalSessions,
		TotalContributions: st.TotalMessages + st.TotalTasks + st.TotalEdits,
		LastSeen:           timefmt.Format(res.LastSeen),
		ServerVersion:      wire.ServerVersion,
		ClientVersion:      req.ClientVersion,
		VersionWarning:     warning,
		Capabilities:       capabilities,
	})

	g.hub.Broadcast(wire.SessionUpdate{
		Type:  "session-update",
		Event: "joined",
		Session: wire.SessionInfo{
			SessionID:   sessionID,
			AgentID:     res.Identity.AgentID,
			DisplayName: res.Identity.DisplayName,
			Role:        res.Session.CurrentRole,
			Perspective: perspective,
		},
	}, sessionID)

	slog.Info("session authenticated",
		"session", sessionID,
		"agent", res.Identity.DisplayName,
		"role", res.Session.CurrentRole,
		"returning", res.IsReturning)
	return sessionID, true
}

// teardown severs a disconnected session and tells everyone else.
func (g *Gateway) teardown(sessionID string) {
	sess, ok := g.hub.Sessions().Get(sessionID)
	if !ok {
		return
	}
	g.hub.Sessions().Remove(sessionID)
	g.hub.Presence().Drop(sess.AgentID)

	g.hub.Broadcast(wire.SessionUpdate{
		Type:  "session-update",
		Event: "left",
		Session: wire.SessionInfo{
			SessionID:   sessionID,
			AgentID:     sess.AgentID,
			DisplayName: sess.DisplayName,
			Role:        sess.CurrentRole,
			Perspective: sess.CurrentPerspective,
		},
	}, sessionID)
	slog.Info("session disconnected", "session", sessionID, "agent", sess.DisplayName)
}
