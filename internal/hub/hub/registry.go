package hub

import (
	"strings"
	"sync"
	"time"

	"github.com/collabhub/collabhub/internal/hub/session"
	"github.com/collabhub/collabhub/internal/hub/wire"
	"github.com/collabhub/collabhub/internal/util/timefmt"
)

// ExtHandler processes a frame type outside the core protocol.
type ExtHandler func(h *Hub, sess session.Session, frame wire.Frame)

// Registry routes secondary frame types: exact matches first, then
// `prefix*` patterns in registration order. Unmatched types are
// ignored by the caller.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]ExtHandler
	prefixes []prefixEntry
}

type prefixEntry struct {
	prefix  string
	handler ExtHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{exact: make(map[string]ExtHandler)}
}

// Register binds a handler to a frame type. A trailing '*' makes the
// pattern a prefix match.
func (r *Registry) Register(pattern string, handler ExtHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.HasSuffix(pattern, "*") {
		r.prefixes = append(r.prefixes, prefixEntry{prefix: strings.TrimSuffix(pattern, "*"), handler: handler})
		return
	}
	r.exact[pattern] = handler
}

// Dispatch routes a frame to its handler, reporting whether one
// matched.
func (r *Registry) Dispatch(h *Hub, sess session.Session, frame wire.Frame) bool {
	r.mu.RLock()
	handler, ok := r.exact[frame.Type]
	if !ok {
		for _, p := range r.prefixes {
			if strings.HasPrefix(frame.Type, p.prefix) {
				handler, ok = p.handler, true
				break
			}
		}
	}
	r.mu.RUnlock()

	if !ok {
		return false
	}
	handler(h, sess, frame)
	return true
}

// Extensions exposes the registry for callers that want to add
// deployment-specific frame types.
func (h *Hub) Extensions() *Registry { return h.ext }

func (h *Hub) registerBuiltins() {
	h.ext.Register("ping", func(h *Hub, sess session.Session, _ wire.Frame) {
		h.SendTo(sess, wire.Pong{Type: "pong", Timestamp: timefmt.Format(time.Now().UTC())})
	})
	h.ext.Register("echo", func(h *Hub, sess session.Session, frame wire.Frame) {
		var payload map[string]any
		if err := frame.Decode(&payload); err != nil {
			h.SendTo(sess, wire.Error("malformed echo frame"))
			return
		}
		h.SendTo(sess, wire.DataMessage{Type: "echo", Data: payload})
	})
	h.ext.Register("status", func(h *Hub, sess session.Session, _ wire.Frame) {
		h.SendTo(sess, wire.StatusReply{
			Type:     "status",
			Sessions: h.sessions.Count(),
			Agents:   h.ids.Count(),
			UptimeMs: time.Since(h.startedAt).Milliseconds(),
		})
	})
}
