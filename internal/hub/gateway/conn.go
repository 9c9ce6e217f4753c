package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// wsConn wraps a websocket connection as a session sender. Writes are
// serialized and bounded; a stalled peer fails its own writes without
// holding up anything else.
type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{c: c}
}

// Send marshals v and writes it as one text frame.
func (w *wsConn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) close(code websocket.StatusCode, reason string) {
	_ = w.c.Close(code, reason)
}

// CloseIdle terminates the connection after an idle-timeout sweep. The
// sweeper reaches it through a type assertion on the session sender.
func (w *wsConn) CloseIdle() {
	w.close(websocket.StatusNormalClosure, "idle timeout")
}
