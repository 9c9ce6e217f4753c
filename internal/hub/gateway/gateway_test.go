package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabhub/collabhub/internal/hub/hub"
	"github.com/collabhub/collabhub/internal/hub/identity"
	"github.com/collabhub/collabhub/internal/hub/notify"
	"github.com/collabhub/collabhub/internal/hub/policy"
	"github.com/collabhub/collabhub/internal/hub/session"
	"github.com/collabhub/collabhub/internal/hub/tasklock"
	"github.com/collabhub/collabhub/internal/util/testutil"
)

func newTestServer(t *testing.T, engine policy.Engine) (*httptest.Server, *hub.Hub) {
	t.Helper()
	ids := identity.NewStore("")
	table := session.NewTable(ids)
	locks := tasklock.NewManager("", "")
	board := hub.NewBoard(filepath.Join(t.TempDir(), "DISCUSSION_BOARD.md"))

	h := hub.New(ids, table, locks, notify.NewPresence(), engine,
		policy.NewVersionedEdits(), policy.NewTally(), board)
	g := New(h)
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	t.Cleanup(g.Shutdown)
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	return c
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, data))
}

func recv(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

// recvType reads frames until one of the wanted type arrives, skipping
// unrelated broadcasts.
func recvType(t *testing.T, c *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := recv(t, c)
		if msg["type"] == wantType {
			return msg
		}
	}
	t.Fatalf("no %s frame received", wantType)
	return nil
}

func register(t *testing.T, srv *httptest.Server, name, role string) map[string]any {
	t.Helper()
	c := dial(t, srv)
	defer c.Close(websocket.StatusNormalClosure, "")
	send(t, c, map[string]any{"type": "register", "agentName": name, "role": role})
	return recv(t, c)
}

func TestRegister_UniqueNameWithSuggestions(t *testing.T) {
	srv, _ := newTestServer(t, policy.NoopEngine{})

	reply := register(t, srv, "alice", "researcher")
	assert.Equal(t, "register-success", reply["type"])
	assert.NotEmpty(t, reply["agentId"])
	assert.NotEmpty(t, reply["authToken"])

	reply = register(t, srv, "alice", "researcher")
	assert.Equal(t, "register-failed", reply["type"])
	assert.Equal(t, "name-taken", reply["reason"])
	assert.Contains(t, reply["suggestions"], "alice2")
}

func TestRegister_ForceNewAllowsDuplicate(t *testing.T) {
	srv, _ := newTestServer(t, policy.NoopEngine{})

	first := register(t, srv, "alice", "researcher")
	require.Equal(t, "register-success", first["type"])

	c := dial(t, srv)
	defer c.Close(websocket.StatusNormalClosure, "")
	send(t, c, map[string]any{"type": "register", "agentName": "alice", "forceNew": true})
	second := recv(t, c)
	assert.Equal(t, "register-success", second["type"])
	assert.NotEqual(t, first["agentId"], second["agentId"])
}

func TestRegister_NameRequired(t *testing.T) {
	srv, _ := newTestServer(t, policy.NoopEngine{})

	c := dial(t, srv)
	defer c.Close(websocket.StatusNormalClosure, "")
	send(t, c, map[string]any{"type": "register"})
	reply := recv(t, c)
	assert.Equal(t, "register-failed", reply["type"])
	assert.Equal(t, "agent name is required", reply["reason"])
}

func TestAuth_ReclaimAcrossReconnect(t *testing.T) {
	srv, _ := newTestServer(t, policy.NoopEngine{})

	reg := register(t, srv, "bob", "builder")
	require.Equal(t, "register-success", reg["type"])
	token := reg["authToken"].(string)
	agentID := reg["agentId"].(string)

	c1 := dial(t, srv)
	send(t, c1, map[string]any{"type": "auth", "authToken": token, "clientVersion": "3.2.0"})
	auth1 := recv(t, c1)
	require.Equal(t, "auth-success", auth1["type"])
	assert.Equal(t, agentID, auth1["agentId"])
	assert.Equal(t, false, auth1["isReturning"])
	assert.Equal(t, float64(1), auth1["totalSessions"])
	assert.Nil(t, auth1["versionWarning"])
	c1.Close(websocket.StatusNormalClosure, "")

	c2 := dial(t, srv)
	defer c2.Close(websocket.StatusNormalClosure, "")
	send(t, c2, map[string]any{"type": "auth", "authToken": token})
	auth2 := recv(t, c2)
	require.Equal(t, "auth-success", auth2["type"])
	assert.Equal(t, agentID, auth2["agentId"])
	assert.Equal(t, true, auth2["isReturning"])
	assert.Equal(t, float64(2), auth2["totalSessions"])
	assert.NotNil(t, auth2["versionWarning"], "missing client version warns")
}

func TestAuth_ByNameCreatesIdentity(t *testing.T) {
	srv, h := newTestServer(t, policy.NoopEngine{})

	c := dial(t, srv)
	defer c.Close(websocket.StatusNormalClosure, "")
	send(t, c, map[string]any{"type": "auth", "agentName": "carol", "role": "critic"})
	reply := recv(t, c)
	require.Equal(t, "auth-success", reply["type"])

	assert.Equal(t, 1, h.Identities().Count())
	assert.Equal(t, 1, h.Sessions().Count())
}

func TestAuth_Failures(t *testing.T) {
	srv, _ := newTestServer(t, policy.NoopEngine{})

	c := dial(t, srv)
	send(t, c, map[string]any{"type": "auth"})
	reply := recv(t, c)
	assert.Equal(t, "auth-failed", reply["type"])

	c2 := dial(t, srv)
	send(t, c2, map[string]any{"type": "auth", "authToken": "bogus-token"})
	reply = recv(t, c2)
	assert.Equal(t, "auth-failed", reply["type"])
	assert.Contains(t, reply["reason"], "invalid auth token")
}

func TestPreAuth_RequiresAuthentication(t *testing.T) {
	srv, _ := newTestServer(t, policy.NoopEngine{})

	c := dial(t, srv)
	defer c.Close(websocket.StatusNormalClosure, "")

	send(t, c, map[string]any{"type": "message", "text": "too early"})
	reply := recv(t, c)
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, "Authentication required", reply["message"])

	// The connection stays open for a retry.
	send(t, c, map[string]any{"type": "auth", "agentName": "dave"})
	reply = recv(t, c)
	assert.Equal(t, "auth-success", reply["type"])
}

func TestPreAuth_FrameLimit(t *testing.T) {
	srv, _ := newTestServer(t, policy.NoopEngine{})

	c := dial(t, srv)
	for i := 0; i < preAuthFrameLimit; i++ {
		send(t, c, map[string]any{"type": "noise"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var closed bool
	for !closed {
		if _, _, err := c.Read(ctx); err != nil {
			closed = true
			assert.Equal(t, closeInvalidRequest, websocket.CloseStatus(err))
		}
	}
}

func TestSessionLifecycleBroadcasts(t *testing.T) {
	srv, h := newTestServer(t, policy.NoopEngine{})

	c1 := dial(t, srv)
	defer c1.Close(websocket.StatusNormalClosure, "")
	send(t, c1, map[string]any{"type": "auth", "agentName": "alice"})
	require.Equal(t, "auth-success", recv(t, c1)["type"])

	c2 := dial(t, srv)
	send(t, c2, map[string]any{"type": "auth", "agentName": "bob"})
	require.Equal(t, "auth-success", recv(t, c2)["type"])

	joined := recvType(t, c1, "session-update")
	assert.Equal(t, "joined", joined["event"])

	c2.Close(websocket.StatusNormalClosure, "bye")
	left := recvType(t, c1, "session-update")
	assert.Equal(t, "left", left["event"])

	testutil.AssertEventually(t, func() bool { return h.Sessions().Count() == 1 })
}

func TestAuth_AssignsPerspectiveWhenAntiEchoOn(t *testing.T) {
	srv, h := newTestServer(t, policy.NewEchoGuard())

	c := dial(t, srv)
	defer c.Close(websocket.StatusNormalClosure, "")
	send(t, c, map[string]any{"type": "auth", "agentName": "alice"})
	require.Equal(t, "auth-success", recv(t, c)["type"])

	perspectives := h.Sessions().ActivePerspectives()
	require.Len(t, perspectives, 1)
	assert.Contains(t, policy.DefaultPerspectives, perspectives[0])
}

func TestAuthedMessageFlow(t *testing.T) {
	srv, _ := newTestServer(t, policy.NoopEngine{})

	c1 := dial(t, srv)
	defer c1.Close(websocket.StatusNormalClosure, "")
	send(t, c1, map[string]any{"type": "auth", "agentName": "alice", "role": "researcher"})
	require.Equal(t, "auth-success", recv(t, c1)["type"])

	c2 := dial(t, srv)
	defer c2.Close(websocket.StatusNormalClosure, "")
	send(t, c2, map[string]any{"type": "auth", "agentName": "bob"})
	require.Equal(t, "auth-success", recv(t, c2)["type"])

	send(t, c1, map[string]any{"type": "message", "text": "hello"})
	chat := recvType(t, c2, "chat")
	assert.Equal(t, "alice", chat["displayName"])
	assert.Equal(t, "hello", chat["text"])

	send(t, c1, map[string]any{"type": "whoami"})
	card := recvType(t, c1, "identity-card")
	assert.Equal(t, "alice", card["card"].(map[string]any)["displayName"])
}
