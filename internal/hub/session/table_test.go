package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabhub/collabhub/internal/hub/identity"
)

type fakeSender struct {
	frames []any
}

func (f *fakeSender) Send(v any) error {
	f.frames = append(f.frames, v)
	return nil
}

func newTestTable(t *testing.T) (*Table, *identity.Store) {
	t.Helper()
	ids := identity.NewStore("")
	return NewTable(ids), ids
}

func TestCreate_ByName(t *testing.T) {
	tbl, ids := newTestTable(t)

	res, err := tbl.Create("sess-1", &fakeSender{}, "", "alice", "researcher")
	require.NoError(t, err)

	assert.Equal(t, "alice", res.Session.DisplayName)
	assert.Equal(t, "researcher", res.Session.CurrentRole)
	assert.Equal(t, StatusActive, res.Session.Status)
	assert.False(t, res.IsReturning)
	assert.Equal(t, 1, res.Identity.Stats.TotalSessions)

	ident, ok := ids.Get(res.Session.AgentID)
	require.True(t, ok)
	assert.Equal(t, "sess-1", ident.CurrentSessionID)
}

func TestCreate_MissingIdentity(t *testing.T) {
	tbl, _ := newTestTable(t)

	_, err := tbl.Create("sess-1", &fakeSender{}, "", "", "")
	assert.ErrorIs(t, err, ErrMissingIdentity)
	assert.Equal(t, 0, tbl.Count())
}

func TestCreate_InvalidTokenWithoutName(t *testing.T) {
	tbl, _ := newTestTable(t)

	_, err := tbl.Create("sess-1", &fakeSender{}, "no-such-token", "", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCreate_InvalidTokenFallsBackToName(t *testing.T) {
	tbl, ids := newTestTable(t)
	existing, err := ids.RegisterNew("bob", "critic")
	require.NoError(t, err)

	res, err := tbl.Create("sess-1", &fakeSender{}, "bogus", "bob", "")
	require.NoError(t, err)
	assert.Equal(t, existing.AgentID, res.Session.AgentID)
}

func TestCreate_ByToken(t *testing.T) {
	tbl, ids := newTestTable(t)
	existing, err := ids.RegisterNew("carol", "architect")
	require.NoError(t, err)

	res, err := tbl.Create("sess-1", &fakeSender{}, existing.AuthToken, "", "")
	require.NoError(t, err)
	assert.Equal(t, existing.AgentID, res.Session.AgentID)
	assert.Equal(t, "architect", res.Session.CurrentRole)
	assert.False(t, res.IsReturning)
}

func TestCreate_ReturningAgent(t *testing.T) {
	tbl, ids := newTestTable(t)
	existing, err := ids.RegisterNew("dave", "builder")
	require.NoError(t, err)

	_, err = tbl.Create("sess-1", &fakeSender{}, existing.AuthToken, "", "")
	require.NoError(t, err)
	tbl.Remove("sess-1")

	res, err := tbl.Create("sess-2", &fakeSender{}, existing.AuthToken, "", "")
	require.NoError(t, err)
	assert.True(t, res.IsReturning)
	assert.Equal(t, 2, res.Identity.Stats.TotalSessions)
}

func TestCreate_DetachesPreviousSession(t *testing.T) {
	tbl, ids := newTestTable(t)
	existing, err := ids.RegisterNew("erin", "reviewer")
	require.NoError(t, err)

	_, err = tbl.Create("sess-old", &fakeSender{}, existing.AuthToken, "", "")
	require.NoError(t, err)
	tbl.Bump("sess-old", CounterMessages)
	tbl.Bump("sess-old", CounterMessages)

	_, err = tbl.Create("sess-new", &fakeSender{}, existing.AuthToken, "", "")
	require.NoError(t, err)

	_, ok := tbl.Get("sess-old")
	assert.False(t, ok, "previous session must be evicted")
	assert.Equal(t, 1, tbl.Count())

	// The evicted session's counters rolled up before the new connect.
	ident, _ := ids.Get(existing.AgentID)
	assert.Equal(t, 2, ident.Stats.TotalMessages)
	assert.Equal(t, "sess-new", ident.CurrentSessionID)
}

func TestCreate_RoleChangeCommitted(t *testing.T) {
	tbl, ids := newTestTable(t)
	existing, err := ids.RegisterNew("frank", "researcher")
	require.NoError(t, err)

	res, err := tbl.Create("sess-1", &fakeSender{}, existing.AuthToken, "", "skeptic")
	require.NoError(t, err)
	assert.Equal(t, "skeptic", res.Session.CurrentRole)

	ident, _ := ids.Get(existing.AgentID)
	assert.Equal(t, "skeptic", ident.CurrentRole)
	// Previous role pushed into history.
	require.NotEmpty(t, ident.RoleHistory)
	assert.Equal(t, "researcher", ident.RoleHistory[len(ident.RoleHistory)-1].Role)
}

func TestRemove_RollsUpCounters(t *testing.T) {
	tbl, ids := newTestTable(t)

	res, err := tbl.Create("sess-1", &fakeSender{}, "", "gina", "builder")
	require.NoError(t, err)

	tbl.Bump("sess-1", CounterEdits)
	tbl.Bump("sess-1", CounterMessages)
	tbl.Bump("sess-1", CounterMessages)
	tbl.Bump("sess-1", CounterTasks)

	tbl.Remove("sess-1")
	assert.Equal(t, 0, tbl.Count())

	ident, ok := ids.Get(res.Session.AgentID)
	require.True(t, ok)
	assert.Equal(t, 1, ident.Stats.TotalEdits)
	assert.Equal(t, 2, ident.Stats.TotalMessages)
	assert.Equal(t, 1, ident.Stats.TotalTasks)
	assert.Empty(t, ident.CurrentSessionID)

	// Idempotent.
	tbl.Remove("sess-1")
	ident, _ = ids.Get(res.Session.AgentID)
	assert.Equal(t, 2, ident.Stats.TotalMessages)
}

func TestChangeRole(t *testing.T) {
	tbl, ids := newTestTable(t)
	res, err := tbl.Create("sess-1", &fakeSender{}, "", "hana", "researcher")
	require.NoError(t, err)

	old, err := tbl.ChangeRole("sess-1", "critic")
	require.NoError(t, err)
	assert.Equal(t, "researcher", old)

	s, _ := tbl.Get("sess-1")
	assert.Equal(t, "critic", s.CurrentRole)
	ident, _ := ids.Get(res.Session.AgentID)
	assert.Equal(t, "critic", ident.CurrentRole)

	_, err = tbl.ChangeRole("nope", "x")
	assert.Error(t, err)
}

func TestChangePerspective(t *testing.T) {
	tbl, ids := newTestTable(t)
	res, err := tbl.Create("sess-1", &fakeSender{}, "", "ivan", "researcher")
	require.NoError(t, err)

	require.NoError(t, tbl.ChangePerspective("sess-1", "optimist", ""))
	require.NoError(t, tbl.ChangePerspective("sess-1", "skeptic", "rotation"))

	s, _ := tbl.Get("sess-1")
	assert.Equal(t, "skeptic", s.CurrentPerspective)

	ident, _ := ids.Get(res.Session.AgentID)
	assert.Equal(t, "skeptic", ident.CurrentPerspective)
	require.Len(t, ident.PerspectiveHistory, 1)
	assert.Equal(t, "optimist", ident.PerspectiveHistory[0].Perspective)
}

func TestQueries(t *testing.T) {
	tbl, _ := newTestTable(t)

	for _, tc := range []struct{ sess, name, role, perspective string }{
		{"s1", "a1", "researcher", "optimist"},
		{"s2", "a2", "researcher", "skeptic"},
		{"s3", "a3", "builder", "skeptic"},
		{"s4", "a4", "builder", ""},
	} {
		_, err := tbl.Create(tc.sess, &fakeSender{}, "", tc.name, tc.role)
		require.NoError(t, err)
		if tc.perspective != "" {
			require.NoError(t, tbl.ChangePerspective(tc.sess, tc.perspective, ""))
		}
	}
	tbl.SetStatus("s4", StatusIdle)

	assert.Len(t, tbl.All(), 4)
	assert.Len(t, tbl.Active(), 3)
	assert.Len(t, tbl.ByRole("researcher"), 2)
	assert.Len(t, tbl.ByRole("builder"), 1) // s4 is idle
	assert.Len(t, tbl.ByPerspective("skeptic"), 2)
	assert.ElementsMatch(t, []string{"optimist", "skeptic"}, tbl.ActivePerspectives())
	assert.Len(t, tbl.UniqueActiveAgents(), 3)
}
