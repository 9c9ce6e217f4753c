package tasklock

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock_Exclusive(t *testing.T) {
	m := NewManager("", "")

	token, ok := m.AcquireLock("task-1", "agent-a")
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok = m.AcquireLock("task-1", "agent-b")
	assert.False(t, ok, "second agent must not acquire a live lock")

	// Unrelated task is unaffected.
	_, ok = m.AcquireLock("task-2", "agent-b")
	assert.True(t, ok)
}

func TestAcquireLock_IdempotentRefresh(t *testing.T) {
	m := NewManager("", "")
	base := time.Now().UTC()
	m.nowFn = func() time.Time { return base }

	token1, ok := m.AcquireLock("task-1", "agent-a")
	require.True(t, ok)

	base = base.Add(3 * time.Second)
	token2, ok := m.AcquireLock("task-1", "agent-a")
	require.True(t, ok)
	assert.Equal(t, token1, token2, "refresh must keep the token")

	// Refresh extended the lease: 3s past the original 5s TTL the lock
	// is still live for the holder, still denied to others.
	base = base.Add(4 * time.Second)
	_, ok = m.AcquireLock("task-1", "agent-b")
	assert.False(t, ok)
}

func TestAcquireLock_ConcurrentRace(t *testing.T) {
	m := NewManager("", "")

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan string, n)
	for i := 0; i < n; i++ {
		agent := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := m.AcquireLock("task-1", agent); ok {
				wins <- agent
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	assert.Len(t, winners, 1, "exactly one agent wins the race")
}

func TestReleaseLock(t *testing.T) {
	m := NewManager("", "")

	token, _ := m.AcquireLock("task-1", "agent-a")
	assert.False(t, m.ReleaseLock("task-1", "wrong-token"))
	assert.False(t, m.ReleaseLock("no-such-task", token))
	assert.True(t, m.ReleaseLock("task-1", token))
	assert.False(t, m.ReleaseLock("task-1", token), "already released")

	_, ok := m.AcquireLock("task-1", "agent-b")
	assert.True(t, ok, "release restores availability")
}

func TestClaimTask(t *testing.T) {
	m := NewManager("", "")

	token, _ := m.AcquireLock("task-1", "agent-a")

	assert.False(t, m.ClaimTask("task-1", "agent-b", token), "wrong holder")
	assert.False(t, m.ClaimTask("task-1", "agent-a", "bad-token"), "wrong token")
	assert.True(t, m.ClaimTask("task-1", "agent-a", token))

	// Claim released the lock but the task stays unavailable.
	assert.Equal(t, 0, m.LockCount())
	assert.False(t, m.IsAvailable("task-1"))

	owner, ok := m.Owner("task-1")
	require.True(t, ok)
	assert.Equal(t, "agent-a", owner)

	// A later lock on the claimed task can never convert to a claim.
	token2, ok := m.AcquireLock("task-1", "agent-b")
	require.True(t, ok)
	assert.False(t, m.ClaimTask("task-1", "agent-b", token2))
}

func TestClaimTask_RequiresLiveLock(t *testing.T) {
	m := NewManager("", "")
	base := time.Now().UTC()
	m.nowFn = func() time.Time { return base }

	token, _ := m.AcquireLock("task-1", "agent-a")
	base = base.Add(LockTTL + time.Second)

	assert.False(t, m.ClaimTask("task-1", "agent-a", token), "lapsed lock cannot claim")
}

func TestUpdateStatus_Transitions(t *testing.T) {
	m := NewManager("", "")
	token, _ := m.AcquireLock("task-1", "agent-a")
	require.True(t, m.ClaimTask("task-1", "agent-a", token))

	assert.False(t, m.UpdateStatus("task-1", "agent-b", StatusInProgress), "only owner")
	assert.False(t, m.UpdateStatus("task-1", "agent-a", StatusCompleted), "cannot skip in_progress")

	assert.True(t, m.UpdateStatus("task-1", "agent-a", StatusInProgress))
	assert.False(t, m.UpdateStatus("task-1", "agent-a", StatusInProgress), "no self-transition")
	assert.True(t, m.UpdateStatus("task-1", "agent-a", StatusCompleted))

	// Completion restores availability.
	assert.True(t, m.IsAvailable("task-1"))
	_, ok := m.Owner("task-1")
	assert.False(t, ok)

	token2, ok := m.AcquireLock("task-1", "agent-b")
	require.True(t, ok)
	assert.True(t, m.ClaimTask("task-1", "agent-b", token2))
}

func TestExpireLocks(t *testing.T) {
	m := NewManager("", "")
	base := time.Now().UTC()
	m.nowFn = func() time.Time { return base }

	events, cancel := m.Subscribe()
	defer cancel()

	m.AcquireLock("task-1", "agent-a")
	m.AcquireLock("task-2", "agent-b")

	assert.Equal(t, 0, m.ExpireLocks(), "live locks are kept")

	base = base.Add(LockTTL + time.Millisecond)
	assert.Equal(t, 2, m.ExpireLocks())
	assert.Equal(t, 0, m.LockCount())

	// After expiry another agent can acquire immediately.
	_, ok := m.AcquireLock("task-1", "agent-c")
	assert.True(t, ok)

	var kinds []EventKind
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	assert.Contains(t, kinds, EventLockExpired)
}

func TestStatus(t *testing.T) {
	m := NewManager("", "")
	base := time.Now().UTC()
	m.nowFn = func() time.Time { return base }

	assert.False(t, m.Status("task-1").Locked)

	m.AcquireLock("task-1", "agent-a")
	st := m.Status("task-1")
	assert.True(t, st.Locked)
	assert.Equal(t, "agent-a", st.By)
	assert.Equal(t, LockTTL.Milliseconds(), st.ExpiresInMs)

	base = base.Add(LockTTL)
	assert.False(t, m.Status("task-1").Locked, "lapsed lock reads unlocked")
}

func TestAgentTasks(t *testing.T) {
	m := NewManager("", "")

	for _, taskID := range []string{"t1", "t2"} {
		token, _ := m.AcquireLock(taskID, "agent-a")
		require.True(t, m.ClaimTask(taskID, "agent-a", token))
	}
	token, _ := m.AcquireLock("t3", "agent-b")
	require.True(t, m.ClaimTask("t3", "agent-b", token))

	assert.Len(t, m.AgentTasks("agent-a"), 2)
	assert.Len(t, m.AgentTasks("agent-b"), 1)
	assert.Empty(t, m.AgentTasks("agent-c"))
}

func TestEvents(t *testing.T) {
	m := NewManager("", "")
	events, cancel := m.Subscribe()
	defer cancel()

	token, _ := m.AcquireLock("task-1", "agent-a")
	m.ClaimTask("task-1", "agent-a", token)
	m.UpdateStatus("task-1", "agent-a", StatusInProgress)

	want := []EventKind{EventLockAcquired, EventTaskClaimed, EventTaskStatusChanged}
	for _, kind := range want {
		select {
		case ev := <-events:
			assert.Equal(t, kind, ev.Kind)
			assert.Equal(t, "task-1", ev.TaskID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestClaimPersistence(t *testing.T) {
	dir := t.TempDir()
	claimsPath := filepath.Join(dir, "task-claims.json")

	m := NewManager(claimsPath, "")
	token, _ := m.AcquireLock("task-1", "agent-a")
	require.True(t, m.ClaimTask("task-1", "agent-a", token))
	require.True(t, m.UpdateStatus("task-1", "agent-a", StatusInProgress))

	// Locks never survive a restart, claims do.
	m.AcquireLock("task-2", "agent-b")

	m2 := NewManager(claimsPath, "")
	owner, ok := m2.Owner("task-1")
	require.True(t, ok)
	assert.Equal(t, "agent-a", owner)
	claims := m2.AgentTasks("agent-a")
	require.Len(t, claims, 1)
	assert.Equal(t, StatusInProgress, claims[0].Status)

	assert.Equal(t, 0, m2.LockCount())
	assert.True(t, m2.IsAvailable("task-2"))
}

func TestDumpLocks(t *testing.T) {
	dir := t.TempDir()
	locksPath := filepath.Join(dir, "task-locks.json")

	m := NewManager("", locksPath)
	m.AcquireLock("task-1", "agent-a")
	m.DumpLocks()

	assert.FileExists(t, locksPath)
}
