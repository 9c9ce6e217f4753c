package tasklock

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/collabhub/collabhub/internal/util/timefmt"
)

type claimsFile struct {
	Claims []Claim `json:"claims"`
}

// snapshotClaimsLocked writes the claim set to disk. Best-effort: a
// failure is logged and in-memory state stays authoritative. Caller
// holds mu.
func (m *Manager) snapshotClaimsLocked() {
	if m.claimsPath == "" {
		return
	}

	snap := claimsFile{Claims: make([]Claim, 0, len(m.claims))}
	for _, c := range m.claims {
		snap.Claims = append(snap.Claims, *c)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		slog.Error("marshal claim snapshot", "error", err)
		return
	}
	if err := atomicWrite(m.claimsPath, data); err != nil {
		slog.Error("write claim snapshot", "path", m.claimsPath, "error", err)
	}
}

func (m *Manager) loadClaims() {
	data, err := os.ReadFile(m.claimsPath)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Warn("read claim snapshot", "path", m.claimsPath, "error", err)
		return
	}

	var snap claimsFile
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("claim snapshot corrupt; starting empty", "path", m.claimsPath, "error", err)
		return
	}
	for i := range snap.Claims {
		c := snap.Claims[i]
		m.claims[c.TaskID] = &c
	}
}

// DumpLocks writes the live lock table for post-mortem inspection.
// Called once at shutdown; locks are never restored.
func (m *Manager) DumpLocks() {
	if m.locksPath == "" {
		return
	}

	m.mu.Lock()
	type lockDTO struct {
		TaskID        string `json:"taskId"`
		HolderAgentID string `json:"holderAgentId"`
		AcquiredAt    string `json:"acquiredAt"`
		ExpiresAt     string `json:"expiresAt"`
	}
	out := struct {
		Locks []lockDTO `json:"locks"`
	}{Locks: make([]lockDTO, 0, len(m.locks))}
	for _, lk := range m.locks {
		out.Locks = append(out.Locks, lockDTO{
			TaskID:        lk.TaskID,
			HolderAgentID: lk.HolderAgentID,
			AcquiredAt:    timefmt.Format(lk.AcquiredAt),
			ExpiresAt:     timefmt.Format(lk.ExpiresAt),
		})
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		slog.Error("marshal lock dump", "error", err)
		return
	}
	if err := atomicWrite(m.locksPath, data); err != nil {
		slog.Error("write lock dump", "path", m.locksPath, "error", err)
	}
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
