package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/zstd"

	"github.com/collabhub/collabhub/internal/util/timefmt"
)

// snapshotVersion is the on-disk format version of identities.json.
const snapshotVersion = 1

// Package-level encoder/decoder for the rotated snapshot backup,
// safe for concurrent use.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("identity: init zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("identity: init zstd decoder: %v", err))
	}
}

type snapshotFile struct {
	Version    int           `json:"version"`
	Identities []identityDTO `json:"identities"`
}

// identityDTO is the serialized identity shape. Timestamps are
// ISO-8601 strings.
type identityDTO struct {
	AgentID            string                 `json:"agentId"`
	DisplayName        string                 `json:"displayName"`
	AuthToken          string                 `json:"authToken"`
	FirstSeen          string                 `json:"firstSeen"`
	LastSeen           string                 `json:"lastSeen"`
	CurrentRole        string                 `json:"currentRole"`
	RoleHistory        []roleChangeDTO        `json:"roleHistory"`
	CurrentPerspective string                 `json:"currentPerspective,omitempty"`
	PerspectiveHistory []perspectiveChangeDTO `json:"perspectiveHistory,omitempty"`
	Stats              Stats                  `json:"stats"`
	CurrentSessionID   string                 `json:"currentSessionId,omitempty"`
	LastActivityTime   string                 `json:"lastActivityTime,omitempty"`
}

type roleChangeDTO struct {
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"sessionId,omitempty"`
}

type perspectiveChangeDTO struct {
	Perspective string `json:"perspective"`
	Timestamp   string `json:"timestamp"`
	Reason      string `json:"reason,omitempty"`
}

func toDTO(i *Identity) identityDTO {
	dto := identityDTO{
		AgentID:            i.AgentID,
		DisplayName:        i.DisplayName,
		AuthToken:          i.AuthToken,
		FirstSeen:          timefmt.Format(i.FirstSeen),
		LastSeen:           timefmt.Format(i.LastSeen),
		CurrentRole:        i.CurrentRole,
		CurrentPerspective: i.CurrentPerspective,
		Stats:              i.Stats,
		CurrentSessionID:   i.CurrentSessionID,
	}
	if !i.LastActivity.IsZero() {
		dto.LastActivityTime = timefmt.Format(i.LastActivity)
	}
	for _, rc := range i.RoleHistory {
		dto.RoleHistory = append(dto.RoleHistory, roleChangeDTO{
			Role:      rc.Role,
			Timestamp: timefmt.Format(rc.Timestamp),
			SessionID: rc.SessionID,
		})
	}
	for _, pc := range i.PerspectiveHistory {
		dto.PerspectiveHistory = append(dto.PerspectiveHistory, perspectiveChangeDTO{
			Perspective: pc.Perspective,
			Timestamp:   timefmt.Format(pc.Timestamp),
			Reason:      pc.Reason,
		})
	}
	return dto
}

func fromDTO(dto identityDTO) (*Identity, error) {
	firstSeen, err := timefmt.Parse(dto.FirstSeen)
	if err != nil {
		return nil, fmt.Errorf("identity %s: firstSeen: %w", dto.AgentID, err)
	}
	lastSeen, err := timefmt.Parse(dto.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("identity %s: lastSeen: %w", dto.AgentID, err)
	}

	ident := &Identity{
		AgentID:            dto.AgentID,
		DisplayName:        dto.DisplayName,
		AuthToken:          dto.AuthToken,
		FirstSeen:          firstSeen,
		LastSeen:           lastSeen,
		CurrentRole:        dto.CurrentRole,
		CurrentPerspective: dto.CurrentPerspective,
		Stats:              dto.Stats,
		CurrentSessionID:   dto.CurrentSessionID,
	}
	if dto.LastActivityTime != "" {
		if ident.LastActivity, err = timefmt.Parse(dto.LastActivityTime); err != nil {
			return nil, fmt.Errorf("identity %s: lastActivityTime: %w", dto.AgentID, err)
		}
	}
	for _, rc := range dto.RoleHistory {
		ts, err := timefmt.Parse(rc.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("identity %s: role history: %w", dto.AgentID, err)
		}
		ident.RoleHistory = append(ident.RoleHistory, RoleChange{Role: rc.Role, Timestamp: ts, SessionID: rc.SessionID})
	}
	for _, pc := range dto.PerspectiveHistory {
		ts, err := timefmt.Parse(pc.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("identity %s: perspective history: %w", dto.AgentID, err)
		}
		ident.PerspectiveHistory = append(ident.PerspectiveHistory, PerspectiveChange{Perspective: pc.Perspective, Timestamp: ts, Reason: pc.Reason})
	}
	return ident, nil
}

// snapshotLocked writes the full registry to disk. Caller holds mu.
// A write failure is logged; in-memory state stays authoritative.
func (s *Store) snapshotLocked() {
	if s.path == "" {
		return
	}

	snap := snapshotFile{Version: snapshotVersion}
	for _, ident := range s.byID {
		snap.Identities = append(snap.Identities, toDTO(ident))
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		slog.Error("marshal identity snapshot", "error", err)
		return
	}

	s.rotateBackupLocked()

	if err := writeWithRetry(s.path, data); err != nil {
		slog.Error("write identity snapshot", "path", s.path, "error", err)
	}
}

// rotateBackupLocked compresses the previous snapshot into a .bak.zst
// sibling before the primary is overwritten.
func (s *Store) rotateBackupLocked() {
	prev, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	compressed := encoder.EncodeAll(prev, make([]byte, 0, len(prev)/2))
	if err := os.WriteFile(s.path+".bak.zst", compressed, 0o600); err != nil {
		slog.Warn("write snapshot backup", "error", err)
	}
}

// writeWithRetry writes atomically (temp file + rename), retrying
// briefly on failure before giving up.
func writeWithRetry(path string, data []byte) error {
	op := func() (struct{}, error) {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, os.Rename(tmp, path)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	_, err := backoff.Retry(context.Background(), op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(3),
	)
	return err
}

// load reads the snapshot, falling back to the compressed backup when
// the primary is corrupt. Missing or unreadable data leaves the store
// empty.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Warn("read identity snapshot", "path", s.path, "error", err)
		return
	}

	if s.parseSnapshot(data) == nil {
		return
	}
	slog.Warn("identity snapshot corrupt, trying backup", "path", s.path)

	backup, err := os.ReadFile(s.path + ".bak.zst")
	if err != nil {
		slog.Warn("no usable snapshot backup; starting empty", "error", err)
		return
	}
	raw, err := decoder.DecodeAll(backup, nil)
	if err != nil {
		slog.Warn("decompress snapshot backup failed; starting empty", "error", err)
		return
	}
	if err := s.parseSnapshot(raw); err != nil {
		slog.Warn("snapshot backup corrupt; starting empty", "error", err)
	}
}

func (s *Store) parseSnapshot(data []byte) error {
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	byID := make(map[string]*Identity, len(snap.Identities))
	byName := make(map[string]*Identity, len(snap.Identities))
	byToken := make(map[string]*Identity, len(snap.Identities))
	for _, dto := range snap.Identities {
		ident, err := fromDTO(dto)
		if err != nil {
			return err
		}
		// Session linkage never survives a restart.
		ident.CurrentSessionID = ""
		ident.LastActivity = time.Time{}

		byID[ident.AgentID] = ident
		byToken[ident.AuthToken] = ident
		if _, taken := byName[ident.DisplayName]; !taken {
			byName[ident.DisplayName] = ident
		}
	}

	s.byID = byID
	s.byName = byName
	s.byToken = byToken
	return nil
}
