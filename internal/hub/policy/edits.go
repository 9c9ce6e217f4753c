package policy

import (
	"encoding/json"
	"sync"
)

// VersionedEdits is the default edit coordinator: per-file monotonic
// versions with optimistic concurrency. An edit based on a stale
// version is a conflict.
type VersionedEdits struct {
	mu       sync.Mutex
	versions map[string]int
}

// NewVersionedEdits creates an empty coordinator.
func NewVersionedEdits() *VersionedEdits {
	return &VersionedEdits{versions: make(map[string]int)}
}

func (v *VersionedEdits) Apply(file string, edit json.RawMessage, version int, agentID string) ApplyResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	current := v.versions[file]
	if version < current {
		return ApplyResult{Conflict: true, Version: current}
	}
	v.versions[file] = version + 1
	return ApplyResult{Version: version + 1}
}
