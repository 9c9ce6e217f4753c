package hub

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/collabhub/collabhub/internal/util/timefmt"
)

const boardHeader = "# Discussion Board\n"

// BoardEntry is one structured message appended to the discussion
// board file.
type BoardEntry struct {
	DisplayName string
	AgentID     string
	Role        string
	Perspective string
	Text        string
	Timestamp   time.Time
}

// Board serializes appends to the discussion-board markdown file. The
// file is append-only; nothing ever rewrites earlier entries.
type Board struct {
	mu   sync.Mutex
	path string
}

// NewBoard creates a Board writing to path.
func NewBoard(path string) *Board {
	return &Board{path: path}
}

// Append writes one entry, creating the file with its header on first
// use.
func (b *Board) Append(e BoardEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open discussion board: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat discussion board: %w", err)
	}

	var sb strings.Builder
	if info.Size() == 0 {
		sb.WriteString(boardHeader)
	}

	attribution := e.Role
	if e.Perspective != "" {
		attribution += ", " + e.Perspective
	}
	fmt.Fprintf(&sb, "\n### %s (%s) — %s\n\n%s\n", e.DisplayName, attribution, timefmt.Format(e.Timestamp), e.Text)
	fmt.Fprintf(&sb, "<!-- %s -->\n", e.AgentID)

	if _, err := f.WriteString(sb.String()); err != nil {
		return fmt.Errorf("append discussion board: %w", err)
	}
	return f.Sync()
}

// Path returns the board file location.
func (b *Board) Path() string { return b.path }
