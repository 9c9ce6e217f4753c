package policy

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/collabhub/collabhub/internal/hub/wire"
)

// DefaultPerspectives is the closed perspective set used when no
// custom engine is plugged in.
var DefaultPerspectives = []string{"optimist", "skeptic", "pragmatist", "innovator", "analyst"}

// echoWindow is how many consecutive same-perspective messages trip
// the guard.
const echoWindow = 3

// EchoGuard is the built-in anti-echo engine: it vetoes a checkable
// message when the same perspective has produced the last few
// checkable messages in a row, and balances perspective assignment
// toward the least-represented slot.
type EchoGuard struct {
	mu            sync.Mutex
	recent        []string // perspectives of recent checkable messages
	interventions int
	agreements    int
	evidenced     int
	total         int
}

// NewEchoGuard creates an enabled anti-echo engine.
func NewEchoGuard() *EchoGuard {
	return &EchoGuard{}
}

func (e *EchoGuard) Enabled() bool { return true }

func (e *EchoGuard) Evaluate(msg Message) *Intervention {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.total++
	if msg.Evidence != "" {
		e.evidenced++
	}
	if msg.Vote() == "agree" {
		e.agreements++
	}

	if msg.Perspective != "" {
		streak := 0
		for i := len(e.recent) - 1; i >= 0; i-- {
			if e.recent[i] != msg.Perspective {
				break
			}
			streak++
		}
		if streak >= echoWindow-1 {
			e.interventions++
			return &Intervention{
				Reason:         fmt.Sprintf("the %s perspective has dominated the recent discussion", msg.Perspective),
				RequiredAction: "contribute from a different perspective or cite new evidence",
				Suggestions:    others(msg.Perspective),
			}
		}
	}

	e.recent = append(e.recent, msg.Perspective)
	if len(e.recent) > 32 {
		e.recent = e.recent[1:]
	}
	return nil
}

// Vote extracts an agree/disagree signal from a vote message.
func (m Message) Vote() string {
	if m.Type != "vote" {
		return ""
	}
	return m.Text
}

func (e *EchoGuard) AssignPerspective(active []string) string {
	counts := make(map[string]int, len(DefaultPerspectives))
	for _, p := range active {
		counts[p]++
	}
	best := DefaultPerspectives[0]
	for _, p := range DefaultPerspectives {
		if counts[p] < counts[best] {
			best = p
		}
	}
	return best
}

func (e *EchoGuard) CanClaim(perspective string, task wire.Task) (bool, string) {
	if len(task.RequiredPerspectives) == 0 {
		return true, ""
	}
	for _, p := range task.RequiredPerspectives {
		if p == perspective {
			return true, ""
		}
	}
	return false, fmt.Sprintf("task requires one of %v, claimant holds %q", task.RequiredPerspectives, perspective)
}

func (e *EchoGuard) EnrichTask(task wire.Task) wire.Task {
	if len(task.RequiredPerspectives) == 0 {
		// Any critical stance qualifies by default.
		task.RequiredPerspectives = []string{"skeptic", "analyst", "pragmatist"}
	}
	task.RequiresEvidence = true
	return task
}

func (e *EchoGuard) VoteWeight(perspective, evidence string) float64 {
	w := 1.0
	if evidence != "" {
		w += 0.5
	}
	if perspective == "skeptic" || perspective == "analyst" {
		w += 0.25
	}
	return w
}

func (e *EchoGuard) ResolveConflict(file string, edit json.RawMessage, version int) Resolution {
	// Last writer wins; downstream consumers see who resolved it and
	// how confident the policy is.
	return Resolution{Edit: edit, ResolvedBy: "last-writer-wins", Confidence: 0.5}
}

func (e *EchoGuard) Snapshot(active []string) Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	dist := make(map[string]int)
	for _, p := range active {
		dist[p]++
	}

	diversity := 0.0
	if len(active) > 0 {
		diversity = float64(len(dist)) / float64(len(DefaultPerspectives))
		if diversity > 1 {
			diversity = 1
		}
	}

	m := Metrics{
		OverallDiversity:        diversity,
		PerspectiveDistribution: dist,
		RecentInterventions:     e.interventions,
	}
	if e.total > 0 {
		m.AgreementRate = float64(e.agreements) / float64(e.total)
		m.EvidenceRate = float64(e.evidenced) / float64(e.total)
	}
	return m
}

func others(perspective string) []string {
	var out []string
	for _, p := range DefaultPerspectives {
		if p != perspective {
			out = append(out, p)
		}
	}
	return out
}

// NoopEngine is the disabled engine: nothing is checked, nothing is
// assigned, every claim passes.
type NoopEngine struct{}

func (NoopEngine) Enabled() bool                     { return false }
func (NoopEngine) Evaluate(Message) *Intervention    { return nil }
func (NoopEngine) AssignPerspective([]string) string { return "" }
func (NoopEngine) CanClaim(string, wire.Task) (bool, string) {
	return true, ""
}
func (NoopEngine) EnrichTask(task wire.Task) wire.Task { return task }
func (NoopEngine) VoteWeight(string, string) float64   { return 1 }
func (NoopEngine) ResolveConflict(_ string, edit json.RawMessage, _ int) Resolution {
	return Resolution{Edit: edit, ResolvedBy: "last-writer-wins", Confidence: 0.5}
}
func (NoopEngine) Snapshot([]string) Metrics { return Metrics{} }
