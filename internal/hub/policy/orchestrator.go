package policy

import (
	"fmt"
	"sync"

	"github.com/collabhub/collabhub/internal/hub/wire"
)

// decisionQuorum is how many distinct voters decide a proposal under
// the default orchestrator.
const decisionQuorum = 3

type tally struct {
	weights      map[string]float64 // vote value -> accumulated weight
	voters       map[string]bool
	perspectives map[string]bool
	decided      bool
}

// Tally is the default orchestrator: weighted majority with a fixed
// quorum, and template-based spawn descriptors.
type Tally struct {
	mu        sync.Mutex
	tasks     map[string]wire.Task
	proposals map[string]*tally
	spawned   int
}

// NewTally creates an empty orchestrator.
func NewTally() *Tally {
	return &Tally{
		tasks:     make(map[string]wire.Task),
		proposals: make(map[string]*tally),
	}
}

func (o *Tally) RegisterTask(task wire.Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks[task.ID] = task
}

// Task returns a registered task.
func (o *Tally) Task(id string) (wire.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	return t, ok
}

func (o *Tally) RecordVote(proposalID, agentID, vote, evidence, perspective string, weight float64) *VoteOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.proposals[proposalID]
	if !ok {
		p = &tally{
			weights:      make(map[string]float64),
			voters:       make(map[string]bool),
			perspectives: make(map[string]bool),
		}
		o.proposals[proposalID] = p
	}
	if p.decided || p.voters[agentID] {
		return nil
	}

	p.voters[agentID] = true
	p.weights[vote] += weight
	if perspective != "" {
		p.perspectives[perspective] = true
	}

	if len(p.voters) < decisionQuorum {
		return nil
	}
	p.decided = true

	var decision string
	var best, total float64
	for v, w := range p.weights {
		total += w
		if w > best {
			best = w
			decision = v
		}
	}

	outcome := &VoteOutcome{
		ProposalID: proposalID,
		Decision:   decision,
		Confidence: best / total,
	}
	if len(DefaultPerspectives) > 0 {
		outcome.DiversityScore = float64(len(p.perspectives)) / float64(len(DefaultPerspectives))
	}
	for persp := range p.perspectives {
		outcome.Perspectives = append(outcome.Perspectives, persp)
	}
	return outcome
}

func (o *Tally) Spawn(mode, task string, count int) []AgentSpec {
	o.mu.Lock()
	defer o.mu.Unlock()

	if count <= 0 {
		count = 1
	}
	out := make([]AgentSpec, 0, count)
	for i := 0; i < count; i++ {
		o.spawned++
		out = append(out, AgentSpec{
			Name: fmt.Sprintf("%s-agent-%d", mode, o.spawned),
			Role: mode,
			Task: task,
		})
	}
	return out
}
