// Package policy provides decision policies for the orchestration engine.
package policy

import (
	"context"
	"errors"
	"sync"

	"github.com/jaig1/agenticbot/internal/orchestrator"
)

// ErrScriptExhausted is returned once every scripted step has been used.
var ErrScriptExhausted = errors.New("scripted policy exhausted")

// Step is one scripted answer: a decision, raw policy output to decode, or
// an error.
type Step struct {
	Decision *orchestrator.Decision
	Raw      string
	Err      error
}

// Act scripts a decision with no parameters.
func Act(action orchestrator.Action, rationale string) Step {
	return Step{Decision: &orchestrator.Decision{Action: action, Rationale: rationale}}
}

// Raw scripts raw policy output, decoded like model output.
func Raw(output string) Step {
	return Step{Raw: output}
}

// Fail scripts a policy failure.
func Fail(err error) Step {
	return Step{Err: err}
}

// Scripted replays a fixed sequence of steps. It is safe for concurrent use
// but steps are shared across callers.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	next  int
	seen  []orchestrator.Snapshot
}

// NewScripted returns a policy that answers with steps in order.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Decide implements orchestrator.Policy.
func (s *Scripted) Decide(_ context.Context, snap orchestrator.Snapshot, _ orchestrator.Catalog) (orchestrator.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen = append(s.seen, snap)
	if s.next >= len(s.steps) {
		return orchestrator.Decision{}, ErrScriptExhausted
	}
	step := s.steps[s.next]
	s.next++

	switch {
	case step.Err != nil:
		return orchestrator.Decision{}, step.Err
	case step.Decision != nil:
		return *step.Decision, nil
	default:
		return orchestrator.DecodeDecision([]byte(step.Raw))
	}
}

// Seen returns the snapshots the policy was shown.
func (s *Scripted) Seen() []orchestrator.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orchestrator.Snapshot(nil), s.seen...)
}

// Remaining returns how many steps are left.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps) - s.next
}
