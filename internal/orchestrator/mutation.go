package orchestrator

import (
	"fmt"
	"slices"
)

// Mutation is one of the closed set of context changes. Each validates
// against the current state before changing anything.
type Mutation interface {
	mutationName() string
	apply(c *SessionContext) error
}

type (
	// SetPlan stores a plan. Any stale plan must be cleared first.
	SetPlan struct{ Plan Plan }

	// SetExecutionResult stores rows and metadata for the current plan.
	SetExecutionResult struct{ Result ExecutionResult }

	// SetFormattedResponse stores the final response for the stored result.
	SetFormattedResponse struct{ Response FormattedResponse }

	// AppendClarification appends an unanswered question.
	AppendClarification struct{ Exchange ClarificationExchange }

	// IncrementIteration closes the loop pass recorded by the last trail entry.
	IncrementIteration struct{}

	// IncrementClarificationRound counts one more question asked.
	IncrementClarificationRound struct{}

	// SetState moves along a permitted edge. FAILED is reached through Fail.
	SetState struct{ State State }

	// AttachError records a collaborator failure for the next decision.
	AttachError struct{ Err ErrorInfo }

	// ClearError drops the attached error after a successful step.
	ClearError struct{}

	// ClearPlan drops a stale plan before re-planning.
	ClearPlan struct{}

	// AppendDecision appends a trail entry for the current loop pass.
	AppendDecision struct{ Entry TrailEntry }

	// AnswerClarification fills the answer into the pending question.
	AnswerClarification struct{ Answer string }

	// Fail ends the turn with exactly one error and no result payloads.
	Fail struct{ Err ErrorInfo }
)

// forward lists the states reachable from each non-terminal state, FAILED
// aside. PLANNING_COMPLETE -> PLANNING_COMPLETE is the retry edge.
var forward = map[State][]State{
	StateNewQuery:          {StatePlanningComplete, StateAwaitingClarification},
	StatePlanningComplete:  {StatePlanningComplete, StateExecutionComplete, StateAwaitingClarification},
	StateExecutionComplete: {StateResponseComplete},
	StateResponseComplete:  {StateDone},
}

// Apply validates and applies m atomically. On error the context is unchanged
// and the error is a *ConsistencyError.
func (c *SessionContext) Apply(m Mutation) (State, error) {
	if c.State.Terminal() {
		// The pass that reached a terminal state still closes its trail entry.
		switch mm := m.(type) {
		case AppendDecision:
			if mm.Entry.ResultingState != c.State {
				return c.State, c.violation(m, "entry resulting state %s after terminal state", mm.Entry.ResultingState)
			}
		case IncrementIteration:
		default:
			return c.State, c.violation(m, "context is terminal for this turn")
		}
	}
	if err := m.apply(c); err != nil {
		return c.State, err
	}
	return c.State, nil
}

func (c *SessionContext) violation(m Mutation, format string, args ...any) *ConsistencyError {
	return &ConsistencyError{Mutation: m.mutationName(), State: c.State, Reason: fmt.Sprintf(format, args...)}
}

func (SetPlan) mutationName() string { return "SetPlan" }
func (m SetPlan) apply(c *SessionContext) error {
	if c.State != StateNewQuery && c.State != StatePlanningComplete {
		return c.violation(m, "plans are only stored before execution")
	}
	if c.Plan != nil {
		return c.violation(m, "a plan is already stored")
	}
	c.Plan = m.Plan.clone()
	return nil
}

func (SetExecutionResult) mutationName() string { return "SetExecutionResult" }
func (m SetExecutionResult) apply(c *SessionContext) error {
	if c.State != StatePlanningComplete {
		return c.violation(m, "execution results require state %s", StatePlanningComplete)
	}
	if c.Plan == nil {
		return c.violation(m, "no plan is stored")
	}
	c.ExecutionResult = m.Result.clone()
	return nil
}

func (SetFormattedResponse) mutationName() string { return "SetFormattedResponse" }
func (m SetFormattedResponse) apply(c *SessionContext) error {
	if c.ExecutionResult == nil {
		return c.violation(m, "no execution result is stored")
	}
	if c.State != StateExecutionComplete {
		return c.violation(m, "responses require state %s", StateExecutionComplete)
	}
	if m.Response.Explanation == "" {
		return c.violation(m, "response explanation is empty")
	}
	r := m.Response
	c.FormattedResponse = &r
	return nil
}

func (AppendClarification) mutationName() string { return "AppendClarification" }
func (m AppendClarification) apply(c *SessionContext) error {
	if c.State != StateNewQuery && c.State != StatePlanningComplete {
		return c.violation(m, "questions are only asked before execution")
	}
	if m.Exchange.Question == "" {
		return c.violation(m, "question is empty")
	}
	if _, pending := c.PendingQuestion(); pending {
		return c.violation(m, "a question is already pending")
	}
	c.ClarificationHistory = append(c.ClarificationHistory, m.Exchange)
	return nil
}

func (IncrementIteration) mutationName() string { return "IncrementIteration" }
func (m IncrementIteration) apply(c *SessionContext) error {
	if c.IterationCount >= c.Limits.MaxIterations {
		return c.violation(m, "iteration count %d is at the ceiling", c.IterationCount)
	}
	if len(c.DecisionTrail) != c.IterationCount+1 {
		return c.violation(m, "trail length %d does not match iteration %d", len(c.DecisionTrail), c.IterationCount+1)
	}
	c.IterationCount++
	return nil
}

func (IncrementClarificationRound) mutationName() string { return "IncrementClarificationRound" }
func (m IncrementClarificationRound) apply(c *SessionContext) error {
	if c.ClarificationRound >= c.Limits.MaxClarificationRounds {
		return c.violation(m, "clarification round %d is at the ceiling", c.ClarificationRound)
	}
	c.ClarificationRound++
	return nil
}

func (SetState) mutationName() string { return "SetState" }
func (m SetState) apply(c *SessionContext) error {
	if m.State == StateFailed {
		return c.violation(m, "use Fail to reach %s", StateFailed)
	}
	if !slices.Contains(forward[c.State], m.State) {
		return c.violation(m, "no edge from %s to %s", c.State, m.State)
	}
	switch m.State {
	case StatePlanningComplete:
		if c.Plan == nil && c.Err == nil {
			return c.violation(m, "neither a plan nor a planner error is stored")
		}
	case StateExecutionComplete:
		if c.ExecutionResult == nil {
			return c.violation(m, "no execution result is stored")
		}
	case StateResponseComplete:
		if c.FormattedResponse == nil {
			return c.violation(m, "no formatted response is stored")
		}
	case StateDone:
		if c.FormattedResponse == nil || c.ExecutionResult == nil {
			return c.violation(m, "success requires a result and a response")
		}
		if c.Err != nil {
			return c.violation(m, "an error is still attached")
		}
	case StateAwaitingClarification:
		if _, pending := c.PendingQuestion(); !pending {
			return c.violation(m, "no question is pending")
		}
	}
	c.State = m.State
	return nil
}

func (AttachError) mutationName() string { return "AttachError" }
func (m AttachError) apply(c *SessionContext) error {
	if m.Err.Kind == "" {
		return c.violation(m, "error kind is empty")
	}
	e := m.Err
	c.Err = &e
	c.ErrorHistory = append(c.ErrorHistory, e)
	return nil
}

func (ClearError) mutationName() string { return "ClearError" }
func (ClearError) apply(c *SessionContext) error {
	c.Err = nil
	return nil
}

func (ClearPlan) mutationName() string { return "ClearPlan" }
func (m ClearPlan) apply(c *SessionContext) error {
	if c.State != StatePlanningComplete {
		return c.violation(m, "plans are only cleared in state %s", StatePlanningComplete)
	}
	c.Plan = nil
	c.ExecutionResult = nil
	return nil
}

func (AppendDecision) mutationName() string { return "AppendDecision" }
func (m AppendDecision) apply(c *SessionContext) error {
	if len(c.DecisionTrail) != c.IterationCount {
		return c.violation(m, "trail length %d does not match iteration count %d", len(c.DecisionTrail), c.IterationCount)
	}
	if m.Entry.Iteration != c.IterationCount+1 {
		return c.violation(m, "entry iteration %d, expected %d", m.Entry.Iteration, c.IterationCount+1)
	}
	c.DecisionTrail = append(c.DecisionTrail, m.Entry.clone())
	return nil
}

func (AnswerClarification) mutationName() string { return "AnswerClarification" }
func (m AnswerClarification) apply(c *SessionContext) error {
	if c.State != StateNewQuery {
		return c.violation(m, "answers are recorded when a turn starts")
	}
	n := len(c.ClarificationHistory)
	if n == 0 || c.ClarificationHistory[n-1].Answer != "" {
		return c.violation(m, "no question is pending")
	}
	c.ClarificationHistory[n-1].Answer = m.Answer
	return nil
}

func (Fail) mutationName() string { return "Fail" }
func (m Fail) apply(c *SessionContext) error {
	if m.Err.Kind == "" {
		return c.violation(m, "error kind is empty")
	}
	e := m.Err
	if c.Err == nil || *c.Err != e {
		c.ErrorHistory = append(c.ErrorHistory, e)
	}
	c.Err = &e
	c.ExecutionResult = nil
	c.FormattedResponse = nil
	c.State = StateFailed
	return nil
}
