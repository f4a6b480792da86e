package orchestrator

import (
	"fmt"
	"time"
)

// SessionContext is the mutable state of one turn. Only the engine mutates
// it, through Apply. It serializes verbatim for multi-turn resumption.
type SessionContext struct {
	SessionID            string                  `json:"session_id"`
	TurnID               string                  `json:"turn_id"`
	UserQuery            string                  `json:"user_query"`
	OriginalQuery        string                  `json:"original_query"`
	State                State                   `json:"state"`
	Plan                 *Plan                   `json:"plan,omitempty"`
	ExecutionResult      *ExecutionResult        `json:"execution_result,omitempty"`
	FormattedResponse    *FormattedResponse      `json:"formatted_response,omitempty"`
	ClarificationHistory []ClarificationExchange `json:"clarification_history,omitempty"`
	ClarificationRound   int                     `json:"clarification_round"`
	IterationCount       int                     `json:"iteration_count"`
	DecisionTrail        []TrailEntry            `json:"decision_trail"`
	Err                  *ErrorInfo              `json:"error,omitempty"`
	ErrorHistory         []ErrorInfo             `json:"error_history,omitempty"`
	Limits               Limits                  `json:"limits"`
	StartedAt            time.Time               `json:"started_at"`
}

// NewSessionContext starts a fresh conversation for query.
func NewSessionContext(sessionID, turnID, query string, limits Limits) *SessionContext {
	return &SessionContext{
		SessionID:     sessionID,
		TurnID:        turnID,
		UserQuery:     query,
		OriginalQuery: query,
		State:         StateNewQuery,
		DecisionTrail: []TrailEntry{},
		Limits:        limits,
		StartedAt:     time.Now(),
	}
}

// ResumeSessionContext starts the turn that answers the pending clarification
// of prev. Clarification history, counters and the decision trail carry over;
// the plan and results do not.
func ResumeSessionContext(prev *SessionContext, turnID, answer string) (*SessionContext, error) {
	if prev == nil {
		return nil, fmt.Errorf("resume: previous context is nil")
	}
	if prev.State != StateAwaitingClarification {
		return nil, fmt.Errorf("resume: session %s is in state %s, not %s",
			prev.SessionID, prev.State, StateAwaitingClarification)
	}
	snap := prev.Snapshot()
	next := &SessionContext{
		SessionID:            prev.SessionID,
		TurnID:               turnID,
		UserQuery:            answer,
		OriginalQuery:        prev.OriginalQuery,
		State:                StateNewQuery,
		ClarificationHistory: snap.ClarificationHistory,
		ClarificationRound:   prev.ClarificationRound,
		IterationCount:       prev.IterationCount,
		DecisionTrail:        snap.DecisionTrail,
		Limits:               prev.Limits,
		StartedAt:            time.Now(),
	}
	if _, err := next.Apply(AnswerClarification{Answer: answer}); err != nil {
		return nil, err
	}
	return next, nil
}

// Snapshot is a deep, read-only copy of a session context plus the actions
// currently allowed. Mutating it has no effect on the session.
type Snapshot struct {
	SessionID            string
	TurnID               string
	UserQuery            string
	OriginalQuery        string
	State                State
	Plan                 *Plan
	ExecutionResult      *ExecutionResult
	FormattedResponse    *FormattedResponse
	ClarificationHistory []ClarificationExchange
	ClarificationRound   int
	IterationCount       int
	DecisionTrail        []TrailEntry
	Err                  *ErrorInfo
	ErrorHistory         []ErrorInfo
	Limits               Limits
	AllowedActions       []Action
}

// Snapshot returns a deep copy of the context.
func (c *SessionContext) Snapshot() Snapshot {
	s := Snapshot{
		SessionID:            c.SessionID,
		TurnID:               c.TurnID,
		UserQuery:            c.UserQuery,
		OriginalQuery:        c.OriginalQuery,
		State:                c.State,
		Plan:                 c.Plan.clone(),
		ExecutionResult:      c.ExecutionResult.clone(),
		ClarificationHistory: append([]ClarificationExchange(nil), c.ClarificationHistory...),
		ClarificationRound:   c.ClarificationRound,
		IterationCount:       c.IterationCount,
		ErrorHistory:         append([]ErrorInfo(nil), c.ErrorHistory...),
		Limits:               c.Limits,
		AllowedActions:       AllowedActions(c),
	}
	if c.FormattedResponse != nil {
		fr := *c.FormattedResponse
		s.FormattedResponse = &fr
	}
	if c.Err != nil {
		e := *c.Err
		s.Err = &e
	}
	s.DecisionTrail = make([]TrailEntry, len(c.DecisionTrail))
	for i, entry := range c.DecisionTrail {
		s.DecisionTrail[i] = entry.clone()
	}
	return s
}

// PendingQuestion returns the last unanswered clarification question.
func (c *SessionContext) PendingQuestion() (ClarificationExchange, bool) {
	if n := len(c.ClarificationHistory); n > 0 && c.ClarificationHistory[n-1].Answer == "" {
		return c.ClarificationHistory[n-1], true
	}
	return ClarificationExchange{}, false
}

func (e TrailEntry) clone() TrailEntry {
	if e.Parameters != nil {
		params := make(map[string]any, len(e.Parameters))
		for k, v := range e.Parameters {
			params[k] = v
		}
		e.Parameters = params
	}
	if e.Error != nil {
		info := *e.Error
		e.Error = &info
	}
	return e
}
