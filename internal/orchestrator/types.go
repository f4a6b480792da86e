package orchestrator

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// State is the position of a turn in the orchestration state machine.
type State string

const (
	// StateNewQuery is the initial state of every turn.
	StateNewQuery State = "NEW_QUERY"

	// StatePlanningComplete means a plan is stored, or the planner failed and
	// its error is attached.
	StatePlanningComplete State = "PLANNING_COMPLETE"

	// StateExecutionComplete means rows and metadata are stored.
	StateExecutionComplete State = "EXECUTION_COMPLETE"

	// StateResponseComplete means a formatted response is stored.
	StateResponseComplete State = "RESPONSE_COMPLETE"

	// StateDone is terminal success.
	StateDone State = "DONE"

	// StateAwaitingClarification ends the turn with a question for the user.
	// The next turn resumes the conversation.
	StateAwaitingClarification State = "AWAITING_CLARIFICATION"

	// StateFailed is terminal failure and carries a typed error.
	StateFailed State = "FAILED"
)

// AllStates returns every state in forward order followed by the side states.
func AllStates() []State {
	return []State{
		StateNewQuery,
		StatePlanningComplete,
		StateExecutionComplete,
		StateResponseComplete,
		StateDone,
		StateAwaitingClarification,
		StateFailed,
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, st := range AllStates() {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further dispatch may occur in the current turn.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateAwaitingClarification
}

// Action is the closed set of effects the decision policy may choose from.
type Action string

const (
	ActionRequestPlan          Action = "REQUEST_PLAN"
	ActionRequestClarification Action = "REQUEST_CLARIFICATION"
	ActionRequestExecution     Action = "REQUEST_EXECUTION"
	ActionRequestFormatting    Action = "REQUEST_FORMATTING"
	ActionRetryPlan            Action = "RETRY_PLAN"
	ActionAbort                Action = "ABORT"
	ActionFinish               Action = "FINISH"
)

// AllActions returns every action in catalog order.
func AllActions() []Action {
	return []Action{
		ActionRequestPlan,
		ActionRequestClarification,
		ActionRequestExecution,
		ActionRequestFormatting,
		ActionRetryPlan,
		ActionAbort,
		ActionFinish,
	}
}

// actionAliases maps tags emitted by older prompts and camel-cased variants
// onto the closed action set. Keys are upper-cased with separators removed.
var actionAliases = map[string]Action{
	"REQUESTPLAN":          ActionRequestPlan,
	"CALLPLANNER":          ActionRequestPlan,
	"REQUESTCLARIFICATION": ActionRequestClarification,
	"ASKCLARIFICATION":     ActionRequestClarification,
	"REQUESTEXECUTION":     ActionRequestExecution,
	"CALLEXECUTOR":         ActionRequestExecution,
	"REQUESTFORMATTING":    ActionRequestFormatting,
	"CALLRESPONSEAGENT":    ActionRequestFormatting,
	"RETRYPLAN":            ActionRetryPlan,
	"RETRYPLANNING":        ActionRetryPlan,
	"ABORT":                ActionAbort,
	"GIVEUP":               ActionAbort,
	"FINISH":               ActionFinish,
	"COMPLETE":             ActionFinish,
}

// ParseAction resolves a policy-supplied tag to an Action.
// Unknown tags return false; they are never turned into a new action.
func ParseAction(tag string) (Action, bool) {
	key := strings.ToUpper(strings.TrimSpace(tag))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	a, ok := actionAliases[key]
	return a, ok
}

// ParseState resolves a state name, case-insensitively.
func ParseState(name string) (State, bool) {
	s := State(strings.ToUpper(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", false
	}
	return s, true
}

// Decision is one answer from the decision policy. It is immutable once recorded.
type Decision struct {
	Action            Action         `json:"action"`
	Rationale         string         `json:"rationale"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	ProposedNextState State          `json:"proposed_next_state,omitempty"`
}

// Param returns a string parameter, or "" when absent or not a string.
func (d Decision) Param(key string) string {
	v, ok := d.Parameters[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func (d Decision) clone() Decision {
	d.Parameters = maps.Clone(d.Parameters)
	return d
}

// Limits are the two hard ceilings of a conversation.
type Limits struct {
	MaxIterations          int `json:"max_iterations"`
	MaxClarificationRounds int `json:"max_clarification_rounds"`
}

// DefaultLimits returns 10 iterations and 3 clarification rounds.
func DefaultLimits() Limits {
	return Limits{MaxIterations: 10, MaxClarificationRounds: 3}
}

// Validate rejects non-positive ceilings.
func (l Limits) Validate() error {
	if l.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive, got %d", l.MaxIterations)
	}
	if l.MaxClarificationRounds < 0 {
		return fmt.Errorf("max clarification rounds must not be negative, got %d", l.MaxClarificationRounds)
	}
	return nil
}

// TrailEntry records one loop pass.
type TrailEntry struct {
	Iteration         int            `json:"iteration"`
	TurnID            string         `json:"turn_id,omitempty"`
	Proposed          Action         `json:"proposed,omitempty"`
	Action            Action         `json:"action"`
	Rationale         string         `json:"rationale,omitempty"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	ProposedNextState State          `json:"proposed_next_state,omitempty"`
	ResultingState    State          `json:"resulting_state"`
	Forced            bool           `json:"forced,omitempty"`
	Cancelled         bool           `json:"cancelled,omitempty"`
	Error             *ErrorInfo     `json:"error,omitempty"`
	Duration          time.Duration  `json:"duration_ns"`
	RecordedAt        time.Time      `json:"recorded_at"`
}

// ClarificationExchange is one question asked of the user and, once the
// follow-up turn arrives, their answer.
type ClarificationExchange struct {
	Round    int       `json:"round"`
	Query    string    `json:"query"`
	Question string    `json:"question"`
	Answer   string    `json:"answer,omitempty"`
	AskedAt  time.Time `json:"asked_at"`
}

// Outcome classifies a TurnResult.
type Outcome string

const (
	OutcomeAnswered           Outcome = "answered"
	OutcomeNeedsClarification Outcome = "needs_clarification"
	OutcomeFailed             Outcome = "failed"
)

// TurnResult is what a caller receives for one submitted turn.
// Exactly one of Answered, Clarification and Failed is set.
type TurnResult struct {
	Outcome       Outcome        `json:"outcome"`
	Answered      *Answer        `json:"answered,omitempty"`
	Clarification *Clarification `json:"clarification,omitempty"`
	Failed        *Failure       `json:"failed,omitempty"`

	// Context is the final session context, kept for persistence and diagnostics.
	Context *SessionContext `json:"-"`
}

// WithoutTrail returns a copy of r with the decision trail dropped from
// whichever envelope is set. Callers that face end users use it.
func (r *TurnResult) WithoutTrail() *TurnResult {
	out := *r
	if r.Answered != nil {
		a := *r.Answered
		a.DecisionTrail = nil
		out.Answered = &a
	}
	if r.Failed != nil {
		f := *r.Failed
		f.DecisionTrail = nil
		out.Failed = &f
	}
	return &out
}

// Answer is the success envelope.
type Answer struct {
	SQLOrPlanSummary string            `json:"sql_or_plan_summary"`
	RowsSummary      string            `json:"rows_summary"`
	Explanation      string            `json:"explanation"`
	Summary          string            `json:"summary,omitempty"`
	Methodology      string            `json:"methodology,omitempty"`
	Metadata         ExecutionMetadata `json:"metadata"`
	DecisionTrail    []TrailEntry      `json:"decision_trail"`
}

// Clarification carries only the question text and round; internal state is
// never exposed to the user.
type Clarification struct {
	Question string `json:"question"`
	Round    int    `json:"round"`
}

// Failure is the error envelope.
type Failure struct {
	ErrorKind     ErrorKind    `json:"error_kind"`
	Message       string       `json:"message"`
	DecisionTrail []TrailEntry `json:"decision_trail"`
}
