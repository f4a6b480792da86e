package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Policy decides what happens next. Implementations may be non-deterministic
// and may fail; any error is treated as a decode failure.
type Policy interface {
	Decide(ctx context.Context, snap Snapshot, catalog Catalog) (Decision, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, snap Snapshot, catalog Catalog) (Decision, error)

// Decide calls f.
func (f PolicyFunc) Decide(ctx context.Context, snap Snapshot, catalog Catalog) (Decision, error) {
	return f(ctx, snap, catalog)
}

// ActionSpec describes one action to the policy.
type ActionSpec struct {
	Action      Action   `json:"action"`
	Description string   `json:"description"`
	Parameters  []string `json:"parameters,omitempty"`
}

// Catalog is the static capability catalog shown to the policy.
type Catalog struct {
	Actions []ActionSpec `json:"actions"`
}

// DefaultCatalog describes every action.
func DefaultCatalog() Catalog {
	return Catalog{Actions: []ActionSpec{
		{Action: ActionRequestPlan, Description: "Ask the planner to analyze the question against the schema and produce a query plan."},
		{Action: ActionRequestClarification, Description: "Ask the user a clarification question and end the turn.", Parameters: []string{"question", "ambiguity"}},
		{Action: ActionRequestExecution, Description: "Ask the executor to generate and run SQL for the stored plan."},
		{Action: ActionRequestFormatting, Description: "Ask the responder to explain the stored results to the user."},
		{Action: ActionRetryPlan, Description: "Discard the current plan and re-plan with the accumulated errors."},
		{Action: ActionAbort, Description: "Give up and report the attached error to the user."},
		{Action: ActionFinish, Description: "Deliver the formatted response. Only valid once a response exists."},
	}}
}

// Describe returns the description of a, or "" when it is not in the catalog.
func (c Catalog) Describe(a Action) string {
	for _, spec := range c.Actions {
		if spec.Action == a {
			return spec.Description
		}
	}
	return ""
}

// rawDecision accepts both the current field names and the legacy ones
// (reason, next_state).
type rawDecision struct {
	Action            string         `json:"action"`
	Rationale         string         `json:"rationale"`
	Reason            string         `json:"reason"`
	Parameters        map[string]any `json:"parameters"`
	ProposedNextState string         `json:"proposed_next_state"`
	NextState         string         `json:"next_state"`
}

// DecodeDecision parses policy output into a Decision. Unparseable output or
// an unknown action tag is a *PolicyDecodeError.
func DecodeDecision(data []byte) (Decision, error) {
	var raw rawDecision
	if err := json.Unmarshal(data, &raw); err != nil {
		return Decision{}, &PolicyDecodeError{Raw: string(data), Reason: "malformed JSON", Err: err}
	}
	if strings.TrimSpace(raw.Action) == "" {
		return Decision{}, &PolicyDecodeError{Raw: string(data), Reason: "missing action"}
	}
	action, ok := ParseAction(raw.Action)
	if !ok {
		return Decision{}, &PolicyDecodeError{Raw: string(data), Reason: "unknown action " + raw.Action}
	}

	d := Decision{
		Action:     action,
		Rationale:  raw.Rationale,
		Parameters: raw.Parameters,
	}
	if d.Rationale == "" {
		d.Rationale = raw.Reason
	}
	next := raw.ProposedNextState
	if next == "" {
		next = raw.NextState
	}
	if next != "" {
		// A bogus proposed state is advisory only; it never blocks the action.
		if st, ok := ParseState(next); ok {
			d.ProposedNextState = st
		}
	}
	return d, nil
}

// asPolicyDecodeError wraps any policy failure as a decode failure.
func asPolicyDecodeError(err error) *PolicyDecodeError {
	var decodeErr *PolicyDecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr
	}
	return &PolicyDecodeError{Reason: "policy call failed", Err: err}
}
