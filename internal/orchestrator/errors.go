package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the machine-readable error class reported to callers.
type ErrorKind string

const (
	KindPolicyDecode      ErrorKind = "policy_decode"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindCollaborator      ErrorKind = "collaborator"
	KindCeilingExceeded   ErrorKind = "ceiling_exceeded"
	KindConsistency       ErrorKind = "consistency"
	KindCancelled         ErrorKind = "cancelled"
	KindPolicyAborted     ErrorKind = "policy_aborted"
)

// Ceiling names a hard bound.
type Ceiling string

const (
	CeilingIterations          Ceiling = "iterations"
	CeilingClarificationRounds Ceiling = "clarification_rounds"
)

// Collaborator names.
const (
	CollaboratorPlanner   = "planner"
	CollaboratorExecutor  = "executor"
	CollaboratorClarifier = "clarifier"
	CollaboratorResponder = "responder"
	CollaboratorPolicy    = "policy"
)

// Collaborator reason codes shared by the reference collaborators.
const (
	CodeTimeout   = "timeout"
	CodeCancelled = "cancelled"
	CodeUnknown   = "unknown"
)

// PolicyDecodeError means the decision policy produced no usable decision.
type PolicyDecodeError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *PolicyDecodeError) Error() string {
	msg := "policy decision could not be decoded: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PolicyDecodeError) Unwrap() error   { return e.Err }
func (e *PolicyDecodeError) Kind() ErrorKind { return KindPolicyDecode }

// InvalidTransitionError means the proposed action is not allowed from the
// current state.
type InvalidTransitionError struct {
	From    State
	Action  Action
	Allowed []Action
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, a := range e.Allowed {
		allowed[i] = string(a)
	}
	return fmt.Sprintf("action %s is not allowed from state %s (allowed: %s)",
		e.Action, e.From, strings.Join(allowed, ", "))
}

func (e *InvalidTransitionError) Kind() ErrorKind { return KindInvalidTransition }

// CollaboratorError is a structured failure from a named collaborator.
// Code comes from that collaborator's own taxonomy.
type CollaboratorError struct {
	Collaborator string
	Code         string
	Message      string
	Recoverable  bool
	Partial      bool
	Err          error
}

func (e *CollaboratorError) Error() string {
	msg := fmt.Sprintf("%s failed (%s)", e.Collaborator, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CollaboratorError) Unwrap() error   { return e.Err }
func (e *CollaboratorError) Kind() ErrorKind { return KindCollaborator }

// NewCollaboratorError builds a CollaboratorError.
func NewCollaboratorError(collaborator, code, message string, err error) *CollaboratorError {
	return &CollaboratorError{Collaborator: collaborator, Code: code, Message: message, Err: err}
}

// CeilingExceededError is always terminal.
type CeilingExceededError struct {
	Ceiling Ceiling
	Limit   int
}

func (e *CeilingExceededError) Error() string {
	switch e.Ceiling {
	case CeilingIterations:
		return fmt.Sprintf("bounded-iteration exceeded: limit of %d iterations reached", e.Limit)
	case CeilingClarificationRounds:
		return fmt.Sprintf("clarification exhausted: limit of %d rounds reached", e.Limit)
	default:
		return fmt.Sprintf("ceiling %s exceeded (limit %d)", e.Ceiling, e.Limit)
	}
}

func (e *CeilingExceededError) Kind() ErrorKind { return KindCeilingExceeded }

// ConsistencyError means a context store invariant was violated. It points at
// a dispatcher bug and is fatal to the invocation.
type ConsistencyError struct {
	Mutation string
	State    State
	Reason   string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation: %s in state %s: %s", e.Mutation, e.State, e.Reason)
}

func (e *ConsistencyError) Kind() ErrorKind { return KindConsistency }

// CancelledError means the turn was cancelled between iterations.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause == nil {
		return "turn cancelled"
	}
	return "turn cancelled: " + e.Cause.Error()
}

func (e *CancelledError) Unwrap() error   { return e.Cause }
func (e *CancelledError) Kind() ErrorKind { return KindCancelled }

// AbortedError is attached when the policy aborts with no error pending.
type AbortedError struct {
	Rationale string
}

func (e *AbortedError) Error() string {
	if e.Rationale == "" {
		return "policy aborted"
	}
	return "policy aborted: " + e.Rationale
}

func (e *AbortedError) Kind() ErrorKind { return KindPolicyAborted }

// KindOf returns the error kind carried by err, or "" if it has none.
func KindOf(err error) ErrorKind {
	var k interface{ Kind() ErrorKind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}

// ErrorInfo is the serializable record of an error, stored in the session
// context and in trail entries.
type ErrorInfo struct {
	Kind         ErrorKind `json:"kind"`
	Message      string    `json:"message"`
	Collaborator string    `json:"collaborator,omitempty"`
	Code         string    `json:"code,omitempty"`
	Recoverable  bool      `json:"recoverable,omitempty"`
	Partial      bool      `json:"partial,omitempty"`
	Ceiling      Ceiling   `json:"ceiling,omitempty"`
}

// Describe converts err into an ErrorInfo. Unclassified errors are reported
// as collaborator failures of unknown origin.
func Describe(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Kind: KindOf(err), Message: err.Error()}

	var collab *CollaboratorError
	if errors.As(err, &collab) {
		info.Collaborator = collab.Collaborator
		info.Code = collab.Code
		info.Recoverable = collab.Recoverable
		info.Partial = collab.Partial
	}
	var ceiling *CeilingExceededError
	if errors.As(err, &ceiling) {
		info.Ceiling = ceiling.Ceiling
	}
	if info.Kind == "" {
		info.Kind = KindCollaborator
		info.Code = CodeUnknown
	}
	return info
}

// asCollaboratorError normalizes whatever a collaborator returned.
// Timeouts and cancellations become ordinary structured failures.
func asCollaboratorError(name string, err error) *CollaboratorError {
	var collab *CollaboratorError
	if errors.As(err, &collab) {
		if collab.Collaborator == "" {
			c := *collab
			c.Collaborator = name
			return &c
		}
		return collab
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &CollaboratorError{Collaborator: name, Code: CodeTimeout, Message: "call timed out", Recoverable: true, Err: err}
	case errors.Is(err, context.Canceled):
		return &CollaboratorError{Collaborator: name, Code: CodeCancelled, Message: "call cancelled", Err: err}
	default:
		return &CollaboratorError{Collaborator: name, Code: CodeUnknown, Err: err}
	}
}
