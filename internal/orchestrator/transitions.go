package orchestrator

import "slices"

// AllowedActions returns the actions the loop accepts from the context's
// current state. It depends on what the context holds, not just the state.
func AllowedActions(c *SessionContext) []Action {
	switch c.State {
	case StateNewQuery:
		return []Action{ActionRequestPlan, ActionRequestClarification}

	case StatePlanningComplete:
		switch {
		case c.Plan == nil:
			// Planner failed; only a retry or giving up make sense.
			return []Action{ActionRetryPlan, ActionAbort}
		case c.Err != nil && c.Err.Collaborator == CollaboratorExecutor:
			return []Action{ActionRequestExecution, ActionRetryPlan, ActionAbort}
		case !c.Plan.Feasible || c.Err != nil:
			return []Action{ActionRetryPlan, ActionAbort}
		default:
			return []Action{ActionRequestExecution, ActionAbort}
		}

	case StateExecutionComplete:
		if (c.ExecutionResult != nil && c.ExecutionResult.Partial) || c.Err != nil {
			return []Action{ActionRequestFormatting, ActionAbort}
		}
		return []Action{ActionRequestFormatting}

	case StateResponseComplete:
		return []Action{ActionFinish}
	}
	return nil
}

// validateTransition rejects actions outside the allowed set.
func validateTransition(c *SessionContext, a Action) error {
	allowed := AllowedActions(c)
	if slices.Contains(allowed, a) {
		return nil
	}
	return &InvalidTransitionError{From: c.State, Action: a, Allowed: allowed}
}
