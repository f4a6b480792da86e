package policy

import (
	"context"
	"slices"

	"github.com/jaig1/agenticbot/internal/orchestrator"
)

// Rules is a deterministic policy for running without a model. It follows
// plan, execute, format, finish and retries each failed stage a bounded
// number of times before aborting.
type Rules struct {
	// MaxRetries bounds RETRY_PLAN decisions per turn.
	MaxRetries int
	// MaxFormatAttempts bounds REQUEST_FORMATTING decisions per turn.
	MaxFormatAttempts int
}

// NewRules returns the default rules: one re-plan and two formatting attempts.
func NewRules() *Rules {
	return &Rules{MaxRetries: 1, MaxFormatAttempts: 2}
}

// Decide implements orchestrator.Policy.
func (r *Rules) Decide(_ context.Context, snap orchestrator.Snapshot, _ orchestrator.Catalog) (orchestrator.Decision, error) {
	switch snap.State {
	case orchestrator.StateNewQuery:
		return decide(orchestrator.ActionRequestPlan, "analyze the question"), nil

	case orchestrator.StatePlanningComplete:
		if snap.Err == nil && slices.Contains(snap.AllowedActions, orchestrator.ActionRequestExecution) {
			return decide(orchestrator.ActionRequestExecution, "plan is feasible"), nil
		}
		retryable := snap.Err == nil || snap.Err.Recoverable
		if retryable && countInTurn(snap, orchestrator.ActionRetryPlan) < r.MaxRetries {
			return decide(orchestrator.ActionRetryPlan, "re-plan around the failure"), nil
		}
		return decide(orchestrator.ActionAbort, "planning could not produce a usable plan"), nil

	case orchestrator.StateExecutionComplete:
		if snap.Err != nil && countInTurn(snap, orchestrator.ActionRequestFormatting) >= r.MaxFormatAttempts {
			return decide(orchestrator.ActionAbort, "formatting keeps failing"), nil
		}
		return decide(orchestrator.ActionRequestFormatting, "results are ready"), nil

	case orchestrator.StateResponseComplete:
		return decide(orchestrator.ActionFinish, "response is ready"), nil
	}
	return decide(orchestrator.ActionAbort, "no rule for state "+string(snap.State)), nil
}

func decide(a orchestrator.Action, rationale string) orchestrator.Decision {
	return orchestrator.Decision{Action: a, Rationale: rationale}
}

func countInTurn(snap orchestrator.Snapshot, a orchestrator.Action) int {
	n := 0
	for _, e := range snap.DecisionTrail {
		if e.TurnID == snap.TurnID && e.Action == a {
			n++
		}
	}
	return n
}
