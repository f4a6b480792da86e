package orchestrator

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCtx() *SessionContext {
	return NewSessionContext("session-1", "turn-1", "count rows in table X", DefaultLimits())
}

func requireConsistency(t *testing.T, err error, mutation string) {
	t.Helper()
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce), "expected ConsistencyError, got %v", err)
	assert.Equal(t, mutation, ce.Mutation)
	assert.Equal(t, KindConsistency, ce.Kind())
}

func TestSessionContext_ForwardPath(t *testing.T) {
	c := newCtx()

	require.NoError(t, apply(c, SetPlan{Plan: *feasiblePlan().Plan}, SetState{State: StatePlanningComplete}))
	require.NoError(t, apply(c, SetExecutionResult{Result: *countResult()}, SetState{State: StateExecutionComplete}))
	require.NoError(t, apply(c, SetFormattedResponse{Response: *countResponse()}, SetState{State: StateResponseComplete}))
	state, err := c.Apply(SetState{State: StateDone})
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
}

func TestSessionContext_RejectsResponseBeforeResult(t *testing.T) {
	c := newCtx()
	_, err := c.Apply(SetFormattedResponse{Response: *countResponse()})
	requireConsistency(t, err, "SetFormattedResponse")
	assert.Nil(t, c.FormattedResponse)
}

func TestSessionContext_RejectsResultWithoutPlan(t *testing.T) {
	c := newCtx()
	c.State = StatePlanningComplete
	_, err := c.Apply(SetExecutionResult{Result: *countResult()})
	requireConsistency(t, err, "SetExecutionResult")
}

func TestSessionContext_RejectsSkippedStates(t *testing.T) {
	c := newCtx()
	_, err := c.Apply(SetState{State: StateExecutionComplete})
	requireConsistency(t, err, "SetState")

	_, err = c.Apply(SetState{State: StateFailed})
	requireConsistency(t, err, "SetState")

	// PLANNING_COMPLETE needs a plan or a planner error.
	_, err = c.Apply(SetState{State: StatePlanningComplete})
	requireConsistency(t, err, "SetState")
	assert.Equal(t, StateNewQuery, c.State)
}

func TestSessionContext_RejectsSecondPlan(t *testing.T) {
	c := newCtx()
	require.NoError(t, apply(c, SetPlan{Plan: *feasiblePlan().Plan}))
	_, err := c.Apply(SetPlan{Plan: *feasiblePlan().Plan})
	requireConsistency(t, err, "SetPlan")
}

func TestSessionContext_RetryEdge(t *testing.T) {
	c := newCtx()
	require.NoError(t, apply(c, SetPlan{Plan: *feasiblePlan().Plan}, SetState{State: StatePlanningComplete}))
	require.NoError(t, apply(c, ClearPlan{}, SetPlan{Plan: *feasiblePlan().Plan}, SetState{State: StatePlanningComplete}))
	assert.Equal(t, StatePlanningComplete, c.State)
}

func TestSessionContext_TerminalRejectsMutations(t *testing.T) {
	c := newCtx()
	require.NoError(t, apply(c, Fail{Err: ErrorInfo{Kind: KindPolicyAborted, Message: "policy aborted"}}))
	assert.Equal(t, StateFailed, c.State)

	_, err := c.Apply(SetPlan{Plan: *feasiblePlan().Plan})
	requireConsistency(t, err, "SetPlan")

	// The pass that failed may still close its trail entry.
	require.NoError(t, apply(c,
		AppendDecision{Entry: TrailEntry{Iteration: 1, Action: ActionAbort, ResultingState: StateFailed}},
		IncrementIteration{},
	))
	_, err = c.Apply(AppendDecision{Entry: TrailEntry{Iteration: 2, ResultingState: StateNewQuery}})
	requireConsistency(t, err, "AppendDecision")
}

func TestSessionContext_FailClearsPayloads(t *testing.T) {
	c := newCtx()
	require.NoError(t, apply(c,
		SetPlan{Plan: *feasiblePlan().Plan}, SetState{State: StatePlanningComplete},
		SetExecutionResult{Result: *countResult()}, SetState{State: StateExecutionComplete},
		AttachError{Err: ErrorInfo{Kind: KindCollaborator, Collaborator: CollaboratorResponder}},
	))
	require.NoError(t, apply(c, Fail{Err: *c.Err}))

	assert.Nil(t, c.ExecutionResult)
	assert.Nil(t, c.FormattedResponse)
	require.NotNil(t, c.Err)
	assert.Len(t, c.ErrorHistory, 1)
}

func TestSessionContext_CountersRespectCeilings(t *testing.T) {
	c := NewSessionContext("s", "t", "q", Limits{MaxIterations: 1, MaxClarificationRounds: 1})

	_, err := c.Apply(IncrementIteration{})
	requireConsistency(t, err, "IncrementIteration")

	require.NoError(t, apply(c, AppendDecision{Entry: TrailEntry{Iteration: 1, ResultingState: StateNewQuery}}, IncrementIteration{}))
	_, err = c.Apply(IncrementIteration{})
	requireConsistency(t, err, "IncrementIteration")

	require.NoError(t, apply(c, IncrementClarificationRound{}))
	_, err = c.Apply(IncrementClarificationRound{})
	requireConsistency(t, err, "IncrementClarificationRound")
}

func TestSessionContext_TrailIsAppendOnly(t *testing.T) {
	c := newCtx()
	_, err := c.Apply(AppendDecision{Entry: TrailEntry{Iteration: 2}})
	requireConsistency(t, err, "AppendDecision")

	require.NoError(t, apply(c, AppendDecision{Entry: TrailEntry{Iteration: 1, Action: ActionRequestPlan}}))
	_, err = c.Apply(AppendDecision{Entry: TrailEntry{Iteration: 1}})
	requireConsistency(t, err, "AppendDecision")
}

func TestSessionContext_SnapshotIsDeepCopy(t *testing.T) {
	c := newCtx()
	require.NoError(t, apply(c, SetPlan{Plan: *feasiblePlan().Plan}, SetState{State: StatePlanningComplete}))
	require.NoError(t, apply(c, AppendDecision{Entry: TrailEntry{
		Iteration:  1,
		Action:     ActionRequestPlan,
		Parameters: map[string]any{"k": "v"},
	}}))

	snap := c.Snapshot()
	snap.Plan.Tables[0] = "mutated"
	snap.DecisionTrail[0].Parameters["k"] = "mutated"
	snap.State = StateDone

	assert.Equal(t, "X", c.Plan.Tables[0])
	assert.Equal(t, "v", c.DecisionTrail[0].Parameters["k"])
	assert.Equal(t, StatePlanningComplete, c.State)
	assert.Equal(t, []Action{ActionRequestExecution, ActionAbort}, snap.AllowedActions)
}

func TestResumeSessionContext(t *testing.T) {
	c := newCtx()
	require.NoError(t, apply(c,
		AppendClarification{Exchange: ClarificationExchange{Round: 1, Query: c.UserQuery, Question: "Which table?"}},
		IncrementClarificationRound{},
		SetState{State: StateAwaitingClarification},
		AppendDecision{Entry: TrailEntry{Iteration: 1, Action: ActionRequestClarification, ResultingState: StateAwaitingClarification}},
		IncrementIteration{},
	))

	next, err := ResumeSessionContext(c, "turn-2", "orders")
	require.NoError(t, err)
	assert.Equal(t, StateNewQuery, next.State)
	assert.Equal(t, "orders", next.UserQuery)
	assert.Equal(t, "count rows in table X", next.OriginalQuery)
	assert.Equal(t, 1, next.ClarificationRound)
	assert.Equal(t, 1, next.IterationCount)
	assert.Len(t, next.DecisionTrail, 1)
	assert.Equal(t, "orders", next.ClarificationHistory[0].Answer)
	assert.Empty(t, c.ClarificationHistory[0].Answer, "previous context must not change")

	_, err = ResumeSessionContext(next, "turn-3", "again")
	assert.Error(t, err)
}

func TestSessionContext_JSONRoundTripPreservesState(t *testing.T) {
	c := newCtx()
	require.NoError(t, apply(c, SetPlan{Plan: *feasiblePlan().Plan}, SetState{State: StatePlanningComplete}))

	data, err := json.Marshal(c)
	require.NoError(t, err)
	var restored SessionContext
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, c.State, restored.State)
	assert.Equal(t, c.Plan, restored.Plan)
	assert.Equal(t, c.Limits, restored.Limits)
}
