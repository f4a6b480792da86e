package policy

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jaig1/agenticbot/internal/agents"
	"github.com/jaig1/agenticbot/internal/llm"
	"github.com/jaig1/agenticbot/internal/orchestrator"
)

func newClient(responses ...string) (*llm.Client, *llm.FakeModel) {
	model := llm.NewFakeModel(responses...)
	return llm.NewClient(model, llm.Config{RateLimit: 1000, Burst: 100}), model
}

func snapshot(state orchestrator.State, opts ...func(*orchestrator.SessionContext)) orchestrator.Snapshot {
	c := orchestrator.NewSessionContext("s1", "t1", "how many customers?", orchestrator.DefaultLimits())
	c.State = state
	for _, opt := range opts {
		opt(c)
	}
	return c.Snapshot()
}

func TestScripted(t *testing.T) {
	boom := errors.New("boom")
	p := NewScripted(
		Act(orchestrator.ActionRequestPlan, "start"),
		Raw(`{"action":"CALL_EXECUTOR","reason":"legacy name"}`),
		Fail(boom),
	)
	ctx := context.Background()
	snap := snapshot(orchestrator.StateNewQuery)

	d, err := p.Decide(ctx, snap, orchestrator.DefaultCatalog())
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ActionRequestPlan, d.Action)

	d, err = p.Decide(ctx, snap, orchestrator.DefaultCatalog())
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ActionRequestExecution, d.Action)
	assert.Equal(t, "legacy name", d.Rationale)

	_, err = p.Decide(ctx, snap, orchestrator.DefaultCatalog())
	assert.ErrorIs(t, err, boom)

	_, err = p.Decide(ctx, snap, orchestrator.DefaultCatalog())
	assert.ErrorIs(t, err, ErrScriptExhausted)
	assert.Len(t, p.Seen(), 4)
	assert.Zero(t, p.Remaining())
}

func TestRules(t *testing.T) {
	plan := &orchestrator.Plan{Intent: "count", Tables: []string{"customers"}, Feasible: true}
	recoverable := &orchestrator.ErrorInfo{Kind: orchestrator.KindCollaborator, Collaborator: "executor", Code: "query_failed", Recoverable: true}
	fatal := &orchestrator.ErrorInfo{Kind: orchestrator.KindCollaborator, Collaborator: "executor", Code: "unsafe_sql"}
	retried := func(c *orchestrator.SessionContext) {
		c.DecisionTrail = append(c.DecisionTrail, orchestrator.TrailEntry{Iteration: 1, TurnID: "t1", Action: orchestrator.ActionRetryPlan})
		c.IterationCount = 1
	}

	tests := []struct {
		name string
		snap orchestrator.Snapshot
		want orchestrator.Action
	}{
		{"new query plans", snapshot(orchestrator.StateNewQuery), orchestrator.ActionRequestPlan},
		{"feasible plan executes", snapshot(orchestrator.StatePlanningComplete, func(c *orchestrator.SessionContext) { c.Plan = plan }), orchestrator.ActionRequestExecution},
		{"recoverable failure re-plans", snapshot(orchestrator.StatePlanningComplete, func(c *orchestrator.SessionContext) {
			c.Plan = plan
			c.Err = recoverable
		}), orchestrator.ActionRetryPlan},
		{"second failure aborts", snapshot(orchestrator.StatePlanningComplete, func(c *orchestrator.SessionContext) {
			c.Plan = plan
			c.Err = recoverable
			retried(c)
		}), orchestrator.ActionAbort},
		{"unrecoverable failure aborts", snapshot(orchestrator.StatePlanningComplete, func(c *orchestrator.SessionContext) {
			c.Plan = plan
			c.Err = fatal
		}), orchestrator.ActionAbort},
		{"infeasible plan re-plans", snapshot(orchestrator.StatePlanningComplete, func(c *orchestrator.SessionContext) {
			c.Plan = &orchestrator.Plan{Intent: "x"}
		}), orchestrator.ActionRetryPlan},
		{"results are formatted", snapshot(orchestrator.StateExecutionComplete), orchestrator.ActionRequestFormatting},
		{"response finishes", snapshot(orchestrator.StateResponseComplete), orchestrator.ActionFinish},
		{"terminal state aborts", snapshot(orchestrator.StateDone), orchestrator.ActionAbort},
	}
	r := NewRules()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Decide(context.Background(), tt.snap, orchestrator.DefaultCatalog())
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Action)
		})
	}
}

func TestLLM_Decide(t *testing.T) {
	client, model := newClient("<think>plan first</think>\n```json\n{\"action\":\"REQUEST_PLAN\",\"rationale\":\"need a plan\",\"proposed_next_state\":\"PLANNING_COMPLETE\"}\n```")
	p, err := NewLLM(client, nil)
	require.NoError(t, err)

	d, err := p.Decide(context.Background(), snapshot(orchestrator.StateNewQuery), orchestrator.DefaultCatalog())
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ActionRequestPlan, d.Action)
	assert.Equal(t, "need a plan", d.Rationale)
	assert.Equal(t, orchestrator.StatePlanningComplete, d.ProposedNextState)

	prompt := model.Prompts()[0]
	assert.Contains(t, prompt, "ALLOWED ACTIONS IN THE CURRENT STATE: REQUEST_PLAN, REQUEST_CLARIFICATION")
	assert.Contains(t, prompt, `"state": "NEW_QUERY"`)
	assert.Contains(t, prompt, "how many customers?")
}

func TestLLM_ResponseCompleteWarning(t *testing.T) {
	client, model := newClient(`{"action":"COMPLETE"}`)
	p, err := NewLLM(client, nil)
	require.NoError(t, err)

	d, err := p.Decide(context.Background(), snapshot(orchestrator.StateResponseComplete), orchestrator.DefaultCatalog())
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ActionFinish, d.Action)
	assert.Contains(t, model.Prompts()[0], "The only correct action is FINISH")
}

func TestLLM_DecodeFailures(t *testing.T) {
	tests := []struct {
		name   string
		output string
		reason string
	}{
		{"prose", "I think we should plan.", "no JSON object"},
		{"schema mismatch", `{"rationale":"forgot the action"}`, "does not match schema"},
		{"wrong type", `{"action":7}`, "does not match schema"},
		{"unknown action", `{"action":"DANCE"}`, "unknown action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newClient(tt.output)
			p, err := NewLLM(client, nil)
			require.NoError(t, err)

			_, err = p.Decide(context.Background(), snapshot(orchestrator.StateNewQuery), orchestrator.DefaultCatalog())
			var decodeErr *orchestrator.PolicyDecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Contains(t, decodeErr.Reason, tt.reason)
		})
	}
}

func TestLLM_ModelFailure(t *testing.T) {
	client, model := newClient("unused")
	model.FailNext(errors.New("rate limited"))
	p, err := NewLLM(client, nil)
	require.NoError(t, err)

	_, err = p.Decide(context.Background(), snapshot(orchestrator.StateNewQuery), orchestrator.DefaultCatalog())
	assert.ErrorContains(t, err, "rate limited")
}

func TestRules_DrivesEngineEndToEnd(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO customers (name) VALUES ('Ada'), ('Grace');`)
	require.NoError(t, err)

	plannerLLM, _ := newClient(`{"status":"answerable","analysis":{"intent":"count customers","tables_needed":["customers"],"confidence":0.9}}`)
	executorLLM, _ := newClient("SELECT COUNT(*) AS n FROM customers")
	responderLLM, _ := newClient(`{"explanation":"There are 2 customers.","summary":"2 customers"}`)

	engine, err := orchestrator.NewEngine(NewRules(),
		agents.NewLLMPlanner(plannerLLM, nil, nil),
		agents.NewSQLExecutor(db, executorLLM, nil),
		agents.NewLLMResponder(responderLLM),
	)
	require.NoError(t, err)

	res, err := engine.RunTurn(context.Background(), engine.NewContext("s1", "t1", "how many customers?"))
	require.NoError(t, err)
	require.Equal(t, orchestrator.OutcomeAnswered, res.Outcome)
	assert.Equal(t, "There are 2 customers.", res.Answered.Explanation)
	assert.Equal(t, "SELECT COUNT(*) AS n FROM customers", res.Answered.SQLOrPlanSummary)
	assert.Equal(t, "1 row", res.Answered.RowsSummary)
	assert.Len(t, res.Answered.DecisionTrail, 4)
}
