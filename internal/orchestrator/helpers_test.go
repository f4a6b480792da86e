package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPlanner is a mock implementation of Planner
type MockPlanner struct {
	mock.Mock
}

func (m *MockPlanner) Plan(ctx context.Context, req PlanRequest) (*PlanOutcome, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PlanOutcome), args.Error(1)
}

// MockExecutor is a mock implementation of Executor
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ExecutionResult), args.Error(1)
}

// MockResponder is a mock implementation of Responder
type MockResponder struct {
	mock.Mock
}

func (m *MockResponder) Respond(ctx context.Context, req RespondRequest) (*FormattedResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FormattedResponse), args.Error(1)
}

// MockClarifier is a mock implementation of Clarifier
type MockClarifier struct {
	mock.Mock
}

func (m *MockClarifier) Clarify(ctx context.Context, req ClarifyRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type plannerFunc func(ctx context.Context, req PlanRequest) (*PlanOutcome, error)

func (f plannerFunc) Plan(ctx context.Context, req PlanRequest) (*PlanOutcome, error) {
	return f(ctx, req)
}

type executorFunc func(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error)

func (f executorFunc) Execute(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error) {
	return f(ctx, req)
}

type responderFunc func(ctx context.Context, req RespondRequest) (*FormattedResponse, error)

func (f responderFunc) Respond(ctx context.Context, req RespondRequest) (*FormattedResponse, error) {
	return f(ctx, req)
}

type step struct {
	dec Decision
	err error
}

// scriptedPolicy replays a fixed sequence of decisions and records what it saw.
type scriptedPolicy struct {
	mu    sync.Mutex
	steps []step
	seen  []Snapshot
}

func script(actions ...Action) *scriptedPolicy {
	p := &scriptedPolicy{}
	for _, a := range actions {
		p.steps = append(p.steps, step{dec: Decision{Action: a, Rationale: "scripted " + string(a)}})
	}
	return p
}

func (p *scriptedPolicy) then(dec Decision) *scriptedPolicy {
	p.steps = append(p.steps, step{dec: dec})
	return p
}

func (p *scriptedPolicy) fail(err error) *scriptedPolicy {
	p.steps = append(p.steps, step{err: err})
	return p
}

func (p *scriptedPolicy) Decide(_ context.Context, snap Snapshot, _ Catalog) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.seen)
	p.seen = append(p.seen, snap)
	if i >= len(p.steps) {
		return Decision{}, errors.New("script exhausted")
	}
	return p.steps[i].dec, p.steps[i].err
}

func feasiblePlan() *PlanOutcome {
	return &PlanOutcome{Plan: &Plan{
		Intent:       "count rows",
		Tables:       []string{"X"},
		Aggregations: []string{"COUNT(*)"},
		Confidence:   0.9,
		Feasible:     true,
	}}
}

func countResult() *ExecutionResult {
	return &ExecutionResult{
		SQL:      "SELECT COUNT(*) AS n FROM X",
		Columns:  []string{"n"},
		Rows:     []Row{{"n": int64(42)}},
		Metadata: ExecutionMetadata{RowCount: 1, BytesScanned: 8},
	}
}

func countResponse() *FormattedResponse {
	return &FormattedResponse{
		Explanation: "Table X contains 42 rows.",
		Summary:     "42 rows",
		Methodology: "Counted all rows in X.",
	}
}

func newTestEngine(t *testing.T, policy Policy, p Planner, e Executor, r Responder, opts ...EngineOption) *Engine {
	t.Helper()
	engine, err := NewEngine(policy, p, e, r, opts...)
	require.NoError(t, err)
	return engine
}
