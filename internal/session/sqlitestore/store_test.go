package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func awaitingContext() *orchestrator.SessionContext {
	c := orchestrator.NewSessionContext("s1", "t1", "sales by area", orchestrator.DefaultLimits())
	c.State = orchestrator.StateAwaitingClarification
	c.ClarificationRound = 1
	c.IterationCount = 1
	c.ClarificationHistory = []orchestrator.ClarificationExchange{{Round: 1, Query: "sales by area", Question: "Which region?"}}
	c.DecisionTrail = []orchestrator.TrailEntry{{
		Iteration:      1,
		TurnID:         "t1",
		Action:         orchestrator.ActionRequestClarification,
		ResultingState: orchestrator.StateAwaitingClarification,
		Duration:       3 * time.Millisecond,
		RecordedAt:     time.Now().UTC(),
	}}
	return c
}

func TestOpen_Migrates(t *testing.T) {
	s := openTestStore(t)
	v, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	// Reopening applies nothing new.
	again, err := Open(s.Path())
	require.NoError(t, err)
	defer again.Close()
	v, err = again.Version()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrNotFound)

	rec := &session.Record{
		SessionID: "s1",
		Context:   awaitingContext(),
		History: []session.HistoryEntry{{
			Request:   1,
			TurnID:    "t1",
			Query:     "sales by area",
			Outcome:   orchestrator.OutcomeNeedsClarification,
			Response:  "Which region?",
			Timestamp: time.Now().UTC(),
		}},
		UpdatedAt: time.Now(),
	}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.Context)
	assert.Equal(t, orchestrator.StateAwaitingClarification, got.Context.State)
	assert.Equal(t, 1, got.Context.ClarificationRound)
	require.Len(t, got.Context.DecisionTrail, 1)
	assert.Equal(t, 3*time.Millisecond, got.Context.DecisionTrail[0].Duration)
	require.Len(t, got.History, 1)
	assert.Equal(t, orchestrator.OutcomeNeedsClarification, got.History[0].Outcome)
	assert.Equal(t, "Which region?", got.History[0].Response)

	// The stored context can be resumed.
	next, err := orchestrator.ResumeSessionContext(got.Context, "t2", "EMEA")
	require.NoError(t, err)
	assert.Equal(t, "EMEA", next.UserQuery)

	// A later save appends history and replaces the context.
	rec.History = append(rec.History, session.HistoryEntry{
		Request: 2, TurnID: "t2", Query: "EMEA", Outcome: orchestrator.OutcomeAnswered,
		SQL: "SELECT 1", Response: "done", Timestamp: time.Now().UTC(),
	})
	rec.Context = nil
	require.NoError(t, s.Save(ctx, rec))

	got, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got.Context)
	require.Len(t, got.History, 2)
	assert.Equal(t, "SELECT 1", got.History[1].SQL)
}

func TestStore_DeleteAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a"} {
		require.NoError(t, s.Save(ctx, &session.Record{
			SessionID: id,
			History:   []session.HistoryEntry{{Request: 1, TurnID: "t", Query: "q", Outcome: orchestrator.OutcomeFailed, Timestamp: time.Now()}},
		}))
	}

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Load(ctx, "a")
	assert.ErrorIs(t, err, session.ErrNotFound)

	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

type unused struct{}

func (unused) Plan(context.Context, orchestrator.PlanRequest) (*orchestrator.PlanOutcome, error) {
	return nil, errors.New("not called")
}

func (unused) Execute(context.Context, orchestrator.ExecuteRequest) (*orchestrator.ExecutionResult, error) {
	return nil, errors.New("not called")
}

func (unused) Respond(context.Context, orchestrator.RespondRequest) (*orchestrator.FormattedResponse, error) {
	return nil, errors.New("not called")
}

func TestStore_BacksService(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ask := orchestrator.PolicyFunc(func(context.Context, orchestrator.Snapshot, orchestrator.Catalog) (orchestrator.Decision, error) {
		return orchestrator.Decision{
			Action:     orchestrator.ActionRequestClarification,
			Parameters: map[string]any{"question": "Which year?"},
		}, nil
	})
	engine, err := orchestrator.NewEngine(ask, unused{}, unused{}, unused{})
	require.NoError(t, err)
	svc := session.NewService(engine, session.WithStore(s))

	res, err := svc.SubmitTurn(context.Background(), "s1", "revenue")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomeNeedsClarification, res.Outcome)

	q, ok, err := svc.PendingQuestion(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Which year?", q)

	hist, err := svc.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "Which year?", hist[0].Response)
}
