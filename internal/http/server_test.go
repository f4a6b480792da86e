package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zapcore"

	"github.com/jaig1/agenticbot/internal/logging"
	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/policy"
	"github.com/jaig1/agenticbot/internal/session"
)

type planner struct{}

func (planner) Plan(_ context.Context, req orchestrator.PlanRequest) (*orchestrator.PlanOutcome, error) {
	if req.Query == "top products" && len(req.Clarifications) == 0 {
		return &orchestrator.PlanOutcome{Clarification: &orchestrator.ClarificationMarker{Question: "Top by revenue or units?"}}, nil
	}
	return &orchestrator.PlanOutcome{Plan: &orchestrator.Plan{Intent: "count", Tables: []string{"orders"}, Feasible: true}}, nil
}

type executor struct{}

func (executor) Execute(context.Context, orchestrator.ExecuteRequest) (*orchestrator.ExecutionResult, error) {
	return &orchestrator.ExecutionResult{
		SQL:      "SELECT COUNT(*) FROM orders",
		Rows:     []orchestrator.Row{{"n": 3}},
		Metadata: orchestrator.ExecutionMetadata{RowCount: 1},
	}, nil
}

type responder struct{}

func (responder) Respond(context.Context, orchestrator.RespondRequest) (*orchestrator.FormattedResponse, error) {
	return &orchestrator.FormattedResponse{Explanation: "There are 3 orders."}, nil
}

func setupTestServer(t *testing.T) (*Server, *logging.TestLogger) {
	t.Helper()
	engine, err := orchestrator.NewEngine(policy.NewRules(), planner{}, executor{}, responder{})
	require.NoError(t, err)
	tl := logging.NewTestLogger()
	srv, err := NewServer(session.NewService(engine), tl.Logger, &Config{Version: "test", Health: func() string { return "disabled" }})
	require.NoError(t, err)
	return srv, tl
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, logging.Nop(), nil)
	assert.ErrorContains(t, err, "session service cannot be nil")

	engine, err := orchestrator.NewEngine(policy.NewRules(), planner{}, executor{}, responder{})
	require.NoError(t, err)
	_, err = NewServer(session.NewService(engine), nil, nil)
	assert.ErrorContains(t, err, "logger is required")

	srv, err := NewServer(session.NewService(engine), logging.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, 9090, srv.config.Port)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := setupTestServer(t)
	rec := do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, HealthResponse{Status: "ok", Version: "test", Telemetry: "disabled"}, resp)
}

func TestHandleSubmitTurn(t *testing.T) {
	t.Run("answers and hides the trail", func(t *testing.T) {
		srv, tl := setupTestServer(t)
		rec := do(t, srv, http.MethodPost, "/api/v1/sessions/s1/turns", `{"query":"how many orders?"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "s1", resp["session_id"])
		assert.Equal(t, "answered", resp["outcome"])
		answered := resp["answered"].(map[string]any)
		assert.Equal(t, "There are 3 orders.", answered["explanation"])
		assert.Nil(t, answered["decision_trail"])

		tl.AssertLogged(t, zapcore.InfoLevel, "http request")
		tl.AssertField(t, "http request", "status", int64(http.StatusOK))
	})

	t.Run("returns the trail on request", func(t *testing.T) {
		srv, _ := setupTestServer(t)
		rec := do(t, srv, http.MethodPost, "/api/v1/sessions/s1/turns?trail=true", `{"query":"how many orders?"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp TurnResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Answered)
		assert.Len(t, resp.Answered.DecisionTrail, 4)
	})

	t.Run("clarification round trip", func(t *testing.T) {
		srv, _ := setupTestServer(t)
		rec := do(t, srv, http.MethodPost, "/api/v1/sessions/s2/turns", `{"query":"top products"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp TurnResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Clarification)
		assert.Equal(t, "Top by revenue or units?", resp.Clarification.Question)

		rec = do(t, srv, http.MethodGet, "/api/v1/sessions/s2/pending", "")
		var pending PendingResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
		assert.Equal(t, PendingResponse{Pending: true, Question: "Top by revenue or units?"}, pending)

		rec = do(t, srv, http.MethodPost, "/api/v1/sessions/s2/turns", `{"query":"revenue"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		resp = TurnResponse{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, orchestrator.OutcomeAnswered, resp.Outcome)
	})

	t.Run("rejects empty query", func(t *testing.T) {
		srv, _ := setupTestServer(t)
		rec := do(t, srv, http.MethodPost, "/api/v1/sessions/s1/turns", `{"query":"  "}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		srv, _ := setupTestServer(t)
		rec := do(t, srv, http.MethodPost, "/api/v1/sessions/s1/turns", `{"query":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHistoryStatsAndReset(t *testing.T) {
	srv, _ := setupTestServer(t)
	do(t, srv, http.MethodPost, "/api/v1/sessions/s1/turns", `{"query":"how many orders?"}`)
	do(t, srv, http.MethodPost, "/api/v1/sessions/s2/turns", `{"query":"top products"}`)

	rec := do(t, srv, http.MethodGet, "/api/v1/sessions/s1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hist HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.History, 1)
	assert.Equal(t, "SELECT COUNT(*) FROM orders", hist.History[0].SQL)

	rec = do(t, srv, http.MethodGet, "/api/v1/stats", "")
	var st session.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Clarifications)

	rec = do(t, srv, http.MethodDelete, "/api/v1/sessions/s1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/sessions/s1/history", "")
	hist = HistoryResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Empty(t, hist.History)
	assert.NotNil(t, hist.History)
}

func TestCreateSessionAndMetrics(t *testing.T) {
	srv, _ := setupTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)

	do(t, srv, http.MethodPost, "/api/v1/sessions/"+resp.SessionID+"/turns", `{"query":"how many orders?"}`)
	rec = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agenticbot_session_turns_total")
}

type failingService struct{ TurnService }

func (failingService) Stats(context.Context, string) (session.Stats, error) {
	return session.Stats{}, errors.New("store offline")
}

func TestServiceErrorIsLogged(t *testing.T) {
	tl := logging.NewTestLogger()
	srv, err := NewServer(failingService{}, tl.Logger, nil)
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "store offline")
	tl.AssertLogged(t, zapcore.ErrorLevel, "stats failed")
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	engine, err := orchestrator.NewEngine(policy.NewRules(), planner{}, executor{}, responder{})
	require.NoError(t, err)
	srv, err := NewServer(session.NewService(engine), logging.Nop(), &Config{Meter: mp.Meter("test")})
	require.NoError(t, err)

	do(t, srv, http.MethodGet, "/health", "")
	do(t, srv, http.MethodGet, "/api/v1/sessions/abc/history", "")
	do(t, srv, http.MethodGet, "/api/v1/sessions/def/history", "")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	routes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "agenticbot.http.requests_total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				route, _ := dp.Attributes.Value("route")
				routes[route.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(1), routes["/health"])
	assert.Equal(t, int64(2), routes["/api/v1/sessions/:id/history"])
}
