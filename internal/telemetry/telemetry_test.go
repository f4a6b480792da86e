package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/jaig1/agenticbot/internal/config"
	"github.com/jaig1/agenticbot/internal/orchestrator"
)

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:       true,
		Endpoint:      "https://otel.example.com:4318",
		Protocol:      "http",
		TLSSkipVerify: true,
	}, "1.2.3")
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "agenticbot", cfg.ServiceName)
	assert.True(t, cfg.TLSSkipVerify)
	assert.False(t, cfg.Insecure)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"disabled is always valid", func(c *Config) { c.Enabled = false; c.Endpoint = "" }, ""},
		{"local insecure", func(c *Config) {}, ""},
		{"ipv6 loopback", func(c *Config) { c.Endpoint = "[::1]:4317" }, ""},
		{"no endpoint", func(c *Config) { c.Endpoint = "" }, "endpoint is required"},
		{"remote insecure", func(c *Config) { c.Endpoint = "collector.prod:4317" }, "insecure connections"},
		{"bad protocol", func(c *Config) { c.Protocol = "udp" }, "unknown protocol"},
		{"bad rate", func(c *Config) { c.SampleRate = 2 }, "sample rate"},
		{"no interval", func(c *Config) { c.ExportInterval = 0 }, "export interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_WithInjectedExporter(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.MetricsEnabled = false
	exp := tracetest.NewInMemoryExporter()

	tel, err := New(context.Background(), cfg, WithSpanExporter(exp))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded)

	_, span := tel.Tracer("test").Start(context.Background(), "lookup")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))
	require.Len(t, exp.GetSpans(), 1)
	assert.Equal(t, "lookup", exp.GetSpans()[0].Name)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
	assert.False(t, tel.IsEnabled())
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.Nil(t, tel.LoggerProvider())
	assert.True(t, tel.Health().Degraded)
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

type noCollaborator struct{}

func (noCollaborator) Plan(context.Context, orchestrator.PlanRequest) (*orchestrator.PlanOutcome, error) {
	return nil, errors.New("not called")
}

func (noCollaborator) Execute(context.Context, orchestrator.ExecuteRequest) (*orchestrator.ExecutionResult, error) {
	return nil, errors.New("not called")
}

func (noCollaborator) Respond(context.Context, orchestrator.RespondRequest) (*orchestrator.FormattedResponse, error) {
	return nil, errors.New("not called")
}

func TestEngineInstrumentation(t *testing.T) {
	tt := NewTestTelemetry()
	ask := orchestrator.PolicyFunc(func(context.Context, orchestrator.Snapshot, orchestrator.Catalog) (orchestrator.Decision, error) {
		return orchestrator.Decision{
			Action:     orchestrator.ActionRequestClarification,
			Parameters: map[string]any{"question": "Which quarter?"},
		}, nil
	})
	engine, err := orchestrator.NewEngine(ask, noCollaborator{}, noCollaborator{}, noCollaborator{},
		orchestrator.WithTracer(tt.Tracer("agenticbot")),
		orchestrator.WithMetrics(orchestrator.NewMetrics(tt.Meter("agenticbot"), zap.NewNop())),
	)
	require.NoError(t, err)

	ctx := context.Background()
	res, err := engine.RunTurn(ctx, engine.NewContext("s1", "t1", "revenue"))
	require.NoError(t, err)
	require.Equal(t, orchestrator.OutcomeNeedsClarification, res.Outcome)

	tt.AssertSpanExists(t, "orchestrator.turn")
	tt.AssertSpanExists(t, "orchestrator.policy")

	m, ok := tt.Metric(ctx, "agenticbot.orchestrator.turns_total")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.EqualValues(t, 1, sum.DataPoints[0].Value)
}
