package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/jaig1/agenticbot/internal/orchestrator"

// Metrics holds the engine's OpenTelemetry instruments.
type Metrics struct {
	meter        metric.Meter
	logger       *zap.Logger
	iterations   metric.Int64Counter
	turns        metric.Int64Counter
	collabTime   metric.Float64Histogram
	policyErrors metric.Int64Counter
}

// NewMetrics creates instruments on meter, or on the global provider when
// meter is nil.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.iterations, err = m.meter.Int64Counter(
		"agenticbot.orchestrator.iterations_total",
		metric.WithDescription("Loop passes by dispatched action"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		m.logger.Warn("failed to create iterations counter", zap.Error(err))
	}

	m.turns, err = m.meter.Int64Counter(
		"agenticbot.orchestrator.turns_total",
		metric.WithDescription("Completed turns by outcome"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		m.logger.Warn("failed to create turns counter", zap.Error(err))
	}

	m.collabTime, err = m.meter.Float64Histogram(
		"agenticbot.orchestrator.collaborator_duration_seconds",
		metric.WithDescription("Duration of collaborator calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		m.logger.Warn("failed to create collaborator duration histogram", zap.Error(err))
	}

	m.policyErrors, err = m.meter.Int64Counter(
		"agenticbot.orchestrator.policy_errors_total",
		metric.WithDescription("Policy decisions forced to abort"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create policy errors counter", zap.Error(err))
	}
}

func (m *Metrics) recordIteration(ctx context.Context, entry TrailEntry) {
	if m == nil || m.iterations == nil {
		return
	}
	m.iterations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(entry.Action)),
		attribute.Bool("forced", entry.Forced),
	))
}

func (m *Metrics) recordTurn(ctx context.Context, outcome Outcome) {
	if m == nil || m.turns == nil {
		return
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (m *Metrics) recordCollaborator(ctx context.Context, name string, d time.Duration, err error) {
	if m == nil || m.collabTime == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.collabTime.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("collaborator", name),
		attribute.String("result", result),
	))
}

func (m *Metrics) recordPolicyError(ctx context.Context, kind ErrorKind) {
	if m == nil || m.policyErrors == nil {
		return
	}
	m.policyErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}
