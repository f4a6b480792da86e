package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/jaig1/agenticbot/internal/session"
)

const instrumentationName = "github.com/jaig1/agenticbot/internal/mcp"

// Metrics holds the OTel instruments for tool calls. Instruments that fail
// to register are left nil and skipped.
type Metrics struct {
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	errors      metric.Int64Counter
	active      metric.Int64UpDownCounter
}

// NewMetrics registers the tool instruments on meter, or on the global
// meter provider when meter is nil.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	var m Metrics
	var err error
	m.invocations, err = meter.Int64Counter("agenticbot.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls"), metric.WithUnit("{invocation}"))
	warn("invocations_total", err)
	m.duration, err = meter.Float64Histogram("agenticbot.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"), metric.WithUnit("s"),
		// Turns include LLM round trips; the upper buckets matter.
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300))
	warn("duration_seconds", err)
	m.errors, err = meter.Int64Counter("agenticbot.mcp.tool.errors_total",
		metric.WithDescription("MCP tool calls that returned an error"), metric.WithUnit("{error}"))
	warn("errors_total", err)
	m.active, err = meter.Int64UpDownCounter("agenticbot.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in flight"), metric.WithUnit("{request}"))
	warn("active_requests", err)
	return &m
}

// RecordInvocation records one finished call of tool.
func (m *Metrics) RecordInvocation(ctx context.Context, tool string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.invocations != nil {
		m.invocations.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("reason", categorizeError(err)),
		))
	}
}

// IncrementActive marks a call of tool as started.
func (m *Metrics) IncrementActive(ctx context.Context, tool string) { m.addActive(ctx, tool, 1) }

// DecrementActive marks a call of tool as finished.
func (m *Metrics) DecrementActive(ctx context.Context, tool string) { m.addActive(ctx, tool, -1) }

func (m *Metrics) addActive(ctx context.Context, tool string, n int64) {
	if m.active != nil {
		m.active.Add(ctx, n, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

// categorizeError maps a tool error to a low-cardinality reason.
func categorizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrEmptySessionID), errors.Is(err, session.ErrEmptyQuery):
		return "validation_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid"):
		return "validation_error"
	case strings.Contains(msg, "store") || strings.Contains(msg, "sqlite"):
		return "storage_error"
	default:
		return "internal_error"
	}
}
