package observer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/windlass-dev/windlass"
)

// otelMetrics adapts Instruments to windlass.Metrics.
type otelMetrics struct {
	inst *Instruments
}

// NewMetrics wraps inst as a windlass.Metrics, so the executor, step
// runner, and HTTP caller can record measurements without importing OTEL
// directly.
func NewMetrics(inst *Instruments) windlass.Metrics {
	return &otelMetrics{inst: inst}
}

func (m *otelMetrics) RecordWorkflowExecution(ctx context.Context, success bool, durationMs float64) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.inst.WorkflowExecutions.Add(ctx, 1, attrs)
	m.inst.WorkflowDuration.Record(ctx, durationMs, attrs)
}

func (m *otelMetrics) RecordStepExecution(ctx context.Context, mode windlass.ExecutionMode, success bool, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.Bool("success", success),
	)
	m.inst.StepExecutions.Add(ctx, 1, attrs)
	m.inst.StepDuration.Record(ctx, durationMs, attrs)
}

func (m *otelMetrics) RecordHTTPCall(ctx context.Context, method string, status int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.Int("status", status),
	)
	m.inst.HTTPRequests.Add(ctx, 1, attrs)
	m.inst.HTTPDuration.Record(ctx, durationMs, attrs)
}

var _ windlass.Metrics = (*otelMetrics)(nil)
