// Package observer provides OTEL-based observability for windlass workflow
// execution.
//
// It wires a trace exporter and a metric exporter behind the standard OTEL
// env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.) and exposes the resulting
// Tracer/Instruments to the executor, step runner, and HTTP caller.
// Logs are carried by log/slog directly (see httpcall.WithLogger,
// store/sqlite.WithLogger) rather than through an OTEL log bridge, so
// unlike oasis's observer package this one configures traces and metrics
// only.
package observer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/windlass-dev/windlass/observer"

// Instruments holds the OTEL instruments shared by the executor, step
// runner, and HTTP caller.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	WorkflowExecutions metric.Int64Counter
	WorkflowDuration    metric.Float64Histogram
	StepExecutions      metric.Int64Counter
	StepDuration        metric.Float64Histogram
	HTTPRequests        metric.Int64Counter
	HTTPDuration        metric.Float64Histogram
}

// Init sets up OTEL trace and metric providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars. Returns a shutdown
// function that must be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("windlass")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)

	workflowExecutions, err := meter.Int64Counter("workflow.executions",
		metric.WithDescription("Workflow run count"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	workflowDuration, err := meter.Float64Histogram("workflow.duration",
		metric.WithDescription("Workflow run duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	stepExecutions, err := meter.Int64Counter("step.executions",
		metric.WithDescription("Step execution count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram("step.duration",
		metric.WithDescription("Step execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	httpRequests, err := meter.Int64Counter("http.requests",
		metric.WithDescription("Outbound HTTP call count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	httpDuration, err := meter.Float64Histogram("http.duration",
		metric.WithDescription("Outbound HTTP call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:              tracer,
		Meter:                meter,
		WorkflowExecutions:   workflowExecutions,
		WorkflowDuration:     workflowDuration,
		StepExecutions:       stepExecutions,
		StepDuration:         stepDuration,
		HTTPRequests:         httpRequests,
		HTTPDuration:         httpDuration,
	}, nil
}
