package windlass

import (
	"context"
	"time"
)

// Executor runs Workflows to completion. Grounded on oasis workflow_exec.go's
// execute/buildResult shape (span-per-run, context.WithCancel fail-fast,
// structured result assembly) but collapsed from a DAG-with-dependency-edges
// model to the spec's strictly sequential step list: steps run in
// declaration order, and each completed step's TransformedData is added to
// an accumulated context under its step id, which every later step and the
// FinalTransform evaluate against.
type Executor struct {
	runner  *stepRunner
	eval    Evaluator
	tracer  Tracer
	metrics Metrics
}

// ExecutorOption configures optional Executor behavior not every caller
// needs (cmd/windlass-server only sets WithMetrics when the observer is
// enabled; tests omit it entirely).
type ExecutorOption func(*Executor)

// WithMetrics records workflow.executions/workflow.duration (and, via the
// step runner, step.executions/step.duration) through m.
func WithMetrics(m Metrics) ExecutorOption {
	return func(x *Executor) { x.metrics = m }
}

// NewExecutor builds an Executor over the given HTTP caller and expression
// evaluator. tracer may be nil to disable span emission.
func NewExecutor(caller Caller, eval Evaluator, tracer Tracer, opts ...ExecutorOption) *Executor {
	x := &Executor{eval: eval, tracer: tracer}
	for _, o := range opts {
		o(x)
	}
	x.runner = newStepRunner(caller, eval, tracer, x.metrics)
	return x
}

// Execute drives every Step in wf.Steps in order against input, then applies
// wf.FinalTransform and, if set, validates the result against
// wf.ResponseSchema. The first failing step aborts the run (spec invariant:
// no partial-success RunResult) and cancels any step still executing.
func (x *Executor) Execute(ctx context.Context, wf Workflow, tenant string, input any, opts ExecuteOptions) RunResult {
	ctx = WithTenant(ctx, tenant)
	ctx = WithCacheMode(ctx, opts.CacheMode)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, opts.Timeout)
		defer timeoutCancel()
	}

	var span Span
	if x.tracer != nil {
		ctx, span = x.tracer.Start(ctx, "workflow.execute",
			StringAttr("workflow.id", wf.ID),
			IntAttr("step_count", len(wf.Steps)))
		defer span.End()
	}

	run := RunResult{
		ID:        NewID(),
		StartedAt: time.Now(),
		Config:    wf,
		ConfigID:  wf.ID,
		Tenant:    tenant,
	}

	if x.metrics != nil {
		defer func() {
			x.metrics.RecordWorkflowExecution(ctx, run.Success, float64(run.CompletedAt.Sub(run.StartedAt).Milliseconds()))
		}()
	}

	// stepCtx accumulates {...payload, step0Id: step0.transformed, ...} as
	// each step completes (spec.md §4.5), so a later step's inputMapping or
	// the workflow's finalTransform can address any prior step by id, not
	// just the one immediately before it.
	stepCtx := contextFromInput(input)
	results := make([]StepResult, 0, len(wf.Steps))

	var abortErr error
	for _, step := range wf.Steps {
		if err := ctx.Err(); err != nil {
			abortErr = &TimeoutError{Op: "workflow.execute", Timeout: err.Error()}
			break
		}
		sr := x.runner.run(ctx, step, stepCtx)
		results = append(results, sr)
		if !sr.Success {
			cancel()
			break
		}
		if step.ID != "" {
			stepCtx[step.ID] = sr.TransformedData
		}
	}

	run.StepResults = results
	run.CompletedAt = time.Now()

	if failed := lastFailure(results); failed != nil {
		run.Success = false
		run.Error = failed.Error
		if span != nil {
			span.SetAttr(StringAttr("workflow.status", "error"))
		}
		return run
	}
	if abortErr != nil {
		run.Success = false
		run.Error = abortErr.Error()
		if span != nil {
			span.Error(abortErr)
		}
		return run
	}

	final, err := x.eval.Eval(wf.finalExpr(), stepCtx)
	if err != nil {
		run.Success = false
		run.Error = (&BindingError{StepID: "finalTransform", Err: err}).Error()
		if span != nil {
			span.Error(err)
		}
		return run
	}

	if len(wf.ResponseSchema) > 0 {
		if err := x.eval.ValidateSchema(wf.ResponseSchema, final); err != nil {
			run.Success = false
			run.Data = final
			run.Error = err.Error()
			if span != nil {
				span.Error(err)
			}
			return run
		}
	}

	run.Success = true
	run.Data = final
	if span != nil {
		span.SetAttr(StringAttr("workflow.status", "ok"))
	}
	return run
}

// contextFromInput seeds the accumulated step context from the workflow's
// payload. payload/credentials are always object-shaped by the time they
// reach Execute (the RPC façade decodes them as JSON objects only), so
// this copies a map[string]any
// input's entries; a nil or non-object input seeds an empty context rather
// than failing the run, since a workflow with no payload is still valid.
func contextFromInput(input any) map[string]any {
	m, ok := input.(map[string]any)
	if !ok {
		return make(map[string]any)
	}
	ctx := make(map[string]any, len(m))
	for k, v := range m {
		ctx[k] = v
	}
	return ctx
}

// lastFailure returns the first StepResult with Success == false, or nil if
// every step in results succeeded. Since execution stops at the first
// failure, there is at most one.
func lastFailure(results []StepResult) *StepResult {
	for i := range results {
		if !results[i].Success {
			return &results[i]
		}
	}
	return nil
}
