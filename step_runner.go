package windlass

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Caller executes one HTTP call described by an ApiConfig. resolvedInput is
// the JSONata binding context available to the ApiConfig's header/query/body
// templates (httpcall.Caller satisfies this).
type Caller interface {
	Call(ctx context.Context, cfg ApiConfig, resolvedInput any) (any, error)
}

// Evaluator evaluates JSONata expressions and validates values against JSON
// Schema documents (expr.Evaluator satisfies this).
type Evaluator interface {
	Eval(expr string, input any) (any, error)
	ValidateSchema(schema []byte, value any) error
}

// stepRunner drives one Step against its ApiConfig, in DIRECT or LOOP mode.
// Grounded on oasis workflow_steps.go's executeForEach: a semaphore bounds
// concurrent iterations and the first iteration error cancels the rest, but
// results are written into a pre-sized slice by index rather than a shared
// context map, so LOOP output order never depends on completion order.
type stepRunner struct {
	caller  Caller
	eval    Evaluator
	tracer  Tracer
	metrics Metrics
}

func newStepRunner(caller Caller, eval Evaluator, tracer Tracer, metrics Metrics) *stepRunner {
	return &stepRunner{caller: caller, eval: eval, tracer: tracer, metrics: metrics}
}

// run binds the step's InputMapping against state, drives its ApiConfig
// DIRECT or LOOP, and binds the response(s) back through ResponseMapping.
// The returned StepResult.RawData/TransformedData is the raw value for
// DIRECT steps and an ordered []any for LOOP steps.
func (r *stepRunner) run(ctx context.Context, step Step, state any) StepResult {
	var span Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "step.run",
			StringAttr("step.id", step.ID),
			StringAttr("step.mode", string(step.mode())))
		defer span.End()
	}

	result := StepResult{StepID: step.ID}
	start := time.Now()
	if r.metrics != nil {
		defer func() {
			r.metrics.RecordStepExecution(ctx, step.mode(), result.Success, float64(time.Since(start).Milliseconds()))
		}()
	}

	if step.mode() == Loop {
		raw, transformed, iterReq, iterRun, err := r.runLoop(ctx, step, state)
		result.IterationsRequested = iterReq
		result.IterationsRun = iterRun
		if err != nil {
			if span != nil {
				span.Error(err)
			}
			result.Error = err.Error()
			return result
		}
		result.Success = true
		result.RawData = raw
		result.TransformedData = transformed
		return result
	}

	raw, transformed, err := r.runDirect(ctx, step, state)
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.RawData = raw
	result.TransformedData = transformed
	return result
}

func (r *stepRunner) runDirect(ctx context.Context, step Step, state any) (any, any, error) {
	input, err := r.eval.Eval(step.inputExpr(), state)
	if err != nil {
		return nil, nil, &BindingError{StepID: step.ID, Err: err}
	}

	raw, err := r.caller.Call(ctx, step.ApiConfig, input)
	if err != nil {
		return nil, nil, err
	}

	responseCtx := withLoopFields(state, raw)
	transformed, err := r.eval.Eval(step.responseExpr(), responseCtx)
	if err != nil {
		return raw, nil, &BindingError{StepID: step.ID, Err: err}
	}
	return raw, transformed, nil
}

// withLoopFields merges loopValue/loopIndex from a LOOP iteration's state
// into raw before responseMapping evaluates, so a responseMapping (or, when
// omitted, the default "$" passthrough) can carry the iteration's loop
// variable into the step's transformedData — required for a later
// finalTransform to reconstruct {breed: loopValue, image: ...} per element
// (spec.md §8 scenario 1), since loopValue otherwise only exists for the
// duration of that one iteration. A DIRECT state (no loopValue/loopIndex
// keys) passes raw through unchanged.
func withLoopFields(state any, raw any) any {
	m, ok := state.(map[string]any)
	if !ok {
		return raw
	}
	loopValue, hasLoopValue := m["loopValue"]
	loopIndex, hasLoopIndex := m["loopIndex"]
	if !hasLoopValue && !hasLoopIndex {
		return raw
	}

	merged := make(map[string]any)
	if rm, ok := raw.(map[string]any); ok {
		for k, v := range rm {
			merged[k] = v
		}
	} else if raw != nil {
		merged["value"] = raw
	}
	if hasLoopValue {
		merged["loopValue"] = loopValue
	}
	if hasLoopIndex {
		merged["loopIndex"] = loopIndex
	}
	return merged
}

// runLoop evaluates LoopSelector against state to get the iteration
// collection, truncates it to LoopMaxIters when set, then runs one
// DIRECT-style call per item with bounded concurrency. Each iteration's
// inputMapping sees iterationContext(state, item, index) — the outer
// accumulated context plus loopValue/loopIndex (spec.md §4.4 step 3) — not
// the bare item, so the inputMapping can still reach the original payload
// and any prior step's output from inside the loop. A selected value that
// is not an array runs as a one-item collection, and null as an empty one.
// The
// first iteration error cancels in-flight iterations and is returned;
// iterations already written to the result slices before cancellation are
// discarded along with it, since a failed LOOP step has no partial success
// (spec invariant).
func (r *stepRunner) runLoop(ctx context.Context, step Step, state any) (raw []any, transformed []any, requested, run int, err error) {
	selected, err := r.eval.Eval(step.LoopSelector, state)
	if err != nil {
		return nil, nil, 0, 0, &BindingError{StepID: step.ID, Err: fmt.Errorf("loopSelector: %w", err)}
	}

	items, ok := selected.([]any)
	if !ok {
		if selected == nil {
			items = []any{}
		} else {
			items = []any{selected}
		}
	}

	requested = len(items)
	run = requested
	if step.LoopMaxIters > 0 && run > step.LoopMaxIters {
		run = step.LoopMaxIters
	}
	items = items[:run]

	if run == 0 {
		return []any{}, []any{}, requested, run, nil
	}

	concurrency := step.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	rawResults := make([]any, run)
	transformedResults := make([]any, run)

	iterCtx, iterCancel := context.WithCancel(ctx)
	defer iterCancel()

	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	for i, item := range items {
		if err := sem.Acquire(iterCtx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(idx int, elem any) {
			defer wg.Done()
			defer sem.Release(1)

			if iterCtx.Err() != nil {
				return
			}

			rawItem, transformedItem, err := r.runDirect(iterCtx, step, iterationContext(state, elem, idx))
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				iterCancel()
				return
			}
			rawResults[idx] = rawItem
			transformedResults[idx] = transformedItem
		}(i, item)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, nil, requested, run, firstErr
	}
	return rawResults, transformedResults, requested, run, nil
}

// iterationContext builds one LOOP iteration's input-mapping context:
// ctx' = {...ctx, loopValue: item, loopIndex: k} (spec.md §4.4 step 3). A
// non-object outer state seeds an empty base rather than failing, since
// loopValue/loopIndex alone are still a valid context.
func iterationContext(state any, item any, index int) map[string]any {
	base, _ := state.(map[string]any)
	ctx := make(map[string]any, len(base)+2)
	for k, v := range base {
		ctx[k] = v
	}
	ctx["loopValue"] = item
	ctx["loopIndex"] = index
	return ctx
}
