package windlass

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/windlass-dev/windlass/expr"
)

// recordingCaller captures every resolvedInput it's called with and returns
// values keyed by call order, so tests can assert on what each iteration's
// inputMapping actually resolved to.
type recordingCaller struct {
	calls int32
	fn    func(resolvedInput any) (any, error)
}

func (c *recordingCaller) Call(_ context.Context, _ ApiConfig, resolvedInput any) (any, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.fn(resolvedInput)
}

// TestRunLoopInputMappingSeesLoopValueAndLoopIndex confirms each LOOP
// iteration's inputMapping evaluates against {...state, loopValue, loopIndex}
// (spec.md §4.4 step 3), not the bare item, by having inputMapping itself
// reference both injected fields plus a field from the outer state.
func TestRunLoopInputMappingSeesLoopValueAndLoopIndex(t *testing.T) {
	caller := &recordingCaller{fn: func(resolvedInput any) (any, error) {
		return resolvedInput, nil
	}}
	runner := newStepRunner(caller, expr.New(), nil, nil)

	step := Step{
		ID:            "each",
		ApiConfig:     ApiConfig{ID: "each", URLHost: "https://example.com"},
		ExecutionMode: Loop,
		LoopSelector:  "items",
		InputMapping:  `{"value": loopValue, "index": loopIndex, "tenantTag": tenantTag}`,
	}
	state := map[string]any{
		"items":     []any{"a", "b", "c"},
		"tenantTag": "acme",
	}

	result := runner.run(context.Background(), step, state)
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	items, ok := result.TransformedData.([]any)
	if !ok || len(items) != 3 {
		t.Fatalf("expected 3-element []any, got %T: %v", result.TransformedData, result.TransformedData)
	}
	for i, want := range []string{"a", "b", "c"} {
		entry, ok := items[i].(map[string]any)
		if !ok {
			t.Fatalf("item %d: expected map, got %T", i, items[i])
		}
		if entry["value"] != want {
			t.Errorf("item %d: value = %v, want %q", i, entry["value"], want)
		}
		if fmt.Sprintf("%v", entry["index"]) != fmt.Sprintf("%d", i) {
			t.Errorf("item %d: index = %v, want %d", i, entry["index"], i)
		}
		if entry["tenantTag"] != "acme" {
			t.Errorf("item %d: tenantTag = %v, want outer state's value to be reachable", i, entry["tenantTag"])
		}
	}
}

// TestRunLoopPreservesOrderUnderConcurrency drives many iterations with
// concurrency > 1 and verifies the result slice stays index-ordered despite
// each iteration's handler completing in reverse/scrambled order.
func TestRunLoopPreservesOrderUnderConcurrency(t *testing.T) {
	caller := &recordingCaller{fn: func(resolvedInput any) (any, error) {
		in := resolvedInput.(map[string]any)
		// Identity inputMapping ("$") passes the iteration context through
		// without re-typing it, so loopIndex stays a Go int here.
		return fmt.Sprintf("item-%v", in["loopIndex"]), nil
	}}
	runner := newStepRunner(caller, expr.New(), nil, nil)

	n := 20
	items := make([]any, n)
	for i := range items {
		items[i] = i
	}
	step := Step{
		ID:            "each",
		ApiConfig:     ApiConfig{ID: "each", URLHost: "https://example.com"},
		ExecutionMode: Loop,
		LoopSelector:  "items",
		Concurrency:   8,
	}
	state := map[string]any{"items": items}

	result := runner.run(context.Background(), step, state)
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	got, ok := result.TransformedData.([]any)
	if !ok || len(got) != n {
		t.Fatalf("expected %d-element []any, got %T: %v", n, result.TransformedData, result.TransformedData)
	}
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("item-%d", i)
		if got[i] != want {
			t.Errorf("index %d: got %v, want %q", i, got[i], want)
		}
	}
	if caller.calls != int32(n) {
		t.Errorf("expected %d calls, got %d", n, caller.calls)
	}
}

// TestRunLoopOverEmptySelectorSucceeds covers the boundary where
// loopSelector resolves to an empty array: the step still succeeds, with
// zero iterations requested/run, rather than an error.
func TestRunLoopOverEmptySelectorSucceeds(t *testing.T) {
	caller := &recordingCaller{fn: func(any) (any, error) { return nil, fmt.Errorf("should never be called") }}
	runner := newStepRunner(caller, expr.New(), nil, nil)

	step := Step{
		ID:            "each",
		ApiConfig:     ApiConfig{ID: "each", URLHost: "https://example.com"},
		ExecutionMode: Loop,
		LoopSelector:  "$",
	}
	result := runner.run(context.Background(), step, []any{})

	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if result.IterationsRequested != 0 || result.IterationsRun != 0 {
		t.Errorf("expected 0 iterations requested/run, got requested=%d run=%d", result.IterationsRequested, result.IterationsRun)
	}
	if caller.calls != 0 {
		t.Errorf("expected caller never invoked, got %d calls", caller.calls)
	}
}

// TestRunLoopMaxItersTruncatesRequestedVsRun confirms loopMaxIters bounds how
// many items actually run while IterationsRequested still reports the full
// selector length (spec invariant 3).
func TestRunLoopMaxItersTruncatesRequestedVsRun(t *testing.T) {
	caller := &recordingCaller{fn: func(any) (any, error) { return "ok", nil }}
	runner := newStepRunner(caller, expr.New(), nil, nil)

	step := Step{
		ID:            "each",
		ApiConfig:     ApiConfig{ID: "each", URLHost: "https://example.com"},
		ExecutionMode: Loop,
		LoopSelector:  "items",
		LoopMaxIters:  2,
	}
	state := map[string]any{"items": []any{"a", "b", "c", "d"}}

	result := runner.run(context.Background(), step, state)
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if result.IterationsRequested != 4 {
		t.Errorf("IterationsRequested = %d, want 4", result.IterationsRequested)
	}
	if result.IterationsRun != 2 {
		t.Errorf("IterationsRun = %d, want 2", result.IterationsRun)
	}
	if caller.calls != 2 {
		t.Errorf("expected 2 calls, got %d", caller.calls)
	}
}

// TestRunLoopOneIterationFailureFailsWholeStep confirms a single iteration
// error fails the whole LOOP step rather than returning a partial result.
func TestRunLoopOneIterationFailureFailsWholeStep(t *testing.T) {
	caller := &recordingCaller{fn: func(resolvedInput any) (any, error) {
		in := resolvedInput.(map[string]any)
		if in["loopValue"] == "bad" {
			return nil, fmt.Errorf("simulated failure")
		}
		return "ok", nil
	}}
	runner := newStepRunner(caller, expr.New(), nil, nil)

	step := Step{
		ID:            "each",
		ApiConfig:     ApiConfig{ID: "each", URLHost: "https://example.com"},
		ExecutionMode: Loop,
		LoopSelector:  "items",
		Concurrency:   1,
	}
	state := map[string]any{"items": []any{"good", "bad", "good"}}

	result := runner.run(context.Background(), step, state)
	if result.Success {
		t.Fatalf("expected failure")
	}
	if result.Error == "" {
		t.Error("expected a non-empty error message")
	}
}

// TestRunDirectResponseMappingSeesLoopFieldsInsideLoop confirms
// responseMapping can reach loopValue/loopIndex when the step runs inside a
// LOOP (via withLoopFields), matching the default "$" passthrough behavior
// spec.md §8 scenario 1's finalTransform depends on.
func TestRunDirectResponseMappingSeesLoopFieldsInsideLoop(t *testing.T) {
	caller := &recordingCaller{fn: func(any) (any, error) {
		return map[string]any{"message": "payload"}, nil
	}}
	runner := newStepRunner(caller, expr.New(), nil, nil)

	step := Step{
		ID:            "each",
		ApiConfig:     ApiConfig{ID: "each", URLHost: "https://example.com"},
		ExecutionMode: Loop,
		LoopSelector:  "items",
	}
	state := map[string]any{"items": []any{"x"}}

	result := runner.run(context.Background(), step, state)
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	items := result.TransformedData.([]any)
	entry := items[0].(map[string]any)
	if entry["message"] != "payload" {
		t.Errorf("expected message field preserved, got %v", entry)
	}
	if entry["loopValue"] != "x" {
		t.Errorf("expected loopValue bound in responseMapping context, got %v", entry["loopValue"])
	}
	if fmt.Sprintf("%v", entry["loopIndex"]) != "0" {
		t.Errorf("expected loopIndex 0 bound in responseMapping context, got %v", entry["loopIndex"])
	}
}

// TestRunDirectDoesNotLeakLoopFieldsOutsideLoop confirms a top-level DIRECT
// step (state without loopValue/loopIndex keys) passes the raw response
// through unchanged — withLoopFields must not invent loop fields that were
// never bound.
func TestRunDirectDoesNotLeakLoopFieldsOutsideLoop(t *testing.T) {
	caller := &recordingCaller{fn: func(any) (any, error) {
		return map[string]any{"message": "payload"}, nil
	}}
	runner := newStepRunner(caller, expr.New(), nil, nil)

	step := Step{ID: "fetch", ApiConfig: ApiConfig{ID: "fetch", URLHost: "https://example.com"}}
	result := runner.run(context.Background(), step, map[string]any{"seed": "s"})

	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	data := result.TransformedData.(map[string]any)
	if _, ok := data["loopValue"]; ok {
		t.Errorf("DIRECT step result should not carry loopValue, got %v", data)
	}
	if _, ok := data["loopIndex"]; ok {
		t.Errorf("DIRECT step result should not carry loopIndex, got %v", data)
	}
}
