package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/windlass-dev/windlass"
	"github.com/windlass-dev/windlass/expr"
	"github.com/windlass-dev/windlass/store/memory"
)

// stubCaller returns a canned value for every Call, so façade/executor
// tests exercise workflow wiring without a real HTTP round trip.
type stubCaller struct {
	response any
	err      error
}

func (s *stubCaller) Call(ctx context.Context, cfg windlass.ApiConfig, resolvedInput any) (any, error) {
	return s.response, s.err
}

func testFacade(t *testing.T, caller windlass.Caller) *Facade {
	t.Helper()
	repo := memory.New()
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	eval := expr.New()
	executor := windlass.NewExecutor(caller, eval, nil)
	return New(repo, executor)
}

func sampleWorkflow(id string) windlass.Workflow {
	return windlass.Workflow{
		ID: id,
		Steps: []windlass.Step{
			{ID: "fetch", ApiConfig: windlass.ApiConfig{URLHost: "https://example.com", Method: "GET"}},
		},
	}
}

func TestUpsertAndGetWorkflow(t *testing.T) {
	f := testFacade(t, &stubCaller{response: map[string]any{"ok": true}})
	ctx := context.Background()

	wf, err := f.UpsertWorkflow(ctx, "acme", sampleWorkflow("wf-1"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if wf.CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be stamped")
	}

	got, err := f.GetWorkflow(ctx, "acme", "wf-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "wf-1" {
		t.Fatalf("expected wf-1, got %s", got.ID)
	}

	if _, err := f.GetWorkflow(ctx, "other-tenant", "wf-1"); err == nil {
		t.Fatalf("expected cross-tenant get to fail")
	}
}

func TestUpsertWorkflowRejectsDuplicateStepIds(t *testing.T) {
	f := testFacade(t, &stubCaller{})
	wf := sampleWorkflow("wf-dup")
	wf.Steps = append(wf.Steps, wf.Steps[0])

	_, err := f.UpsertWorkflow(context.Background(), "acme", wf)
	if err == nil {
		t.Fatalf("expected duplicate step id to be rejected")
	}
	if _, ok := err.(*windlass.ValidationError); !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
}

func TestUpsertWorkflowRejectsEmptySteps(t *testing.T) {
	f := testFacade(t, &stubCaller{})
	wf := windlass.Workflow{ID: "wf-empty"}

	_, err := f.UpsertWorkflow(context.Background(), "acme", wf)
	if err == nil {
		t.Fatalf("expected empty steps to be rejected")
	}
}

func TestUpdateApiConfigId(t *testing.T) {
	f := testFacade(t, &stubCaller{})
	ctx := context.Background()

	_, err := f.UpsertApi(ctx, "acme", windlass.ApiConfig{ID: "api-old", URLHost: "https://example.com", Method: "GET"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	renamed, err := f.UpdateApiConfigId(ctx, "acme", "api-old", "api-new")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.ID != "api-new" {
		t.Fatalf("expected api-new, got %s", renamed.ID)
	}

	if _, err := f.GetApi(ctx, "acme", "api-old"); err == nil {
		t.Fatalf("expected old id to be gone")
	}
	if _, err := f.GetApi(ctx, "acme", "api-new"); err != nil {
		t.Fatalf("expected new id to resolve: %v", err)
	}
}

func TestUpdateApiConfigIdRejectsExistingNewId(t *testing.T) {
	f := testFacade(t, &stubCaller{})
	ctx := context.Background()

	f.UpsertApi(ctx, "acme", windlass.ApiConfig{ID: "a", URLHost: "https://example.com", Method: "GET"})
	f.UpsertApi(ctx, "acme", windlass.ApiConfig{ID: "b", URLHost: "https://example.com", Method: "GET"})

	if _, err := f.UpdateApiConfigId(ctx, "acme", "a", "b"); err == nil {
		t.Fatalf("expected rename onto an existing id to fail")
	}
}

func TestExecuteWorkflowByIdPersistsRun(t *testing.T) {
	f := testFacade(t, &stubCaller{response: map[string]any{"status": "ok"}})
	ctx := context.Background()

	if _, err := f.UpsertWorkflow(ctx, "acme", sampleWorkflow("wf-exec")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	run, err := f.ExecuteWorkflow(ctx, "acme", ExecuteWorkflowRequest{
		WorkflowID: "wf-exec",
		Options:    windlass.ExecuteOptions{Persist: true},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !run.Success {
		t.Fatalf("expected success, got error %q", run.Error)
	}

	persisted, err := f.GetRun(ctx, "acme", run.ID)
	if err != nil {
		t.Fatalf("expected run to be persisted: %v", err)
	}
	if persisted.ConfigID != "wf-exec" {
		t.Fatalf("expected configId wf-exec, got %s", persisted.ConfigID)
	}
}

func TestExecuteWorkflowAdHocInputIsNotPersistedAsAWorkflow(t *testing.T) {
	f := testFacade(t, &stubCaller{response: map[string]any{"status": "ok"}})
	ctx := context.Background()

	wf := sampleWorkflow("ad-hoc")
	run, err := f.ExecuteWorkflow(ctx, "acme", ExecuteWorkflowRequest{Input: &wf})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !run.Success {
		t.Fatalf("expected success, got error %q", run.Error)
	}
	if _, err := f.GetWorkflow(ctx, "acme", "ad-hoc"); err == nil {
		t.Fatalf("ad hoc input must not be implicitly saved")
	}
}

func TestExecuteWorkflowRequiresInputOrWorkflowId(t *testing.T) {
	f := testFacade(t, &stubCaller{})
	_, err := f.ExecuteWorkflow(context.Background(), "acme", ExecuteWorkflowRequest{})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestGenerateSchemaUsesCachedSample(t *testing.T) {
	f := testFacade(t, &stubCaller{response: map[string]any{"name": "acme", "count": float64(3)}})
	ctx := context.Background()

	if _, err := f.UpsertWorkflow(ctx, "acme", sampleWorkflow("wf-schema")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := f.ExecuteWorkflow(ctx, "acme", ExecuteWorkflowRequest{WorkflowID: "wf-schema"}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	schema, err := f.GenerateSchema(ctx, "acme", "wf-schema")
	if err != nil {
		t.Fatalf("generate schema: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(schema, &parsed); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if parsed["type"] != "object" {
		t.Fatalf("expected object schema, got %v", parsed)
	}
	props, ok := parsed["properties"].(map[string]any)
	if !ok || props["fetch"] == nil {
		t.Fatalf("expected schema inferred from the cached sample to describe step %q, got %v", "fetch", parsed)
	}
}

func TestGenerateSchemaWithoutSampleReturnsBareObject(t *testing.T) {
	f := testFacade(t, &stubCaller{})
	schema, err := f.GenerateSchema(context.Background(), "acme", "never-run")
	if err != nil {
		t.Fatalf("generate schema: %v", err)
	}
	if string(schema) != `{"type":"object"}` {
		t.Fatalf("expected bare object schema, got %s", schema)
	}
}

func TestGenerateInstructions(t *testing.T) {
	f := testFacade(t, &stubCaller{})
	ctx := context.Background()

	wf := sampleWorkflow("wf-instr")
	wf.Steps[0].ApiConfig.Instruction = "fetch the latest widgets"
	if _, err := f.UpsertWorkflow(ctx, "acme", wf); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	text, err := f.GenerateInstructions(ctx, "acme", "wf-instr")
	if err != nil {
		t.Fatalf("generate instructions: %v", err)
	}
	if text == "" {
		t.Fatalf("expected non-empty instructions")
	}
}

func TestBuildWorkflowWiresOneStepPerSystem(t *testing.T) {
	f := testFacade(t, &stubCaller{})
	wf, err := f.BuildWorkflow(context.Background(), BuildWorkflowRequest{
		Instruction: "wire two systems",
		Systems: []windlass.ApiConfig{
			{ID: "sys-a", URLHost: "https://a.example.com", Method: "GET"},
			{ID: "sys-b", URLHost: "https://b.example.com", Method: "GET"},
		},
	})
	if err != nil {
		t.Fatalf("build workflow: %v", err)
	}
	if len(wf.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(wf.Steps))
	}
	if wf.Steps[0].ID != "sys-a" || wf.Steps[1].ID != "sys-b" {
		t.Fatalf("expected steps in system order, got %+v", wf.Steps)
	}
}

func TestBuildWorkflowRejectsNoSystems(t *testing.T) {
	f := testFacade(t, &stubCaller{})
	if _, err := f.BuildWorkflow(context.Background(), BuildWorkflowRequest{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestListRunsFiltersByConfigId(t *testing.T) {
	f := testFacade(t, &stubCaller{response: map[string]any{"ok": true}})
	ctx := context.Background()

	f.UpsertWorkflow(ctx, "acme", sampleWorkflow("wf-a"))
	f.UpsertWorkflow(ctx, "acme", sampleWorkflow("wf-b"))
	f.ExecuteWorkflow(ctx, "acme", ExecuteWorkflowRequest{WorkflowID: "wf-a", Options: windlass.ExecuteOptions{Persist: true}})
	f.ExecuteWorkflow(ctx, "acme", ExecuteWorkflowRequest{WorkflowID: "wf-b", Options: windlass.ExecuteOptions{Persist: true}})

	items, total, err := f.ListRuns(ctx, "acme", "wf-a", 10, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("expected exactly 1 run for wf-a, got total=%d len=%d", total, len(items))
	}
	if items[0].ConfigID != "wf-a" {
		t.Fatalf("expected configId wf-a, got %s", items[0].ConfigID)
	}
}

func TestLogsSubscriptionReceivesExecutionEvents(t *testing.T) {
	f := testFacade(t, &stubCaller{response: map[string]any{"ok": true}})
	ctx := context.Background()
	f.UpsertWorkflow(ctx, "acme", sampleWorkflow("wf-logs"))

	ch, unsubscribe := f.Subscribe()
	defer unsubscribe()

	if _, err := f.ExecuteWorkflow(ctx, "acme", ExecuteWorkflowRequest{WorkflowID: "wf-logs"}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	select {
	case entry := <-ch:
		if entry.Message == "" && entry.StepID == "" {
			t.Fatalf("expected a non-empty log entry")
		}
	default:
		t.Fatalf("expected at least one buffered log entry")
	}
}
