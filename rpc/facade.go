// Package rpc implements the workflow engine's façade operations:
// one Go method per operation named in SPEC_FULL.md §4.6, backed by a
// windlass.Repository and windlass.Executor. http.go re-transports the same
// operations over JSON/HTTP using a dispatch table, following the teacher's
// mcp/server.go method-name-to-handler routing but over HTTP instead of
// stdio JSON-RPC.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/windlass-dev/windlass"
)

// Option configures a Facade.
type Option func(*Facade)

// WithLogger overrides the Facade's logger (default discards everything).
func WithLogger(l *slog.Logger) Option {
	return func(f *Facade) { f.logger = l }
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Facade is the single entry point every transport (HTTP, tests, a future
// CLI) drives façade operations through.
type Facade struct {
	repo     *windlass.Repository
	executor *windlass.Executor
	logger   *slog.Logger

	broker *logBroker

	samplesMu sync.Mutex
	samples   map[sampleKey]any
}

type sampleKey struct {
	tenant     string
	workflowID string
}

// New builds a Facade over repo and executor. repo.Init must already have
// been called by the caller (cmd/windlass-server does this once at startup).
func New(repo *windlass.Repository, executor *windlass.Executor, opts ...Option) *Facade {
	f := &Facade{
		repo:     repo,
		executor: executor,
		logger:   nopLogger,
		broker:   newLogBroker(),
		samples:  make(map[sampleKey]any),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// --- Workflow CRUD ---

// GetWorkflow returns the workflow visible to tenant with the given id.
func (f *Facade) GetWorkflow(ctx context.Context, tenant, id string) (windlass.Workflow, error) {
	id, err := normalizeID("id", id)
	if err != nil {
		return windlass.Workflow{}, err
	}
	return f.repo.Workflows.Get(ctx, tenant, id)
}

// ListWorkflows returns workflows visible to tenant, id-ordered, paginated.
func (f *Facade) ListWorkflows(ctx context.Context, tenant string, limit, offset int) ([]windlass.Workflow, int, error) {
	return f.repo.Workflows.List(ctx, tenant, limit, offset)
}

// UpsertWorkflow validates and persists wf under tenant.
func (f *Facade) UpsertWorkflow(ctx context.Context, tenant string, wf windlass.Workflow) (windlass.Workflow, error) {
	if err := validateWorkflow(&wf); err != nil {
		return windlass.Workflow{}, err
	}
	return f.repo.Workflows.Upsert(ctx, tenant, wf)
}

// DeleteWorkflow removes a workflow by id. Deleting a non-existent id is
// not an error.
func (f *Facade) DeleteWorkflow(ctx context.Context, tenant, id string) error {
	id, err := normalizeID("id", id)
	if err != nil {
		return err
	}
	return f.repo.Workflows.Delete(ctx, tenant, id)
}

// --- ApiConfig CRUD ---

// GetApi returns the ApiConfig visible to tenant with the given id.
func (f *Facade) GetApi(ctx context.Context, tenant, id string) (windlass.ApiConfig, error) {
	id, err := normalizeID("id", id)
	if err != nil {
		return windlass.ApiConfig{}, err
	}
	return f.repo.Apis.Get(ctx, tenant, id)
}

// ListApis returns ApiConfigs visible to tenant, id-ordered, paginated.
func (f *Facade) ListApis(ctx context.Context, tenant string, limit, offset int) ([]windlass.ApiConfig, int, error) {
	return f.repo.Apis.List(ctx, tenant, limit, offset)
}

// UpsertApi validates and persists cfg under tenant.
func (f *Facade) UpsertApi(ctx context.Context, tenant string, cfg windlass.ApiConfig) (windlass.ApiConfig, error) {
	if err := validateApiConfig(&cfg); err != nil {
		return windlass.ApiConfig{}, err
	}
	return f.repo.Apis.Upsert(ctx, tenant, cfg)
}

// DeleteApi removes an ApiConfig by id.
func (f *Facade) DeleteApi(ctx context.Context, tenant, id string) error {
	id, err := normalizeID("id", id)
	if err != nil {
		return err
	}
	return f.repo.Apis.Delete(ctx, tenant, id)
}

// UpdateApiConfigId renames an ApiConfig's id. Steps embed a full ApiConfig
// copy rather than referencing one by id (types.go), so renaming never
// cascades into persisted Workflows.
func (f *Facade) UpdateApiConfigId(ctx context.Context, tenant, oldID, newID string) (windlass.ApiConfig, error) {
	oldID, err := normalizeID("oldId", oldID)
	if err != nil {
		return windlass.ApiConfig{}, err
	}
	newID, err = normalizeID("newId", newID)
	if err != nil {
		return windlass.ApiConfig{}, err
	}

	cfg, err := f.repo.Apis.Get(ctx, tenant, oldID)
	if err != nil {
		return windlass.ApiConfig{}, err
	}
	if _, err := f.repo.Apis.Get(ctx, tenant, newID); err == nil {
		return windlass.ApiConfig{}, &windlass.ValidationError{Field: "newId", Message: fmt.Sprintf("%q already exists", newID)}
	}

	cfg.ID = newID
	renamed, err := f.repo.Apis.Upsert(ctx, tenant, cfg)
	if err != nil {
		return windlass.ApiConfig{}, err
	}
	if err := f.repo.Apis.Delete(ctx, tenant, oldID); err != nil {
		return windlass.ApiConfig{}, err
	}
	return renamed, nil
}

// --- ExtractConfig / TransformConfig (upsert/delete only, per façade scope) ---

// UpsertExtract validates and persists an ExtractConfig under tenant.
func (f *Facade) UpsertExtract(ctx context.Context, tenant string, cfg windlass.ExtractConfig) (windlass.ExtractConfig, error) {
	id, err := normalizeID("id", cfg.ID)
	if err != nil {
		return windlass.ExtractConfig{}, err
	}
	cfg.ID = id
	return f.repo.Extracts.Upsert(ctx, tenant, cfg)
}

// DeleteExtract removes an ExtractConfig by id.
func (f *Facade) DeleteExtract(ctx context.Context, tenant, id string) error {
	id, err := normalizeID("id", id)
	if err != nil {
		return err
	}
	return f.repo.Extracts.Delete(ctx, tenant, id)
}

// UpsertTransform validates and persists a TransformConfig under tenant.
func (f *Facade) UpsertTransform(ctx context.Context, tenant string, cfg windlass.TransformConfig) (windlass.TransformConfig, error) {
	id, err := normalizeID("id", cfg.ID)
	if err != nil {
		return windlass.TransformConfig{}, err
	}
	cfg.ID = id
	return f.repo.Transforms.Upsert(ctx, tenant, cfg)
}

// DeleteTransform removes a TransformConfig by id.
func (f *Facade) DeleteTransform(ctx context.Context, tenant, id string) error {
	id, err := normalizeID("id", id)
	if err != nil {
		return err
	}
	return f.repo.Transforms.Delete(ctx, tenant, id)
}

// --- Runs ---

// GetRun returns a persisted RunResult visible to tenant.
func (f *Facade) GetRun(ctx context.Context, tenant, id string) (windlass.RunResult, error) {
	id, err := normalizeID("id", id)
	if err != nil {
		return windlass.RunResult{}, err
	}
	return f.repo.Runs.Get(ctx, tenant, id)
}

// ListRuns returns runs visible to tenant, optionally scoped to one
// workflow id (configID), id-ordered and paginated.
func (f *Facade) ListRuns(ctx context.Context, tenant, configID string, limit, offset int) ([]windlass.RunResult, int, error) {
	if configID == "" {
		return f.repo.Runs.List(ctx, tenant, limit, offset)
	}
	return f.repo.Runs.ListByConfig(ctx, tenant, configID, limit, offset)
}

// --- Tenant info ---

// GetTenantInfo returns administrative metadata for tenant.
func (f *Facade) GetTenantInfo(ctx context.Context, tenant string) (windlass.TenantInfo, error) {
	return f.repo.Tenants.GetTenantInfo(ctx, tenant)
}

// --- Execution ---

// ExecuteWorkflowRequest is the executeWorkflow operation's input: either
// Input (a full Workflow definition, run ad hoc and never persisted) or
// WorkflowID (a saved workflow, looked up by id) must be set, never both.
// Credentials is shallow-merged over Payload (credentials win on key
// collision) to form the input state step 0 sees, per spec.md §4.2's
// "input value and credentials" placeholder-substitution contract.
type ExecuteWorkflowRequest struct {
	Input       *windlass.Workflow     `json:"input,omitempty"`
	WorkflowID  string                 `json:"workflowId,omitempty"`
	Payload     map[string]any         `json:"payload,omitempty"`
	Credentials map[string]any         `json:"credentials,omitempty"`
	Options     windlass.ExecuteOptions `json:"options,omitempty"`
}

// ExecuteWorkflow resolves req to a Workflow, runs it, persists the
// RunResult when req.Options.Persist is set, and caches a successful run's
// output sample for the workflow's generateSchema stub.
func (f *Facade) ExecuteWorkflow(ctx context.Context, tenant string, req ExecuteWorkflowRequest) (windlass.RunResult, error) {
	wf, err := f.resolveWorkflow(ctx, tenant, req)
	if err != nil {
		return windlass.RunResult{}, err
	}

	input := mergeCredentials(req.Payload, req.Credentials)

	f.publishLog(windlass.LogEntry{Level: "info", Message: fmt.Sprintf("executing workflow %s", wf.ID)})
	run := f.executor.Execute(ctx, wf, tenant, input, req.Options)
	for _, sr := range run.StepResults {
		level := "info"
		if !sr.Success {
			level = "error"
		}
		f.publishLog(windlass.LogEntry{RunID: run.ID, StepID: sr.StepID, Level: level, Message: sr.Error})
	}

	if req.Options.Persist {
		if _, err := f.repo.Runs.Create(ctx, tenant, run); err != nil {
			// Archival failure never flips a successful run to failed
			// (SPEC_FULL.md §7): log and return the run unchanged.
			f.logger.Error("persist run failed", "run_id", run.ID, "error", err)
		}
	}

	if run.Success && wf.ID != "" {
		f.samplesMu.Lock()
		f.samples[sampleKey{tenant: tenant, workflowID: wf.ID}] = run.Data
		f.samplesMu.Unlock()
	}

	return run, nil
}

func (f *Facade) resolveWorkflow(ctx context.Context, tenant string, req ExecuteWorkflowRequest) (windlass.Workflow, error) {
	if req.Input != nil && req.WorkflowID != "" {
		return windlass.Workflow{}, &windlass.ValidationError{Field: "workflowId", Message: "input and workflowId are mutually exclusive"}
	}
	if req.Input != nil {
		wf := *req.Input
		if err := validateWorkflow(&wf); err != nil {
			return windlass.Workflow{}, err
		}
		return wf, nil
	}
	id, err := normalizeID("workflowId", req.WorkflowID)
	if err != nil {
		return windlass.Workflow{}, err
	}
	if id == "" {
		return windlass.Workflow{}, &windlass.ValidationError{Field: "workflowId", Message: "either input or workflowId is required"}
	}
	return f.repo.Workflows.Get(ctx, tenant, id)
}

// mergeCredentials shallow-merges credentials over payload, credentials
// winning on key collision, without mutating either map.
func mergeCredentials(payload, credentials map[string]any) map[string]any {
	merged := make(map[string]any, len(payload)+len(credentials))
	for k, v := range payload {
		merged[k] = v
	}
	for k, v := range credentials {
		merged[k] = v
	}
	return merged
}

// --- Advisory stubs (generateSchema, generateInstructions, buildWorkflow) ---
//
// These three operations are explicitly out of core scope (SPEC_FULL.md §2's
// "LLM-based instruction/schema generation" non-goal): no LLM or other
// external inference is wired in. Each derives a best-effort result from
// data already on hand (a cached execution sample, a workflow's stored
// ApiConfig.Instruction text, or the caller-supplied system list) rather
// than synthesizing anything.

// GenerateSchema derives a minimal JSON Schema skeleton from the most
// recent execution sample cached for (tenant, workflowId), per spec.md §9
// Open Question (b)'s tenant-scoped cache. Returns a bare object schema
// when no sample has been cached yet.
func (f *Facade) GenerateSchema(ctx context.Context, tenant, workflowID string) (json.RawMessage, error) {
	workflowID, err := normalizeID("workflowId", workflowID)
	if err != nil {
		return nil, err
	}

	f.samplesMu.Lock()
	sample, ok := f.samples[sampleKey{tenant: tenant, workflowID: workflowID}]
	f.samplesMu.Unlock()
	if !ok {
		return json.RawMessage(`{"type":"object"}`), nil
	}

	schema := inferSchema(sample)
	out, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal inferred schema: %w", err)
	}
	return out, nil
}

// GenerateInstructions builds a deterministic textual summary of a saved
// workflow from its steps' ApiConfig.Instruction fields.
func (f *Facade) GenerateInstructions(ctx context.Context, tenant, workflowID string) (string, error) {
	workflowID, err := normalizeID("workflowId", workflowID)
	if err != nil {
		return "", err
	}
	wf, err := f.repo.Workflows.Get(ctx, tenant, workflowID)
	if err != nil {
		return "", err
	}

	if len(wf.Steps) == 0 {
		return fmt.Sprintf("workflow %s has no steps", wf.ID), nil
	}

	out := fmt.Sprintf("workflow %s runs %d step(s):\n", wf.ID, len(wf.Steps))
	for _, s := range wf.Steps {
		instruction := s.ApiConfig.Instruction
		if instruction == "" {
			instruction = fmt.Sprintf("%s %s", s.ApiConfig.Method, s.ApiConfig.URLPath)
		}
		out += fmt.Sprintf("- %s (%s): %s\n", s.ID, s.ExecutionMode, instruction)
	}
	return out, nil
}

// BuildWorkflowRequest is buildWorkflow's input: a free-text instruction
// (advisory only, never parsed) plus the ApiConfigs ("systems") to wire
// into one step each, and an optional response schema to attach.
type BuildWorkflowRequest struct {
	Instruction string               `json:"instruction"`
	Systems     []windlass.ApiConfig `json:"systems"`
	Schema      json.RawMessage      `json:"schema,omitempty"`
}

// BuildWorkflow assembles one DIRECT step per system, in the order given,
// and is never persisted by this call (the caller upserts it separately if
// it wants to keep the result). Advisory stub, out of core scope.
func (f *Facade) BuildWorkflow(ctx context.Context, req BuildWorkflowRequest) (windlass.Workflow, error) {
	if len(req.Systems) == 0 {
		return windlass.Workflow{}, &windlass.ValidationError{Field: "systems", Message: "at least one system is required"}
	}

	steps := make([]windlass.Step, 0, len(req.Systems))
	seen := make(map[string]bool, len(req.Systems))
	for i, sys := range req.Systems {
		id := sys.ID
		if id == "" {
			id = fmt.Sprintf("step-%d", i+1)
		}
		for seen[id] {
			id = id + "-2"
		}
		seen[id] = true
		steps = append(steps, windlass.Step{ID: id, ApiConfig: sys})
	}

	return windlass.Workflow{
		Steps:          steps,
		ResponseSchema: req.Schema,
	}, nil
}

// inferSchema derives a minimal JSON-Schema-shaped map from a decoded JSON
// value's runtime type. Object keys are sorted for deterministic output.
func inferSchema(v any) map[string]any {
	switch val := v.(type) {
	case map[string]any:
		props := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			props[k] = inferSchema(val[k])
		}
		return map[string]any{"type": "object", "properties": props}
	case []any:
		if len(val) == 0 {
			return map[string]any{"type": "array"}
		}
		return map[string]any{"type": "array", "items": inferSchema(val[0])}
	case string:
		return map[string]any{"type": "string"}
	case bool:
		return map[string]any{"type": "boolean"}
	case float64:
		return map[string]any{"type": "number"}
	case nil:
		return map[string]any{"type": "null"}
	default:
		return map[string]any{"type": "string"}
	}
}
