package windlass

import (
	"encoding/json"
	"time"
)

// --- Workflow definition types (persisted form, see SPEC_FULL.md §6) ---

// ExecutionMode selects how a Step is driven against its ApiConfig.
type ExecutionMode string

const (
	// Direct runs the step's ApiConfig exactly once.
	Direct ExecutionMode = "DIRECT"
	// Loop runs the step's ApiConfig once per item produced by LoopSelector.
	Loop ExecutionMode = "LOOP"
)

// AuthType selects how ApiConfig injects credentials into a request.
type AuthType string

const (
	AuthNone       AuthType = "NONE"
	AuthHeader     AuthType = "HEADER"
	AuthQueryParam AuthType = "QUERY_PARAM"
	AuthOAuth2     AuthType = "OAUTH2"
)

// PaginationType selects how the HTTP Caller fetches multiple pages.
type PaginationType string

const (
	PaginationOffset   PaginationType = "OFFSET_BASED"
	PaginationPage     PaginationType = "PAGE_BASED"
	PaginationCursor   PaginationType = "CURSOR_BASED"
	PaginationDisabled PaginationType = "DISABLED"
)

// Pagination configures multi-page fetching for an ApiConfig.
type Pagination struct {
	Type       PaginationType `json:"type"`
	PageSize   int            `json:"pageSize,omitempty"`
	CursorPath string         `json:"cursorPath,omitempty"`
}

// ApiConfig describes one HTTP endpoint: how to build a request against it
// and how to decode the response.
type ApiConfig struct {
	ID             string            `json:"id,omitempty"`
	URLHost        string            `json:"urlHost"`
	URLPath        string            `json:"urlPath,omitempty"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers,omitempty"`
	QueryParams    map[string]any    `json:"queryParams,omitempty"`
	Body           string            `json:"body,omitempty"`
	Authentication AuthType          `json:"authentication,omitempty"`
	Pagination     *Pagination       `json:"pagination,omitempty"`
	DataPath       string            `json:"dataPath,omitempty"`
	// Instruction is advisory free text describing the endpoint's purpose;
	// it is never interpreted by the executor (read only by the advisory
	// generateInstructions façade operation).
	Instruction string `json:"instruction,omitempty"`
	Timeout     time.Duration `json:"-"`
	Retries     int           `json:"-"`
	RetryDelay  time.Duration `json:"-"`
}

// Step is one unit of work inside a Workflow.
type Step struct {
	ID              string        `json:"id"`
	ApiConfig       ApiConfig     `json:"apiConfig"`
	ExecutionMode   ExecutionMode `json:"executionMode,omitempty"`
	LoopSelector    string        `json:"loopSelector,omitempty"`
	LoopMaxIters    int           `json:"loopMaxIters,omitempty"`
	InputMapping    string        `json:"inputMapping,omitempty"`
	ResponseMapping string        `json:"responseMapping,omitempty"`
	// Concurrency bounds parallel LOOP iterations; 0 selects the default of 4.
	Concurrency int `json:"concurrency,omitempty"`
}

// mode returns the step's effective execution mode (DIRECT is the default).
func (s *Step) mode() ExecutionMode {
	if s.ExecutionMode == "" {
		return Direct
	}
	return s.ExecutionMode
}

func (s *Step) inputExpr() string {
	if s.InputMapping == "" {
		return "$"
	}
	return s.InputMapping
}

func (s *Step) responseExpr() string {
	if s.ResponseMapping == "" {
		return "$"
	}
	return s.ResponseMapping
}

// Workflow is a named, versioned unit of execution.
type Workflow struct {
	ID             string          `json:"id"`
	Steps          []Step          `json:"steps"`
	FinalTransform string          `json:"finalTransform,omitempty"`
	ResponseSchema json.RawMessage `json:"responseSchema,omitempty"`
	CreatedAt      time.Time       `json:"createdAt,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt,omitempty"`
}

func (w *Workflow) finalExpr() string {
	if w.FinalTransform == "" {
		return "$"
	}
	return w.FinalTransform
}

// EntityID / WithTimestamps implement the Entity[T] contract (store.go).
func (w Workflow) EntityID() string   { return w.ID }
func (w Workflow) Created() time.Time { return w.CreatedAt }
func (w Workflow) WithTimestamps(created, updated time.Time) Workflow {
	w.CreatedAt, w.UpdatedAt = created, updated
	return w
}

// ApiConfig has no timestamps of its own in the wire format (SPEC_FULL.md
// §6); WithTimestamps is a no-op so it can still satisfy Entity[T].
func (a ApiConfig) EntityID() string                                   { return a.ID }
func (a ApiConfig) Created() time.Time                                 { return time.Time{} }
func (a ApiConfig) WithTimestamps(created, updated time.Time) ApiConfig { return a }

// ExtractConfig and TransformConfig are opaque payload kinds stored under
// the generic entity contract (SPEC_FULL.md §3); the engine never executes
// them — their single-step execution modes are out of scope.
type ExtractConfig struct {
	ID          string          `json:"id"`
	Instruction string          `json:"instruction,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	CreatedAt   time.Time       `json:"createdAt,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt,omitempty"`
}

func (e ExtractConfig) EntityID() string   { return e.ID }
func (e ExtractConfig) Created() time.Time { return e.CreatedAt }
func (e ExtractConfig) WithTimestamps(created, updated time.Time) ExtractConfig {
	e.CreatedAt, e.UpdatedAt = created, updated
	return e
}

type TransformConfig struct {
	ID          string          `json:"id"`
	Instruction string          `json:"instruction,omitempty"`
	Expression  string          `json:"responseMapping,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	CreatedAt   time.Time       `json:"createdAt,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt,omitempty"`
}

func (t TransformConfig) EntityID() string   { return t.ID }
func (t TransformConfig) Created() time.Time { return t.CreatedAt }
func (t TransformConfig) WithTimestamps(created, updated time.Time) TransformConfig {
	t.CreatedAt, t.UpdatedAt = created, updated
	return t
}

// --- Execution results ---

// StepResult holds the outcome of driving one Step.
type StepResult struct {
	StepID          string `json:"stepId"`
	Success         bool   `json:"success"`
	RawData         any    `json:"rawData,omitempty"`
	TransformedData any    `json:"transformedData,omitempty"`
	Error           string `json:"error,omitempty"`
	// IterationsRequested/IterationsRun make loopMaxIters truncation
	// observable in step metadata, per the spec's invariant 3.
	IterationsRequested int `json:"iterationsRequested,omitempty"`
	IterationsRun       int `json:"iterationsRun,omitempty"`
}

// RunResult is the immutable outcome of executing one Workflow.
type RunResult struct {
	ID           string       `json:"id"`
	Success      bool         `json:"success"`
	Data         any          `json:"data"`
	Error        string       `json:"error,omitempty"`
	StartedAt    time.Time    `json:"startedAt"`
	CompletedAt  time.Time    `json:"completedAt"`
	StepResults  []StepResult `json:"stepResults"`
	Config       Workflow     `json:"config"`
	ConfigID     string       `json:"configId,omitempty"`
	Tenant       string       `json:"-"`
}

// EntityID returns the run's id. RunResult does not satisfy Entity[T] (it
// has no WithTimestamps or Created) because its StartedAt/CompletedAt are
// execution-assigned, not store-assigned — RunResultStore (store.go) stores
// a run once via Create and never rewrites them.
func (r RunResult) EntityID() string { return r.ID }

// TenantInfo is administrative metadata about a tenant.
type TenantInfo struct {
	Email             string `json:"email,omitempty"`
	EmailEntrySkipped bool   `json:"emailEntrySkipped"`
}

// CacheMode selects how the HTTP Caller and façade consult the shared
// response cache during a run.
type CacheMode string

const (
	CacheEnabled   CacheMode = "ENABLED"
	CacheReadonly  CacheMode = "READONLY"
	CacheWriteonly CacheMode = "WRITEONLY"
	CacheDisabled  CacheMode = "DISABLED"
)

// ExecuteOptions configures one workflow execution (façade executeWorkflow).
type ExecuteOptions struct {
	CacheMode CacheMode     `json:"cacheMode,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	Persist   bool          `json:"persist,omitempty"`
}

// LogEntry is one record in the façade's "logs" subscription stream.
type LogEntry struct {
	RunID     string    `json:"runId"`
	StepID    string    `json:"stepId,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
