package windlass

import "context"

// Metrics receives execution measurements from the executor, step runner,
// and HTTP caller. A nil Metrics is valid everywhere it's accepted — the
// recording call is skipped, mirroring Tracer's optional-span convention
// (tracer.go).
type Metrics interface {
	RecordWorkflowExecution(ctx context.Context, success bool, durationMs float64)
	RecordStepExecution(ctx context.Context, mode ExecutionMode, success bool, durationMs float64)
	RecordHTTPCall(ctx context.Context, method string, status int, durationMs float64)
}
