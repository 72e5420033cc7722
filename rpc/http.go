package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/windlass-dev/windlass"
)

// operationFunc is one façade operation re-transported over HTTP: decode
// the POST body, call the Facade, return a JSON-encodable result or an
// error. tenant comes from the request's auth middleware, never the body.
type operationFunc func(f *Facade, r *http.Request, tenant string, body []byte) (any, error)

// operations is the dispatch table backing POST /rpc/{operation},
// following the teacher's mcp/server.go dispatch() switch but keyed by URL
// path segment instead of a JSON-RPC "method" field.
var operations = map[string]operationFunc{
	"getWorkflow":           opGetWorkflow,
	"listWorkflows":         opListWorkflows,
	"upsertWorkflow":        opUpsertWorkflow,
	"deleteWorkflow":        opDeleteWorkflow,
	"getApi":                opGetApi,
	"listApis":              opListApis,
	"upsertApi":             opUpsertApi,
	"deleteApi":             opDeleteApi,
	"updateApiConfigId":     opUpdateApiConfigId,
	"upsertExtract":         opUpsertExtract,
	"deleteExtract":         opDeleteExtract,
	"upsertTransform":       opUpsertTransform,
	"deleteTransform":       opDeleteTransform,
	"getRun":                opGetRun,
	"listRuns":              opListRuns,
	"getTenantInfo":         opGetTenantInfo,
	"executeWorkflow":       opExecuteWorkflow,
	"buildWorkflow":         opBuildWorkflow,
	"generateSchema":        opGenerateSchema,
	"generateInstructions":  opGenerateInstructions,
}

// Router builds the chi handler mounting every façade operation under
// /rpc. CORS mirrors the chi+cors convention the retrieved corpus's
// HTTP-service repositories use for their own API surface.
func Router(f *Facade) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Tenant-Id"},
	}))
	r.Use(tenantMiddleware)

	r.Post("/rpc/{operation}", f.handleOperation)
	r.Get("/rpc/logs", f.handleLogs)

	return r
}

func (f *Facade) handleOperation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "operation")
	op, ok := operations[name]
	if !ok {
		writeError(w, &windlass.ValidationError{Field: "operation", Message: fmt.Sprintf("unknown operation %q", name)})
		return
	}

	var body []byte
	if r.Body != nil {
		decoded, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, &windlass.ValidationError{Field: "body", Message: err.Error()})
			return
		}
		body = decoded
	}

	result, err := op(f, r, tenantFromRequest(r), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLogs streams LogEntry records as newline-delimited JSON until the
// client disconnects or the request context is cancelled, per
// SPEC_FULL.md §4.6's Flusher-based logs subscription.
func (f *Facade) handleLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("rpc: streaming unsupported"))
		return
	}

	ch, unsubscribe := f.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(entry); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), toErrorResponse(err))
}
