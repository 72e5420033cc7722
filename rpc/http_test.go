package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/windlass-dev/windlass"
)

func testServer(t *testing.T, caller windlass.Caller) *httptest.Server {
	t.Helper()
	f := testFacade(t, caller)
	return httptest.NewServer(Router(f))
}

func postJSON(t *testing.T, srv *httptest.Server, operation, tenant string, body any) (*http.Response, map[string]any) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/rpc/"+operation, bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-Id", tenant)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestHTTPUpsertAndGetWorkflow(t *testing.T) {
	srv := testServer(t, &stubCaller{response: map[string]any{"ok": true}})
	defer srv.Close()

	wf := sampleWorkflow("wf-http")
	resp, body := postJSON(t, srv, "upsertWorkflow", "acme", wf)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}

	resp, body = postJSON(t, srv, "getWorkflow", "acme", map[string]any{"id": "wf-http"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["id"] != "wf-http" {
		t.Fatalf("expected id wf-http, got %v", body)
	}
}

func TestHTTPUnknownOperation(t *testing.T) {
	srv := testServer(t, &stubCaller{})
	defer srv.Close()

	resp, body := postJSON(t, srv, "doesNotExist", "acme", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", resp.StatusCode, body)
	}
}

func TestHTTPGetWorkflowNotFound(t *testing.T) {
	srv := testServer(t, &stubCaller{})
	defer srv.Close()

	resp, body := postJSON(t, srv, "getWorkflow", "acme", map[string]any{"id": "missing"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %v", resp.StatusCode, body)
	}
}

func TestHTTPValidationErrorReturns400(t *testing.T) {
	srv := testServer(t, &stubCaller{})
	defer srv.Close()

	resp, body := postJSON(t, srv, "upsertWorkflow", "acme", windlass.Workflow{ID: "wf-no-steps"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", resp.StatusCode, body)
	}
	if body["kind"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR kind, got %v", body)
	}
}

func TestHTTPExecuteWorkflow(t *testing.T) {
	srv := testServer(t, &stubCaller{response: map[string]any{"status": "ok"}})
	defer srv.Close()

	postJSON(t, srv, "upsertWorkflow", "acme", sampleWorkflow("wf-exec-http"))

	resp, body := postJSON(t, srv, "executeWorkflow", "acme", ExecuteWorkflowRequest{WorkflowID: "wf-exec-http"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["success"] != true {
		t.Fatalf("expected success=true, got %v", body)
	}
}

func TestHTTPTenantIsolation(t *testing.T) {
	srv := testServer(t, &stubCaller{})
	defer srv.Close()

	postJSON(t, srv, "upsertWorkflow", "tenant-a", sampleWorkflow("wf-iso"))

	resp, _ := postJSON(t, srv, "getWorkflow", "tenant-b", map[string]any{"id": "wf-iso"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected tenant-b to not see tenant-a's workflow, got %d", resp.StatusCode)
	}
}

func TestHTTPLogsStreamServesNDJSON(t *testing.T) {
	srv := testServer(t, &stubCaller{response: map[string]any{"ok": true}})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/rpc/logs", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("expected ndjson content type, got %q", ct)
	}
}
