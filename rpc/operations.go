package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/windlass-dev/windlass"
)

// decode unmarshals body into v, wrapping a malformed body as a
// ValidationError rather than a raw encoding/json error.
func decode(body []byte, v any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &windlass.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

// page is the shared {limit, offset} request shape every list operation
// accepts; a zero Limit means "unbounded" (the store backends treat
// limit <= 0 as no cap).
type page struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type listResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func opGetWorkflow(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return f.GetWorkflow(r.Context(), tenant, req.ID)
}

func opListWorkflows(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req page
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	items, total, err := f.ListWorkflows(r.Context(), tenant, req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	return listResult[windlass.Workflow]{Items: items, Total: total}, nil
}

func opUpsertWorkflow(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var wf windlass.Workflow
	if err := decode(body, &wf); err != nil {
		return nil, err
	}
	return f.UpsertWorkflow(r.Context(), tenant, wf)
}

func opDeleteWorkflow(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return struct{}{}, f.DeleteWorkflow(r.Context(), tenant, req.ID)
}

func opGetApi(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return f.GetApi(r.Context(), tenant, req.ID)
}

func opListApis(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req page
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	items, total, err := f.ListApis(r.Context(), tenant, req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	return listResult[windlass.ApiConfig]{Items: items, Total: total}, nil
}

func opUpsertApi(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var cfg windlass.ApiConfig
	if err := decode(body, &cfg); err != nil {
		return nil, err
	}
	return f.UpsertApi(r.Context(), tenant, cfg)
}

func opDeleteApi(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return struct{}{}, f.DeleteApi(r.Context(), tenant, req.ID)
}

func opUpdateApiConfigId(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req struct {
		OldID string `json:"oldId"`
		NewID string `json:"newId"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return f.UpdateApiConfigId(r.Context(), tenant, req.OldID, req.NewID)
}

func opUpsertExtract(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var cfg windlass.ExtractConfig
	if err := decode(body, &cfg); err != nil {
		return nil, err
	}
	return f.UpsertExtract(r.Context(), tenant, cfg)
}

func opDeleteExtract(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return struct{}{}, f.DeleteExtract(r.Context(), tenant, req.ID)
}

func opUpsertTransform(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var cfg windlass.TransformConfig
	if err := decode(body, &cfg); err != nil {
		return nil, err
	}
	return f.UpsertTransform(r.Context(), tenant, cfg)
}

func opDeleteTransform(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return struct{}{}, f.DeleteTransform(r.Context(), tenant, req.ID)
}

func opGetRun(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return f.GetRun(r.Context(), tenant, req.ID)
}

func opListRuns(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req struct {
		page
		ConfigID string `json:"configId,omitempty"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	items, total, err := f.ListRuns(r.Context(), tenant, req.ConfigID, req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	return listResult[windlass.RunResult]{Items: items, Total: total}, nil
}

func opGetTenantInfo(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	return f.GetTenantInfo(r.Context(), tenant)
}

func opExecuteWorkflow(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req ExecuteWorkflowRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return f.ExecuteWorkflow(r.Context(), tenant, req)
}

func opBuildWorkflow(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req BuildWorkflowRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return f.BuildWorkflow(r.Context(), req)
}

func opGenerateSchema(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req struct {
		WorkflowID string `json:"workflowId"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	schema, err := f.GenerateSchema(r.Context(), tenant, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(schema), nil
}

func opGenerateInstructions(f *Facade, r *http.Request, tenant string, body []byte) (any, error) {
	var req struct {
		WorkflowID string `json:"workflowId"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	text, err := f.GenerateInstructions(r.Context(), tenant, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	return struct {
		Instructions string `json:"instructions"`
	}{Instructions: text}, nil
}
