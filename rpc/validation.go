package rpc

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/windlass-dev/windlass"
)

// normalizeID URL-decodes id, then NFKC-normalizes it (following the teacher's guardrail.go use
// of the same package to collapse visually-identical Unicode variants
// before any string comparison) and rejects ids that are not URL-safe,
// before a normalized duplicate could slip past an id-uniqueness check
// written against the raw bytes. An empty id normalizes to "" without
// error; callers that require a non-empty id check that separately.
func normalizeID(field, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	cleaned := norm.NFKC.String(id)
	if cleaned != url.PathEscape(cleaned) {
		return "", &windlass.ValidationError{Field: field, Message: fmt.Sprintf("%q is not URL-safe", id)}
	}
	return cleaned, nil
}

// validateWorkflow checks the invariants spec.md §4.6 requires before a
// Workflow may be saved or run ad hoc: non-empty id, a normalized/URL-safe
// id, at least one step, and unique step ids.
func validateWorkflow(wf *windlass.Workflow) error {
	id, err := normalizeID("id", wf.ID)
	if err != nil {
		return err
	}
	if id == "" {
		return &windlass.ValidationError{Field: "id", Message: "workflow id is required"}
	}
	wf.ID = id

	if len(wf.Steps) == 0 {
		return &windlass.ValidationError{Field: "steps", Message: "at least one step is required"}
	}

	seen := make(map[string]bool, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]
		sid, err := normalizeID(fmt.Sprintf("steps[%d].id", i), step.ID)
		if err != nil {
			return err
		}
		if sid == "" {
			return &windlass.ValidationError{Field: fmt.Sprintf("steps[%d].id", i), Message: "step id is required"}
		}
		if seen[sid] {
			return &windlass.ValidationError{Field: "steps", Message: fmt.Sprintf("duplicate step id %q", sid)}
		}
		seen[sid] = true
		step.ID = sid

		if err := validateApiConfig(&step.ApiConfig); err != nil {
			return err
		}
	}
	return nil
}

// validateApiConfig checks the minimum an ApiConfig needs to be callable:
// a host and an HTTP method.
func validateApiConfig(cfg *windlass.ApiConfig) error {
	if cfg.ID != "" {
		id, err := normalizeID("id", cfg.ID)
		if err != nil {
			return err
		}
		cfg.ID = id
	}
	if strings.TrimSpace(cfg.URLHost) == "" {
		return &windlass.ValidationError{Field: "urlHost", Message: "urlHost is required"}
	}
	if strings.TrimSpace(cfg.Method) == "" {
		return &windlass.ValidationError{Field: "method", Message: "method is required"}
	}
	return nil
}
