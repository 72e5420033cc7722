package rpc

import (
	"testing"

	"github.com/windlass-dev/windlass"
)

func TestNormalizeIDRejectsNonURLSafe(t *testing.T) {
	if _, err := normalizeID("id", "has space"); err == nil {
		t.Fatalf("expected rejection of an id containing a space")
	}
	if _, err := normalizeID("id", "slash/in/id"); err == nil {
		t.Fatalf("expected rejection of an id containing a slash")
	}
}

func TestNormalizeIDAcceptsPlainID(t *testing.T) {
	cleaned, err := normalizeID("id", "wf-2026_07")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleaned != "wf-2026_07" {
		t.Fatalf("expected unchanged id, got %s", cleaned)
	}
}

func TestNormalizeIDCollapsesFullwidthVariant(t *testing.T) {
	// Fullwidth Latin "ｗｆ" NFKC-normalizes to ASCII "wf", mirroring the
	// teacher's guardrail.go NFKC pre-pass so a visually similar but
	// byte-distinct id cannot slip past a uniqueness check.
	cleaned, err := normalizeID("id", "ｗｆ-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleaned != "wf-1" {
		t.Fatalf("expected NFKC-normalized %q, got %q", "wf-1", cleaned)
	}
}

func TestNormalizeIDEmptyIsNotAnError(t *testing.T) {
	cleaned, err := normalizeID("id", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleaned != "" {
		t.Fatalf("expected empty id to stay empty, got %q", cleaned)
	}
}

func TestValidateWorkflowRequiresID(t *testing.T) {
	wf := windlass.Workflow{Steps: []windlass.Step{{ID: "s1", ApiConfig: windlass.ApiConfig{URLHost: "https://example.com", Method: "GET"}}}}
	if err := validateWorkflow(&wf); err == nil {
		t.Fatalf("expected missing id to be rejected")
	}
}

func TestValidateWorkflowRequiresApiConfigHostAndMethod(t *testing.T) {
	wf := windlass.Workflow{
		ID:    "wf-1",
		Steps: []windlass.Step{{ID: "s1", ApiConfig: windlass.ApiConfig{}}},
	}
	if err := validateWorkflow(&wf); err == nil {
		t.Fatalf("expected missing urlHost/method to be rejected")
	}
}
