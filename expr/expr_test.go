package expr

import "testing"

func TestEvalFieldAccess(t *testing.T) {
	e := New()
	got, err := e.Eval("name", map[string]any{"name": "acme"})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got != "acme" {
		t.Errorf("got %v, want acme", got)
	}
}

func TestEvalCachesCompiledExpression(t *testing.T) {
	e := New()
	for i := 0; i < 3; i++ {
		got, err := e.Eval("$.a + $.b", map[string]any{"a": 1, "b": 2})
		if err != nil {
			t.Fatalf("eval: %v", err)
		}
		if got != float64(3) {
			t.Errorf("iteration %d: got %v, want 3", i, got)
		}
	}
	if len(e.exprs) != 1 {
		t.Errorf("expected 1 cached expression, got %d", len(e.exprs))
	}
}

func TestEvalInvalidExpressionReturnsError(t *testing.T) {
	e := New()
	if _, err := e.Eval("$.[", map[string]any{}); err == nil {
		t.Fatal("expected a compile error")
	}
}

func TestValidateSchemaAcceptsMatchingValue(t *testing.T) {
	e := New()
	schema := []byte(`{"type":"object","properties":{"count":{"type":"integer"}},"required":["count"]}`)
	if err := e.ValidateSchema(schema, map[string]any{"count": 5}); err != nil {
		t.Errorf("expected valid value to pass, got %v", err)
	}
}

func TestValidateSchemaRejectsMismatchedType(t *testing.T) {
	e := New()
	schema := []byte(`{"type":"object","properties":{"count":{"type":"integer"}},"required":["count"]}`)
	err := e.ValidateSchema(schema, map[string]any{"count": "five"})
	if err == nil {
		t.Fatal("expected a schema validation error")
	}
	se, ok := err.(*SchemaError)
	if !ok {
		t.Fatalf("expected *SchemaError, got %T", err)
	}
	found := false
	for _, c := range se.Causes {
		if contains(c, "count") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a cause mentioning count, got %v", se.Causes)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
