package windlass

import (
	"net/http"
	"testing"
)

func TestResponseCacheHitAfterSet(t *testing.T) {
	c := NewResponseCache()
	headers := http.Header{"Authorization": []string{"Bearer secret"}}
	c.Set("acme", "GET", "https://example.com/a", headers, nil, "", map[string]any{"v": 1}, nil)

	v, err, ok := c.Get("acme", "GET", "https://example.com/a", headers, nil, "")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["v"] != 1 {
		t.Errorf("got %v, want {v:1}", v)
	}
}

func TestResponseCacheMissOnDifferentTenant(t *testing.T) {
	c := NewResponseCache()
	c.Set("acme", "GET", "https://example.com/a", nil, nil, "", "value", nil)

	if _, _, ok := c.Get("other-tenant", "GET", "https://example.com/a", nil, nil, ""); ok {
		t.Error("expected a cache miss for a different tenant")
	}
}

func TestResponseCacheKeyIgnoresHeaderAndQueryOrder(t *testing.T) {
	h1 := http.Header{"A": []string{"1"}, "B": []string{"2"}}
	h2 := http.Header{"B": []string{"2"}, "A": []string{"1"}}
	q1 := map[string]any{"x": "1", "y": "2"}
	q2 := map[string]any{"y": "2", "x": "1"}

	if fingerprint("GET", "https://example.com", h1, q1, "") != fingerprint("GET", "https://example.com", h2, q2, "") {
		t.Error("expected order-independent fingerprints to match")
	}
}

func TestResponseCacheKeyMasksCredentialHeaders(t *testing.T) {
	h1 := http.Header{"Authorization": []string{"Bearer aaa"}}
	h2 := http.Header{"Authorization": []string{"Bearer bbb"}}
	if fingerprint("GET", "https://example.com", h1, nil, "") != fingerprint("GET", "https://example.com", h2, nil, "") {
		t.Error("expected Authorization header value to be masked out of the fingerprint")
	}
}

func TestSampleCacheGetPutScopedPerTenantAndWorkflow(t *testing.T) {
	c := NewSampleCache()
	c.Put("acme", "wf-1", map[string]any{"n": 1})
	c.Put("globex", "wf-1", map[string]any{"n": 2})

	got, ok := c.Get("acme", "wf-1")
	if !ok || got.(map[string]any)["n"] != 1 {
		t.Errorf("acme sample = %v, want {n:1}", got)
	}
	got, ok = c.Get("globex", "wf-1")
	if !ok || got.(map[string]any)["n"] != 2 {
		t.Errorf("globex sample = %v, want {n:2}", got)
	}
	if _, ok := c.Get("acme", "wf-2"); ok {
		t.Error("expected a miss for an unrecorded workflow id")
	}
}
