package windlass

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// CacheKey fingerprints one HTTP call for the response cache. Two calls with
// the same method, URL, sorted query, sorted headers (credential headers
// masked), and body fingerprint the same regardless of map iteration order.
type CacheKey struct {
	Tenant string
	Hash   uint64
}

// fingerprint hashes (method, url, sorted headers with credentials masked,
// sorted query, body) into a stable 64-bit value via xxhash.
func fingerprint(method, url string, headers http.Header, query map[string]any, body string) uint64 {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(url)
	b.WriteByte('\n')

	headerKeys := make([]string, 0, len(headers))
	for k := range headers {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)
	for _, k := range headerKeys {
		lk := strings.ToLower(k)
		v := strings.Join(headers[k], ",")
		if lk == "authorization" || lk == "cookie" || lk == "set-cookie" || strings.Contains(lk, "token") || strings.Contains(lk, "api-key") {
			v = "***"
		}
		fmt.Fprintf(&b, "%s=%s\n", lk, v)
	}

	queryKeys := make([]string, 0, len(query))
	for k := range query {
		queryKeys = append(queryKeys, k)
	}
	sort.Strings(queryKeys)
	for _, k := range queryKeys {
		fmt.Fprintf(&b, "%s=%v\n", k, query[k])
	}

	b.WriteString(body)

	return xxhash.Sum64String(b.String())
}

// cacheEntry holds one cached response.
type cacheEntry struct {
	value any
	err   error
}

// ResponseCache is a tenant-scoped, in-process cache of HTTP call responses,
// keyed by the call's fingerprint. It is consulted by httpcall.Caller
// according to the run's CacheMode (ExecuteOptions.CacheMode, carried on the
// context), not unconditionally.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[CacheKey]cacheEntry
}

// NewResponseCache creates an empty ResponseCache.
func NewResponseCache() *ResponseCache {
	return &ResponseCache{entries: make(map[CacheKey]cacheEntry)}
}

// Get returns the cached value for (tenant, method, url, headers, query,
// body), or ok=false on a miss.
func (c *ResponseCache) Get(tenant, method, url string, headers http.Header, query map[string]any, body string) (any, error, bool) {
	key := CacheKey{Tenant: tenant, Hash: fingerprint(method, url, headers, query, body)}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil, false
	}
	return e.value, e.err, true
}

// Set stores value/err for (tenant, method, url, headers, query, body).
func (c *ResponseCache) Set(tenant, method, url string, headers http.Header, query map[string]any, body string, value any, err error) {
	key := CacheKey{Tenant: tenant, Hash: fingerprint(method, url, headers, query, body)}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, err: err}
}

// sampleKey identifies one (tenant, workflowID) pair for SampleCache
// (Open Question (b)): a sample is stored per workflow per tenant, not per
// workflow id alone, so two tenants running the same shared workflow never
// see each other's sample data.
type sampleKey struct {
	tenant     string
	workflowID string
}

// SampleCache holds the most recent raw execution output per (tenant,
// workflowID). The rpc façade does not use it: its generateSchema operation
// keeps its own (tenant, workflowID)-keyed sample map.
type SampleCache struct {
	mu      sync.RWMutex
	samples map[sampleKey]any
}

// NewSampleCache creates an empty SampleCache.
func NewSampleCache() *SampleCache {
	return &SampleCache{samples: make(map[sampleKey]any)}
}

// Put records the latest sample for (tenant, workflowID), overwriting any
// previous sample.
func (c *SampleCache) Put(tenant, workflowID string, sample any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[sampleKey{tenant: tenant, workflowID: workflowID}] = sample
}

// Get returns the latest sample for (tenant, workflowID), or ok=false if
// none has been recorded.
func (c *SampleCache) Get(tenant, workflowID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.samples[sampleKey{tenant: tenant, workflowID: workflowID}]
	return v, ok
}
