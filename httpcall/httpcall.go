// Package httpcall materializes an ApiConfig into an HTTP request, drives
// pagination and retry, and decodes the response. Grounded directly on
// oasis tools/http/http.go (the Tool that builds a request, sets a timeout,
// and decodes/truncates the body) generalized from a single fixed GET into
// a templated, retried, paginated caller; the backoff-with-jitter logic is
// grounded on oasis retry.go's retryBackoff/retryCall, adapted from
// "retry on 429/503 for an LLM provider" to "retry on 5xx/network error for
// an arbitrary API call".
package httpcall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/windlass-dev/windlass"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetries    = 2
	defaultRetryDelay = 500 * time.Millisecond
	maxResponseBytes  = 10 << 20 // 10MiB
)

// Evaluator is the subset of expr.Evaluator the caller needs to resolve
// templated headers/query/body values against the step's resolved input.
type Evaluator interface {
	Eval(expr string, input any) (any, error)
}

// Option configures a Caller.
type Option func(*Caller)

// WithLogger sets a structured logger. If not set, logs are discarded —
// following oasis store/sqlite's nopLogger-by-default idiom.
func WithLogger(l *slog.Logger) Option {
	return func(c *Caller) { c.logger = l }
}

// WithHTTPClient overrides the *http.Client used for every request.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Caller) { c.client = client }
}

// WithCache attaches a response cache. When set, Call consults it according
// to the run's cache mode carried on ctx (windlass.CacheModeFromContext).
func WithCache(cache *windlass.ResponseCache) Option {
	return func(c *Caller) { c.cache = cache }
}

// WithMetrics records http.requests/http.duration for every round trip
// (including retries) through m.
func WithMetrics(m windlass.Metrics) Option {
	return func(c *Caller) { c.metrics = m }
}

// Caller builds and executes HTTP requests from an ApiConfig. It satisfies
// windlass.Caller.
type Caller struct {
	client  *http.Client
	eval    Evaluator
	logger  *slog.Logger
	cache   *windlass.ResponseCache
	metrics windlass.Metrics
}

// New creates a Caller that resolves templated ApiConfig fields via eval.
func New(eval Evaluator, opts ...Option) *Caller {
	c := &Caller{
		client: &http.Client{},
		eval:   eval,
		logger: slog.New(discardHandler{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Call executes cfg once (if Pagination is nil/DISABLED) or across every
// page (otherwise), returning the DataPath-projected, page-concatenated
// result. resolvedInput is the JSONata binding context for templated
// headers/query/body.
func (c *Caller) Call(ctx context.Context, cfg windlass.ApiConfig, resolvedInput any) (any, error) {
	if cfg.Pagination == nil || cfg.Pagination.Type == windlass.PaginationDisabled {
		return c.callOnce(ctx, cfg, resolvedInput, nil)
	}
	return c.callPaginated(ctx, cfg, resolvedInput)
}

// callOnce performs one (retried) HTTP round trip and projects the
// response through cfg.DataPath. pageParams, when non-nil, overrides/adds
// query parameters for this specific page.
func (c *Caller) callOnce(ctx context.Context, cfg windlass.ApiConfig, resolvedInput any, pageParams map[string]string) (any, error) {
	req, err := c.buildRequest(ctx, cfg, resolvedInput, pageParams)
	if err != nil {
		return nil, err
	}

	mode := windlass.CacheModeFromContext(ctx)
	tenant := windlass.TenantFromContext(ctx)
	readable := c.cache != nil && (mode == windlass.CacheEnabled || mode == windlass.CacheReadonly)
	writable := c.cache != nil && (mode == windlass.CacheEnabled || mode == windlass.CacheWriteonly)
	bodyForKey := bodyOf(req)
	if readable {
		if value, cachedErr, ok := c.cache.Get(tenant, req.Method, req.URL.String(), req.Header, cfg.QueryParams, bodyForKey); ok {
			return value, cachedErr
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	decoded, callErr := c.doWithRetry(callCtx, req, retries, retryDelay)

	var result any
	var resultErr error
	if callErr != nil {
		resultErr = callErr
	} else if cfg.DataPath == "" {
		result = decoded
	} else {
		projected, err := c.eval.Eval(cfg.DataPath, decoded)
		if err != nil {
			resultErr = &windlass.BindingError{StepID: cfg.ID, Err: fmt.Errorf("dataPath: %w", err)}
		} else {
			result = projected
		}
	}

	if writable {
		c.cache.Set(tenant, req.Method, req.URL.String(), req.Header, cfg.QueryParams, bodyForKey, result, resultErr)
	}
	return result, resultErr
}

// bodyOf reads req's body for cache-key fingerprinting via GetBody, which
// http.NewRequestWithContext populates for string/bytes/buffer bodies, so
// the actual request body (consumed once by the real round trip) is left
// untouched.
func bodyOf(req *http.Request) string {
	if req.GetBody == nil {
		return ""
	}
	rc, err := req.GetBody()
	if err != nil {
		return ""
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return ""
	}
	return string(b)
}

// doWithRetry sends req up to 1+retries times, retrying on network errors
// and 5xx responses with exponential backoff plus jitter.
func (c *Caller) doWithRetry(ctx context.Context, req *http.Request, retries int, base time.Duration) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := retryBackoff(base, attempt-1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, &windlass.TimeoutError{Op: "http." + req.Method, Timeout: ctx.Err().Error()}
			case <-timer.C:
			}
			c.logger.Info("http retry", "url", req.URL.String(), "attempt", attempt, "max_retries", retries)
			req = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, &windlass.NetworkError{URL: req.URL.String(), Err: err}
				}
				req.Body = body
			}
		}

		callStart := time.Now()
		decoded, status, retryable, err := c.send(req)
		if c.metrics != nil {
			c.metrics.RecordHTTPCall(ctx, req.Method, status, float64(time.Since(callStart).Milliseconds()))
		}
		if err == nil {
			return decoded, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.Warn("http transient failure", "url", req.URL.String(), "status", status, "error", err)
	}
	return nil, lastErr
}

// send performs one HTTP round trip and classifies the outcome: a 5xx
// response or a network-level error is retryable; a 4xx response and any
// decode error are not.
func (c *Caller) send(req *http.Request) (decoded any, status int, retryable bool, err error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, 0, false, &windlass.TimeoutError{Op: "http." + req.Method, Timeout: req.Context().Err().Error()}
		}
		return nil, 0, true, &windlass.NetworkError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, false, &windlass.DecodeError{ContentType: resp.Header.Get("Content-Type"), Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, resp.StatusCode, true, &windlass.HttpError{Status: resp.StatusCode, Body: string(body)}
	}
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, false, &windlass.HttpError{Status: resp.StatusCode, Body: string(body)}
	}

	decoded, err = decodeBody(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, resp.StatusCode, false, err
	}
	return decoded, resp.StatusCode, false, nil
}

// decodeBody decodes body according to its content type: JSON bodies are
// unmarshalled into generic Go values; anything else is returned as a
// plain string. An empty body decodes to nil.
func decodeBody(contentType string, body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, &windlass.DecodeError{ContentType: contentType, Err: err}
		}
		return v, nil
	}
	return string(body), nil
}

// buildRequest resolves cfg's templated headers/query/body against
// resolvedInput and constructs the *http.Request, injecting authentication
// and any page-specific query overrides.
func (c *Caller) buildRequest(ctx context.Context, cfg windlass.ApiConfig, resolvedInput any, pageParams map[string]string) (*http.Request, error) {
	u, err := c.buildURL(cfg, resolvedInput, pageParams)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	var bodyStr string
	if cfg.Body != "" {
		templated, err := substitutePlaceholders(cfg.ID, "body", cfg.Body, resolvedInput)
		if err != nil {
			return nil, err
		}
		bodyStr = templated
		if strings.HasPrefix(strings.TrimSpace(templated), "$") {
			resolved, err := c.eval.Eval(templated, resolvedInput)
			if err != nil {
				return nil, &windlass.BindingError{StepID: cfg.ID, Err: fmt.Errorf("body: %w", err)}
			}
			bodyStr, err = stringifyBody(resolved)
			if err != nil {
				return nil, &windlass.BindingError{StepID: cfg.ID, Err: fmt.Errorf("body: %w", err)}
			}
		}
		bodyReader = strings.NewReader(bodyStr)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for k, v := range cfg.Headers {
		resolved, err := c.resolveTemplate(cfg.ID, "header "+k, v, resolvedInput)
		if err != nil {
			return nil, &windlass.BindingError{StepID: cfg.ID, Err: fmt.Errorf("header %s: %w", k, err)}
		}
		req.Header.Set(k, resolved)
	}
	if bodyStr != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.injectAuth(req, cfg); err != nil {
		return nil, err
	}

	return req, nil
}

// resolveTemplate first substitutes any {name} placeholders in src from
// input (spec.md §4.2 steps 1-3), then evaluates the result as a JSONata
// expression if it looks like one ("$" prefix), otherwise returns it
// verbatim. Plain header/query values (the common case — a literal content
// type, a literal API key) pass through untouched.
func (c *Caller) resolveTemplate(stepID, fieldDesc, src string, input any) (string, error) {
	templated, err := substitutePlaceholders(stepID, fieldDesc, src, input)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(strings.TrimSpace(templated), "$") {
		return templated, nil
	}
	v, err := c.eval.Eval(templated, input)
	if err != nil {
		return "", err
	}
	return stringifyBody(v)
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substitutePlaceholders replaces every {name} substring in src with the
// stringified value of input[name], per spec.md §4.2/§6: "simple
// placeholders of the form {name} are substituted from the per-call input
// and credentials before evaluation". input must be a map[string]any (the
// shape payload/credentials always take by the time they reach the Caller);
// a placeholder naming a field absent from it is a BindingError, not a
// silent no-op, so a typo'd template fails loudly instead of shipping a
// literal "{term}" in an outgoing request.
func substitutePlaceholders(stepID, fieldDesc, src string, input any) (string, error) {
	if !strings.Contains(src, "{") {
		return src, nil
	}
	fields, _ := input.(map[string]any)

	var missing string
	var stringifyErr error
	out := placeholderPattern.ReplaceAllStringFunc(src, func(match string) string {
		if missing != "" || stringifyErr != nil {
			return match
		}
		name := match[1 : len(match)-1]
		v, ok := fields[name]
		if !ok {
			missing = name
			return match
		}
		s, err := stringifyBody(v)
		if err != nil {
			stringifyErr = err
			return match
		}
		return s
	})
	if missing != "" {
		return "", &windlass.BindingError{StepID: stepID, Err: fmt.Errorf("%s: missing placeholder %q", fieldDesc, missing)}
	}
	if stringifyErr != nil {
		return "", &windlass.BindingError{StepID: stepID, Err: fmt.Errorf("%s: %w", fieldDesc, stringifyErr)}
	}
	return out, nil
}

func stringifyBody(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// buildURL joins cfg.URLHost + cfg.URLPath and attaches resolved query
// parameters plus any page-specific overrides.
func (c *Caller) buildURL(cfg windlass.ApiConfig, resolvedInput any, pageParams map[string]string) (*url.URL, error) {
	host, err := substitutePlaceholders(cfg.ID, "urlHost", cfg.URLHost, resolvedInput)
	if err != nil {
		return nil, err
	}
	path, err := substitutePlaceholders(cfg.ID, "urlPath", cfg.URLPath, resolvedInput)
	if err != nil {
		return nil, err
	}
	raw := strings.TrimRight(host, "/")
	if path != "" {
		raw += "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}

	q := u.Query()
	for k, v := range cfg.QueryParams {
		var strVal string
		if s, ok := v.(string); ok {
			resolved, err := c.resolveTemplate(cfg.ID, "query "+k, s, resolvedInput)
			if err != nil {
				return nil, &windlass.BindingError{StepID: cfg.ID, Err: fmt.Errorf("query %s: %w", k, err)}
			}
			strVal = resolved
		} else {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("query %s: %w", k, err)
			}
			strVal = string(b)
		}
		q.Set(k, strVal)
	}
	for k, v := range pageParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	if cfg.Authentication == windlass.AuthQueryParam {
		if _, ok := cfg.QueryParams["api_key"]; !ok {
			if _, ok := cfg.Headers["X-Api-Key"]; !ok {
				return nil, &windlass.AuthError{Reason: "QUERY_PARAM authentication requires an api_key query parameter"}
			}
		}
	}

	return u, nil
}

// injectAuth validates that cfg carries the credential its Authentication
// type requires. Credential values themselves live in Headers/QueryParams
// (set by the workflow author); this only enforces presence and rejects
// unsupported auth types.
func (c *Caller) injectAuth(req *http.Request, cfg windlass.ApiConfig) error {
	switch cfg.Authentication {
	case "", windlass.AuthNone, windlass.AuthQueryParam:
		return nil
	case windlass.AuthHeader:
		if req.Header.Get("Authorization") == "" {
			for k := range cfg.Headers {
				if strings.EqualFold(k, "Authorization") {
					return nil
				}
			}
			return &windlass.AuthError{Reason: "HEADER authentication requires an Authorization header"}
		}
		return nil
	case windlass.AuthOAuth2:
		return &windlass.AuthError{Reason: "OAUTH2 authentication is not supported"}
	default:
		return &windlass.AuthError{Reason: fmt.Sprintf("unknown authentication type %q", cfg.Authentication)}
	}
}

// callPaginated drives OFFSET_BASED, PAGE_BASED, or CURSOR_BASED pagination,
// concatenating each page's DataPath-projected array until a short page (or
// an empty cursor) signals the end (Open Question decision: stop when a
// page's length is less than the configured pageSize).
func (c *Caller) callPaginated(ctx context.Context, cfg windlass.ApiConfig, resolvedInput any) (any, error) {
	p := cfg.Pagination
	pageSize := p.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	var all []any
	switch p.Type {
	case windlass.PaginationOffset:
		for offset := 0; ; offset += pageSize {
			page, err := c.callOnce(ctx, cfg, resolvedInput, map[string]string{
				"offset": strconv.Itoa(offset),
				"limit":  strconv.Itoa(pageSize),
			})
			if err != nil {
				return nil, err
			}
			items, done := pageItems(page)
			all = append(all, items...)
			if done || len(items) < pageSize {
				break
			}
		}
	case windlass.PaginationPage:
		for page := 1; ; page++ {
			pageData, err := c.callOnce(ctx, cfg, resolvedInput, map[string]string{
				"page": strconv.Itoa(page),
				"size": strconv.Itoa(pageSize),
			})
			if err != nil {
				return nil, err
			}
			items, done := pageItems(pageData)
			all = append(all, items...)
			if done || len(items) < pageSize {
				break
			}
		}
	case windlass.PaginationCursor:
		cursor := ""
		for {
			params := map[string]string{}
			if cursor != "" {
				params["cursor"] = cursor
			}
			pageData, err := c.callOnce(ctx, cfg, resolvedInput, params)
			if err != nil {
				return nil, err
			}
			items, done := pageItems(pageData)
			all = append(all, items...)
			if done || len(items) < pageSize {
				break
			}
			next, err := c.nextCursor(cfg, pageData)
			if err != nil {
				return nil, err
			}
			if next == "" {
				break
			}
			cursor = next
		}
	default:
		return nil, fmt.Errorf("unknown pagination type %q", p.Type)
	}
	return all, nil
}

// nextCursor evaluates the pagination config's CursorPath against the
// decoded (pre-DataPath) page to find the next page's cursor token.
func (c *Caller) nextCursor(cfg windlass.ApiConfig, page any) (string, error) {
	if cfg.Pagination.CursorPath == "" {
		return "", nil
	}
	v, err := c.eval.Eval(cfg.Pagination.CursorPath, page)
	if err != nil {
		return "", &windlass.BindingError{StepID: cfg.ID, Err: fmt.Errorf("cursorPath: %w", err)}
	}
	s, _ := v.(string)
	return s, nil
}

// pageItems coerces a DataPath-projected page into a slice, treating nil
// or a non-array as an empty, terminal page.
func pageItems(page any) (items []any, done bool) {
	items, ok := page.([]any)
	if !ok {
		return nil, true
	}
	return items, false
}

// retryBackoff returns the delay before retry attempt i (0-indexed):
// exponential base*2^i plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}
