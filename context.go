package windlass

import "context"

type ctxKey int

const (
	ctxKeyTenant ctxKey = iota
	ctxKeyCacheMode
)

// WithTenant attaches the tenant id driving the current execution to ctx,
// so the HTTP caller can scope its response cache lookups per tenant
// without threading a tenant parameter through every Caller.Call.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, ctxKeyTenant, tenant)
}

// TenantFromContext returns the tenant id set by WithTenant, or "" if none.
func TenantFromContext(ctx context.Context) string {
	t, _ := ctx.Value(ctxKeyTenant).(string)
	return t
}

// WithCacheMode attaches the execution's CacheMode to ctx.
func WithCacheMode(ctx context.Context, mode CacheMode) context.Context {
	return context.WithValue(ctx, ctxKeyCacheMode, mode)
}

// CacheModeFromContext returns the CacheMode set by WithCacheMode, or
// CacheDisabled if none was set.
func CacheModeFromContext(ctx context.Context) CacheMode {
	m, ok := ctx.Value(ctxKeyCacheMode).(CacheMode)
	if !ok {
		return CacheDisabled
	}
	return m
}
