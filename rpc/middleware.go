package rpc

import (
	"net/http"

	"github.com/windlass-dev/windlass"
)

// tenantMiddleware extracts the tenant id an upstream auth layer is
// responsible for producing (SPEC_FULL.md §6: "the middleware's internals
// are out of scope... but its contract of producing a tenant identifier is
// honored") and attaches it to the request context. A missing header means
// the admin tenant ("", matches every row per the store backends' tenant
// predicate).
func tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get("X-Tenant-Id")
		ctx := windlass.WithTenant(r.Context(), tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFromRequest(r *http.Request) string {
	return windlass.TenantFromContext(r.Context())
}
