package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/civichub/planengine/pkg/httputil"
	"github.com/civichub/planengine/pkg/observability"
)

// TenantContext reads the tenant ID from the named route variable and stores it
// on the request context. Routes without the variable pass through unchanged.
func TenantContext(routeVar string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := mux.Vars(r)[routeVar]; !ok {
				next.ServeHTTP(w, r)
				return
			}

			tenantID, err := httputil.ParsePathID(r, routeVar)
			if err != nil {
				httputil.WriteBadRequest(w, err.Error())
				return
			}

			ctx := observability.WithTenantID(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
