// middleware/metrics/middleware.go
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RoleFn resolves the authenticated role for a request, "" when anonymous.
// Keeps this package decoupled from the session packages that feed it.
type RoleFn func(ctx context.Context) string

// Collect produces the HTTP middleware that records the counters/histogram.
func Collect(role RoleFn) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			startTime := time.Now()

			defer func() {
				if isSkipPath(r) {
					return
				}

				endTime := time.Since(startTime)

				roleName := ""
				if role != nil {
					roleName = role(r.Context())
				}

				code := strconv.Itoa(ww.Status())
				uri := r.URL.Path // path only; avoid cardinality explosion
				method := r.Method

				totalHttpRequestsFromRole.WithLabelValues(roleName).Inc()
				totalHttpRequestsToUri.WithLabelValues(code, uri, method).Inc()
				totalHttpRequests.WithLabelValues(code, method).Inc()
				responseTime.Observe(endTime.Seconds())
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
