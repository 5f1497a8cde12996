// pkg/core/respond.go
package core

import (
	"encoding/json"
	"net/http"
	"strings"

	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// isNavigation reports whether the request is a browser navigation rather
// than a script-driven call. Navigations get redirects; scripts get JSON.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func correlationID(r *http.Request) string {
	if id := chimd.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// unauthenticated answers an auth failure on a protected route.
func unauthenticated(w http.ResponseWriter, r *http.Request, loginPath string) {
	if isNavigation(r) {
		http.Redirect(w, r, loginPath+"?next="+r.URL.Path, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":       "unauthenticated",
		"redirect_to": loginPath,
	})
}

// serviceUnavailable answers an upstream identity failure. Distinct from 401
// so well-behaved clients keep their session through transient outages.
func serviceUnavailable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "1")
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"error":      "service_unavailable",
		"request_id": correlationID(r),
	})
}
