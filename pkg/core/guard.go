// pkg/core/guard.go
package core

import (
	"net/http"

	"github.com/joeydtaylor/steeze-gate/pkg/manifest"
	"github.com/joeydtaylor/steeze-gate/pkg/session"
)

// withGuard enforces a route's guard using the session state attached by the
// session middleware. Verification and exchange failures never surface raw;
// they collapse to unauthenticated or service-unavailable here.
func withGuard(next http.Handler, g manifest.Guard, loginPath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.RequireAuth && len(g.Roles) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		st := session.GetState(r.Context())
		switch st.Outcome {
		case session.OutcomeServiceUnavailable:
			serviceUnavailable(w, r)
			return
		case session.OutcomeAuthenticated:
			// fall through to role checks
		default:
			unauthenticated(w, r, loginPath)
			return
		}

		if len(g.Roles) > 0 {
			role := st.Claims.Role
			allowed := false
			for _, x := range g.Roles {
				if role == x {
					allowed = true
					break
				}
			}
			if !allowed {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
