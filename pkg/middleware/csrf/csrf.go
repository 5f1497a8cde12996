// middleware/csrf/csrf.go
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/config"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/metrics"
)

const (
	// CookieName carries the double-submit token. It must be script-readable
	// (no HttpOnly); the defense rests on cross-origin pages being unable to
	// read the cookie, not on hiding it from same-origin script.
	CookieName = "__Host-gate-csrf"
	HeaderName = "X-CSRF-Token"
	FieldName  = "csrf_token"

	tokenBytes = 32
)

// Guard implements stateless double-submit CSRF protection plus an Origin
// allow-list for mutating requests.
type Guard struct {
	trustedOrigins []string
	log            *zap.Logger
}

func New(src config.Source, log *zap.Logger) *Guard {
	return &Guard{
		trustedOrigins: config.List(src, "AUTH_TRUSTED_ORIGINS"),
		log:            log,
	}
}

// Ensure returns the request's CSRF token, minting and setting the cookie
// when absent. Idempotent per request.
func (g *Guard) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		// HttpOnly deliberately unset.
	})
	return token, nil
}

// Protect rejects mutating requests whose echoed token does not match the
// cookie, before any application logic runs.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		if origin := r.Header.Get("Origin"); origin != "" && !g.originAllowed(origin, r.Host) {
			metrics.ObserveCSRFRejection("origin")
			reject(w, "origin_not_allowed")
			return
		}

		cookie, err := r.Cookie(CookieName)
		if err != nil || cookie.Value == "" {
			metrics.ObserveCSRFRejection("missing_cookie")
			reject(w, "csrf_token_missing")
			return
		}

		supplied := r.Header.Get(HeaderName)
		if supplied == "" && isFormPost(r) {
			supplied = r.PostFormValue(FieldName)
		}
		if supplied == "" {
			metrics.ObserveCSRFRejection("missing_token")
			reject(w, "csrf_token_missing")
			return
		}

		if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(supplied)) != 1 {
			metrics.ObserveCSRFRejection("mismatch")
			reject(w, "csrf_token_mismatch")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Guard) originAllowed(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == host {
		return true
	}
	for _, t := range g.trustedOrigins {
		if strings.EqualFold(strings.TrimRight(t, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func isFormPost(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data")
}

func reject(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}

var Module = fx.Options(
	fx.Provide(New),
)
