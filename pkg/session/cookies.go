// pkg/session/cookies.go
package session

import (
	"net/http"
	"time"

	"github.com/joeydtaylor/steeze-gate/pkg/config"
)

// The __Host- prefix host-locks the cookies: browsers only accept it with
// Secure, Path=/, and no Domain attribute, so subdomains can neither read nor
// overwrite the session.
const (
	AccessCookieName  = "__Host-gate-access"
	RefreshCookieName = "__Host-gate-refresh"

	defaultAccessTTL  = 600 * time.Second
	defaultRefreshTTL = 7776000 * time.Second
)

// Cookies writes and clears the two session cookies with fixed security
// attributes. Rotation always touches both; only the confirmed-revocation
// branch in the middleware clears them deliberately.
type Cookies struct {
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewCookies(src config.Source) *Cookies {
	return &Cookies{
		accessTTL:  config.Seconds(src, "ACCESS_COOKIE_TTL", defaultAccessTTL),
		refreshTTL: config.Seconds(src, "REFRESH_COOKIE_TTL", defaultRefreshTTL),
	}
}

// SetAccess writes the access cookie. A ttl <= 0 uses the configured default.
func (c *Cookies) SetAccess(w http.ResponseWriter, token string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.accessTTL
	}
	setSessionCookie(w, AccessCookieName, token, int(ttl.Seconds()))
}

// SetRefresh writes the refresh cookie. A ttl <= 0 uses the configured default.
func (c *Cookies) SetRefresh(w http.ResponseWriter, token string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.refreshTTL
	}
	setSessionCookie(w, RefreshCookieName, token, int(ttl.Seconds()))
}

func (c *Cookies) ClearAccess(w http.ResponseWriter)  { clearSessionCookie(w, AccessCookieName) }
func (c *Cookies) ClearRefresh(w http.ResponseWriter) { clearSessionCookie(w, RefreshCookieName) }

func (c *Cookies) ClearAll(w http.ResponseWriter) {
	c.ClearAccess(w)
	c.ClearRefresh(w)
}

func setSessionCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie serializes as Max-Age=0 with an empty value.
func clearSessionCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
