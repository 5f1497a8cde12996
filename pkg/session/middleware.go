// pkg/session/middleware.go
package session

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/middleware/metrics"
)

// Middleware orchestrates the authentication pipeline per request:
// verify the access cookie, rotate the refresh token exactly once when the
// access token has expired, update or clear cookies per the provider's
// verdict, and attach the resulting State to the context. Enforcement
// (redirects, 401/503 bodies) lives in the route guards.
type Middleware struct {
	verifier *Verifier
	exchange *Exchange
	cookies  *Cookies
	log      *zap.Logger
}

func NewMiddleware(verifier *Verifier, exchange *Exchange, cookies *Cookies, log *zap.Logger) *Middleware {
	return &Middleware{verifier: verifier, exchange: exchange, cookies: cookies, log: log}
}

func (m *Middleware) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := m.authenticate(w, r)
			next.ServeHTTP(w, r.WithContext(WithState(r.Context(), st)))
		})
	}
}

func (m *Middleware) authenticate(w http.ResponseWriter, r *http.Request) State {
	access := cookieValue(r, AccessCookieName)
	refresh := cookieValue(r, RefreshCookieName)

	if access == "" && refresh == "" {
		return State{Outcome: OutcomeUnauthenticated}
	}

	if access != "" {
		claims, err := m.verifier.Verify(r.Context(), access)
		if err == nil {
			metrics.ObserveVerification("ok")
			return State{Outcome: OutcomeAuthenticated, Claims: claims}
		}
		if !errors.Is(err, ErrExpired) {
			// Structurally invalid token: no provider round-trip ever proved
			// the session dead, so leave cookies alone.
			metrics.ObserveVerification("invalid")
			m.log.Info("access token rejected", zap.Error(err))
			return State{Outcome: OutcomeUnauthenticated}
		}
		metrics.ObserveVerification("expired")
	}

	if refresh == "" {
		return State{Outcome: OutcomeUnauthenticated}
	}
	return m.rotate(w, r, refresh)
}

// rotate performs the single refresh attempt this request is allowed.
func (m *Middleware) rotate(w http.ResponseWriter, r *http.Request, refreshToken string) State {
	pair, err := m.exchange.Refresh(r.Context(), refreshToken)
	if err == nil {
		m.cookies.SetAccess(w, pair.AccessToken, 0)
		m.cookies.SetRefresh(w, pair.RefreshToken, 0)

		claims, verr := m.verifier.Verify(r.Context(), pair.AccessToken)
		if verr != nil {
			// The provider minted a token we cannot verify; treat it like an
			// upstream failure rather than a dead session.
			metrics.ObserveRotation("unverifiable")
			m.log.Error("rotated access token failed verification", zap.Error(verr))
			return State{Outcome: OutcomeServiceUnavailable}
		}
		metrics.ObserveRotation("ok")
		return State{Outcome: OutcomeAuthenticated, Claims: claims}
	}

	var xe *ExchangeError
	if !errors.As(err, &xe) {
		metrics.ObserveRotation("error")
		m.log.Error("refresh rotation failed", zap.Error(err))
		return State{Outcome: OutcomeServiceUnavailable}
	}

	metrics.ObserveRotation(xe.Kind.String())
	switch xe.Kind {
	case KindAlreadyUsed:
		// A concurrent request won the rotation race; its cookies are the
		// live ones. Clearing here would log out a session that is still
		// valid under the new tokens.
		m.log.Warn("refresh token already used", zap.Int("status", xe.Status))
		return State{Outcome: OutcomeUnauthenticated}

	case KindRevokedFamily, KindInvalidGrantOther:
		m.cookies.ClearAll(w)
		m.log.Info("session revoked by provider", zap.String("kind", xe.Kind.String()), zap.Int("status", xe.Status))
		return State{Outcome: OutcomeUnauthenticated}

	default: // KindRetryable, KindOther
		m.log.Warn("provider unavailable during refresh", zap.String("kind", xe.Kind.String()), zap.Int("status", xe.Status))
		return State{Outcome: OutcomeServiceUnavailable}
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil || c == nil {
		return ""
	}
	return c.Value
}
