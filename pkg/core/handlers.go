// pkg/core/handlers.go
package core

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/middleware/csrf"
	"github.com/joeydtaylor/steeze-gate/pkg/session"
)

// AuthHandlers exposes the gate's own identity endpoints: login, logout, and
// session introspection.
type AuthHandlers struct {
	exchange *session.Exchange
	cookies  *session.Cookies
	csrf     *csrf.Guard
	log      *zap.Logger
}

func NewAuthHandlers(exchange *session.Exchange, cookies *session.Cookies, guard *csrf.Guard, log *zap.Logger) *AuthHandlers {
	return &AuthHandlers{exchange: exchange, cookies: cookies, csrf: guard, log: log}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token pair and installs both session
// cookies plus a CSRF token.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and password required"})
		return
	}

	pair, err := h.exchange.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		var xe *session.ExchangeError
		if errors.As(err, &xe) && xe.Kind == session.KindRetryable {
			serviceUnavailable(w, r)
			return
		}
		h.log.Info("login rejected", zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
		return
	}

	h.cookies.SetAccess(w, pair.AccessToken, 0)
	h.cookies.SetRefresh(w, pair.RefreshToken, 0)
	if _, err := h.csrf.Ensure(w, r); err != nil {
		h.log.Error("csrf token mint failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Logout revokes the session with the provider best-effort and clears both
// cookies; the local clear is authoritative.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	access := ""
	if c, err := r.Cookie(session.AccessCookieName); err == nil {
		access = c.Value
	}
	h.exchange.Logout(r.Context(), access)
	h.cookies.ClearAll(w)
	w.WriteHeader(http.StatusNoContent)
}

// Session reports the authenticated caller, or 401.
func (h *AuthHandlers) Session(w http.ResponseWriter, r *http.Request) {
	st := session.GetState(r.Context())
	switch st.Outcome {
	case session.OutcomeAuthenticated:
		writeJSON(w, http.StatusOK, map[string]any{
			"subject": st.Claims.Subject,
			"email":   st.Claims.Email,
			"role":    st.Claims.Role,
		})
	case session.OutcomeServiceUnavailable:
		serviceUnavailable(w, r)
	default:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
	}
}
