// pkg/session/claims.go
package session

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the provider-minted access token claims the gate cares about.
type Claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	SessionID    string         `json:"session_id"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// Outcome is the per-request authentication result the middleware attaches to
// the context. Guards translate it into a response; nothing downstream sees
// raw verification or exchange errors.
type Outcome int

const (
	OutcomeUnauthenticated Outcome = iota
	OutcomeAuthenticated
	OutcomeServiceUnavailable
)

type State struct {
	Outcome Outcome
	Claims  *Claims
}

type contextKey struct{ name string }

var stateCtxKey = &contextKey{"session-state"}

func WithState(ctx context.Context, st State) context.Context {
	return context.WithValue(ctx, stateCtxKey, st)
}

func GetState(ctx context.Context) State {
	if st, ok := ctx.Value(stateCtxKey).(State); ok {
		return st
	}
	return State{}
}

func GetClaims(ctx context.Context) *Claims {
	return GetState(ctx).Claims
}

func IsAuthenticated(ctx context.Context) bool {
	st := GetState(ctx)
	return st.Outcome == OutcomeAuthenticated && st.Claims != nil
}

// RoleOf is a nil-safe role lookup for loggers and metrics.
func RoleOf(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Role
	}
	return ""
}
