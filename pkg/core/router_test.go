package core

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/config"
	"github.com/joeydtaylor/steeze-gate/pkg/kv"
	"github.com/joeydtaylor/steeze-gate/pkg/manifest"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/csrf"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/ratelimit"
	"github.com/joeydtaylor/steeze-gate/pkg/session"
	httpx "github.com/joeydtaylor/steeze-gate/pkg/transport/httpx"
)

const devSecret = "router-test-secret"

// newGate builds the full pipeline against a symmetric-secret verifier so no
// JWKS plumbing is needed; tokens are minted with devToken.
func newGate(t *testing.T, cfg manifest.Config) http.Handler {
	t.Helper()
	src := config.Static{
		"AUTH_PROVIDER_URL":     "http://localhost:54321",
		"AUTH_PROVIDER_API_KEY": "anon-key",
		"DEV_SUPABASE_LOCAL":    "true",
		"AUTH_JWT_SECRET":       devSecret,
	}
	log := zap.NewNop()

	noProvider := &scriptedDoer{fn: func(*http.Request) (*http.Response, error) {
		t.Fatal("unexpected provider call")
		return nil, nil
	}}

	store := kv.NewMemory()
	keys := session.NewKeySetCache("http://localhost:54321/auth/v1/.well-known/jwks.json", time.Minute, store, noProvider, log)
	verifier, err := session.NewVerifier(src, keys, log)
	if err != nil {
		t.Fatal(err)
	}
	exchange, err := session.NewExchange(src, noProvider, log)
	if err != nil {
		t.Fatal(err)
	}
	cookies := session.NewCookies(config.Static{})
	guard := csrf.New(config.Static{}, log)

	return BuildRouter(cfg, BuildDeps{
		Session: session.NewMiddleware(verifier, exchange, cookies, log),
		Csrf:    guard,
		Limiter: ratelimit.New(store, 100, time.Minute, log),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		Router:  httpx.NewChi(),
		Auth:    NewAuthHandlers(exchange, cookies, guard, log),
		Log:     log,
	})
}

func devToken(t *testing.T, role string) string {
	t.Helper()
	claims := &session.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "http://localhost:54321/auth/v1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(devSecret))
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestRouterEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "upstream:%s", r.URL.Path)
	}))
	defer upstream.Close()

	gate := newGate(t, manifest.Config{
		LoginPath: "/admin/login",
		Routes: []manifest.Route{
			{Path: "/admin", Upstream: upstream.URL, Guard: manifest.Guard{RequireAuth: true, CSRF: true}},
			{Path: "/public", Upstream: upstream.URL},
			{Path: "/limited", Upstream: upstream.URL, RateLimit: &manifest.RateLimit{Max: 1, WindowSeconds: 60}},
		},
	})

	t.Run("healthz", func(t *testing.T) {
		rr := httptest.NewRecorder()
		gate.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("want 204, got %d", rr.Code)
		}
	})

	t.Run("open route proxies without auth", func(t *testing.T) {
		rr := httptest.NewRecorder()
		gate.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/page", nil))
		if rr.Code != http.StatusOK || rr.Body.String() != "upstream:/public/page" {
			t.Fatalf("proxy failed: %d %q", rr.Code, rr.Body.String())
		}
	})

	t.Run("anonymous navigation redirects to login", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/pages", nil)
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		rr := httptest.NewRecorder()
		gate.ServeHTTP(rr, req)
		if rr.Code != http.StatusFound {
			t.Fatalf("want 302, got %d", rr.Code)
		}
		if loc := rr.Header().Get("Location"); loc != "/admin/login?next=/admin/pages" {
			t.Fatalf("unexpected location %q", loc)
		}
	})

	t.Run("authenticated request reaches upstream", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/pages", nil)
		req.AddCookie(&http.Cookie{Name: session.AccessCookieName, Value: devToken(t, "authenticated")})
		rr := httptest.NewRecorder()
		gate.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK || rr.Body.String() != "upstream:/admin/pages" {
			t.Fatalf("proxy failed: %d %q", rr.Code, rr.Body.String())
		}
	})

	t.Run("mutation without csrf token rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/pages", nil)
		req.AddCookie(&http.Cookie{Name: session.AccessCookieName, Value: devToken(t, "authenticated")})
		rr := httptest.NewRecorder()
		gate.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("want 403, got %d", rr.Code)
		}
	})

	t.Run("mutation with matching csrf token passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/pages", nil)
		req.AddCookie(&http.Cookie{Name: session.AccessCookieName, Value: devToken(t, "authenticated")})
		req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: "tok123"})
		req.Header.Set(csrf.HeaderName, "tok123")
		rr := httptest.NewRecorder()
		gate.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("want 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("route rate limit", func(t *testing.T) {
		mk := func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/limited/x", nil)
			req.RemoteAddr = "9.9.9.9:1000"
			return req
		}
		rr := httptest.NewRecorder()
		gate.ServeHTTP(rr, mk())
		if rr.Code != http.StatusOK {
			t.Fatalf("first request should pass, got %d", rr.Code)
		}
		rr = httptest.NewRecorder()
		gate.ServeHTTP(rr, mk())
		if rr.Code != http.StatusTooManyRequests {
			t.Fatalf("want 429, got %d", rr.Code)
		}
	})

	t.Run("session introspection", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: session.AccessCookieName, Value: devToken(t, "admin")})
		rr := httptest.NewRecorder()
		gate.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rr.Code)
		}
	})
}

func TestRouterUpstreamUnreachable(t *testing.T) {
	gate := newGate(t, manifest.Config{
		LoginPath: "/admin/login",
		Routes: []manifest.Route{
			// Nothing listens on port 1.
			{Path: "/dead", Upstream: "http://127.0.0.1:1"},
		},
	})

	rr := httptest.NewRecorder()
	gate.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dead/x", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("want 502, got %d", rr.Code)
	}
}
