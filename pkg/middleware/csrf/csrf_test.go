package csrf

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/config"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body["error"]
}

func TestEnsureMintsCookie(t *testing.T) {
	g := New(config.Static{}, zap.NewNop())
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/login", nil)

	token, err := g.Ensure(rr, req)
	if err != nil {
		t.Fatal(err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("want 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != CookieName || c.Value != token {
		t.Fatalf("cookie %s=%s does not carry the token", c.Name, c.Value)
	}
	if !c.Secure || c.Path != "/" || c.Domain != "" {
		t.Fatal("cookie missing host-lock attributes")
	}
	if c.HttpOnly {
		t.Fatal("csrf cookie must stay script-readable")
	}
}

func TestEnsureReturnsExistingToken(t *testing.T) {
	g := New(config.Static{}, zap.NewNop())
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/login", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "existing"})

	token, err := g.Ensure(rr, req)
	if err != nil {
		t.Fatal(err)
	}
	if token != "existing" {
		t.Fatalf("want existing token, got %q", token)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatal("must not re-set an existing cookie")
	}
}

func TestProtectAllowsNonMutating(t *testing.T) {
	g := New(config.Static{}, zap.NewNop())
	var called bool
	rr := httptest.NewRecorder()
	g.Protect(okHandler(&called)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if !called {
		t.Fatal("GET must pass without a token")
	}
}

func TestProtectHeaderMatch(t *testing.T) {
	g := New(config.Static{}, zap.NewNop())
	var called bool
	req := httptest.NewRequest(http.MethodPost, "/admin/pages", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "tok123"})
	req.Header.Set(HeaderName, "tok123")

	rr := httptest.NewRecorder()
	g.Protect(okHandler(&called)).ServeHTTP(rr, req)
	if !called || rr.Code != http.StatusOK {
		t.Fatalf("matching tokens rejected: %d", rr.Code)
	}
}

func TestProtectFormFieldMatch(t *testing.T) {
	g := New(config.Static{}, zap.NewNop())
	var called bool
	form := url.Values{FieldName: {"tok123"}, "title": {"hello"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/pages", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "tok123"})

	rr := httptest.NewRecorder()
	g.Protect(okHandler(&called)).ServeHTTP(rr, req)
	if !called {
		t.Fatalf("form token rejected: %d", rr.Code)
	}
}

func TestProtectMismatch(t *testing.T) {
	g := New(config.Static{}, zap.NewNop())
	var called bool
	req := httptest.NewRequest(http.MethodPost, "/admin/pages", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "tok123"})
	req.Header.Set(HeaderName, "tok999")

	rr := httptest.NewRecorder()
	g.Protect(okHandler(&called)).ServeHTTP(rr, req)
	if called || rr.Code != http.StatusForbidden {
		t.Fatalf("mismatch must 403, got %d", rr.Code)
	}
	if got := decodeError(t, rr); got != "csrf_token_mismatch" {
		t.Fatalf("want csrf_token_mismatch, got %q", got)
	}
}

func TestProtectMissingCookie(t *testing.T) {
	g := New(config.Static{}, zap.NewNop())
	var called bool
	req := httptest.NewRequest(http.MethodPost, "/admin/pages", nil)
	req.Header.Set(HeaderName, "tok123")

	rr := httptest.NewRecorder()
	g.Protect(okHandler(&called)).ServeHTTP(rr, req)
	if called || rr.Code != http.StatusForbidden {
		t.Fatalf("missing cookie must 403, got %d", rr.Code)
	}
}

func TestProtectMissingEcho(t *testing.T) {
	g := New(config.Static{}, zap.NewNop())
	var called bool
	req := httptest.NewRequest(http.MethodPost, "/admin/pages", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "tok123"})

	rr := httptest.NewRecorder()
	g.Protect(okHandler(&called)).ServeHTTP(rr, req)
	if called || rr.Code != http.StatusForbidden {
		t.Fatalf("missing echoed token must 403, got %d", rr.Code)
	}
}

func TestProtectOriginCheck(t *testing.T) {
	g := New(config.Static{"AUTH_TRUSTED_ORIGINS": "https://studio.example.com"}, zap.NewNop())

	mk := func(origin string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "https://gate.example.com/admin/pages", nil)
		req.Host = "gate.example.com"
		req.AddCookie(&http.Cookie{Name: CookieName, Value: "tok123"})
		req.Header.Set(HeaderName, "tok123")
		req.Header.Set("Origin", origin)
		return req
	}

	cases := []struct {
		origin string
		allow  bool
	}{
		{"https://gate.example.com", true},
		{"https://studio.example.com", true},
		{"https://studio.example.com/", true},
		{"https://evil.example.net", false},
	}
	for _, tc := range cases {
		var called bool
		rr := httptest.NewRecorder()
		g.Protect(okHandler(&called)).ServeHTTP(rr, mk(tc.origin))
		if tc.allow && !called {
			t.Fatalf("origin %s should be allowed, got %d", tc.origin, rr.Code)
		}
		if !tc.allow && rr.Code != http.StatusForbidden {
			t.Fatalf("origin %s should be rejected, got %d", tc.origin, rr.Code)
		}
		if !tc.allow && decodeError(t, rr) != "origin_not_allowed" {
			t.Fatalf("origin %s wrong error body", tc.origin)
		}
	}
}
