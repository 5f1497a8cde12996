// pkg/core/router.go
package core

import (
	"net/http"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/manifest"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/csrf"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/logger"
	hmetrics "github.com/joeydtaylor/steeze-gate/pkg/middleware/metrics"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/ratelimit"
	"github.com/joeydtaylor/steeze-gate/pkg/session"
	httpx "github.com/joeydtaylor/steeze-gate/pkg/transport/httpx"
)

type BuildDeps struct {
	Session *session.Middleware
	Csrf    *csrf.Guard
	Limiter *ratelimit.Limiter
	LogMW   *logger.Middleware
	Metrics http.Handler
	Router  httpx.Router
	Auth    *AuthHandlers
	Log     *zap.Logger
}

// BuildRouter assembles the gate pipeline:
// request id -> access log -> metrics -> session state, then per-route
// rate limit -> csrf -> guard -> proxy.
func BuildRouter(cfg manifest.Config, d BuildDeps) http.Handler {
	r := d.Router
	r.Use(chimd.RequestID, chimd.Recoverer, chimd.Heartbeat("/ping"))

	if d.LogMW != nil {
		r.Use(d.LogMW.Middleware())
	}
	r.Use(hmetrics.Collect(session.RoleOf))
	r.Use(d.Session.Middleware())

	r.Handle(http.MethodGet, "/metrics", d.Metrics)
	r.Get("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// Identity endpoints: rate limited, never CSRF-guarded (login happens
	// before any token exists; logout is idempotent and cookie-clearing).
	r.Post("/auth/login", d.Limiter.Middleware("login")(http.HandlerFunc(d.Auth.Login)))
	r.Post("/auth/logout", d.Limiter.Middleware("logout")(http.HandlerFunc(d.Auth.Logout)))
	r.Get("/auth/session", http.HandlerFunc(d.Auth.Session))

	for _, rt := range cfg.Routes {
		h, err := newProxyHandler(rt.Upstream, d.Log)
		if err != nil {
			d.Log.Fatal("route upstream invalid", zap.String("path", rt.Path), zap.Error(err))
		}

		if rt.Guard.CSRF {
			h = d.Csrf.Protect(h)
		}
		if rl := rt.RateLimit; rl != nil && rl.Max > 0 {
			lim := d.Limiter.WithPolicy(rl.Max, time.Duration(rl.WindowSeconds)*time.Second)
			h = lim.Middleware(rt.Path)(h)
		}
		h = withGuard(h, rt.Guard, cfg.LoginPath)

		r.Mount(rt.Path, h)
	}
	return r.Mux()
}
