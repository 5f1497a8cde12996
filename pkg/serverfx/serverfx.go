// pkg/serverfx/serverfx.go
package serverfx

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/bundlefx"
	"github.com/joeydtaylor/steeze-gate/pkg/core"
	"github.com/joeydtaylor/steeze-gate/pkg/manifest"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/csrf"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/logger"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/ratelimit"
	"github.com/joeydtaylor/steeze-gate/pkg/session"
	httpx "github.com/joeydtaylor/steeze-gate/pkg/transport/httpx"
)

// ---------- Options ----------

type Config struct {
	Service         string // for logs only
	ManifestEnv     string // e.g., GATE_MANIFEST
	DefaultManifest string // e.g., "manifest.toml"
	ListenEnv       string // SERVER_LISTEN_ADDRESS
	TLSCertEnv      string // SSL_SERVER_CERTIFICATE
	TLSKeyEnv       string // SSL_SERVER_KEY
}

type Option func(*Config)

func WithService(s string) Option            { return func(c *Config) { c.Service = s } }
func WithManifestEnv(k string) Option        { return func(c *Config) { c.ManifestEnv = k } }
func WithDefaultManifest(path string) Option { return func(c *Config) { c.DefaultManifest = path } }
func WithListenEnv(k string) Option          { return func(c *Config) { c.ListenEnv = k } }
func WithTLSCertKeyEnv(cert, key string) Option {
	return func(c *Config) { c.TLSCertEnv, c.TLSKeyEnv = cert, key }
}

func defaultConfig() Config {
	return Config{
		Service:         "gate",
		ManifestEnv:     "GATE_MANIFEST",
		DefaultManifest: "manifest.toml",
		ListenEnv:       "SERVER_LISTEN_ADDRESS",
		TLSCertEnv:      "SSL_SERVER_CERTIFICATE",
		TLSKeyEnv:       "SSL_SERVER_KEY",
	}
}

// Module returns a complete Fx option set; add app-specific fx.Invoke(...)
// alongside.
func Module(opts ...Option) fx.Option {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return fx.Options(
		bundlefx.Module,
		fx.Provide(func() Config { return cfg }),
		fx.Provide(httpx.NewChi),
		fx.Provide(core.NewAuthHandlers),
		fx.Provide(fx.Annotate(
			provideRouter,
			fx.ParamTags(``, ``, ``, ``, ``, `name:"metrics"`, ``, ``, ``),
			fx.ResultTags(`name:"app"`),
		)),
		fx.Invoke(registerHooks),
	)
}

// ---------- Router ----------

func provideRouter(
	cfg Config,
	sess *session.Middleware,
	guard *csrf.Guard,
	lim *ratelimit.Limiter,
	lm *logger.Middleware,
	/* name:"metrics" */ m http.Handler,
	r httpx.Router,
	auth *core.AuthHandlers,
	zl *zap.Logger,
) http.Handler {
	cfgPath := envOr(cfg.ManifestEnv, cfg.DefaultManifest)
	man, err := manifest.Load(cfgPath)
	if err != nil {
		zl.Fatal("manifest load failed", zap.Error(err), zap.String("path", cfgPath))
	}

	return core.BuildRouter(man, core.BuildDeps{
		Session: sess,
		Csrf:    guard,
		Limiter: lim,
		LogMW:   lm,
		Metrics: m,
		Router:  r,
		Auth:    auth,
		Log:     zl,
	})
}

// ---------- Lifecycle ----------

type serverDeps struct {
	fx.In
	Logger *zap.Logger
	Keys   *session.KeySetCache
	App    http.Handler `name:"app"`
}

func registerHooks(lc fx.Lifecycle, cfg Config, d serverDeps) {
	cfgPath := envOr(cfg.ManifestEnv, cfg.DefaultManifest)
	man, err := manifest.Load(cfgPath)
	if err != nil {
		d.Logger.Fatal("manifest load failed", zap.Error(err), zap.String("path", cfgPath))
	}

	addr := envOr(cfg.ListenEnv, man.Listen)
	if addr == "" {
		addr = ":4000"
	}
	cert := os.Getenv(cfg.TLSCertEnv)
	key := os.Getenv(cfg.TLSKeyEnv)

	srv := &http.Server{
		Addr:         addr,
		Handler:      d.App,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		TLSConfig:    &tls.Config{MinVersion: tls.VersionTLS13, MaxVersion: tls.VersionTLS13},
	}
	useTLS := fileExists(cert) && fileExists(key)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// Warm the key cache so the first request skips the fetch;
			// non-fatal, the verifier refetches on demand.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if _, err := d.Keys.Fetch(ctx, false); err != nil {
					d.Logger.Warn("key set warmup failed", zap.Error(err))
				}
			}()

			if useTLS {
				d.Logger.Info("server starting (TLS)",
					zap.String("service", cfg.Service),
					zap.String("addr", addr),
				)
				go func() {
					if err := srv.ListenAndServeTLS(cert, key); err != nil && !errors.Is(err, http.ErrServerClosed) {
						d.Logger.Fatal("server failed", zap.Error(err))
					}
				}()
			} else {
				d.Logger.Info("server starting (PLAINTEXT)",
					zap.String("service", cfg.Service),
					zap.String("addr", addr),
				)
				go func() {
					srv.TLSConfig = nil
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						d.Logger.Fatal("server failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Logger.Info("server stopping", zap.String("service", cfg.Service))
			return srv.Shutdown(ctx)
		},
	})
}

// ---------- tiny helpers ----------

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
