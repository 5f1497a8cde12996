// pkg/session/provide.go
package session

import (
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/config"
	"github.com/joeydtaylor/steeze-gate/pkg/kv"
)

// ProvideHTTPClient builds the shared client for provider traffic.
func ProvideHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    30 * time.Second,
			DisableCompression: false,
		},
		Timeout: 8 * time.Second,
	}
}

// ProvideKeySetCache derives the discovery URL from the provider base unless
// AUTH_JWKS_URL overrides it.
func ProvideKeySetCache(src config.Source, store kv.Store, hc *http.Client, log *zap.Logger) *KeySetCache {
	base := src.Get("AUTH_PROVIDER_URL")
	url := config.Str(src, "AUTH_JWKS_URL", DeriveIssuer(base)+"/.well-known/jwks.json")
	ttl := config.Seconds(src, "AUTH_JWKS_TTL_S", maxKeySetTTL)
	return NewKeySetCache(url, ttl, store, hc, log)
}

func ProvideVerifier(src config.Source, keys *KeySetCache, log *zap.Logger) (*Verifier, error) {
	return NewVerifier(src, keys, log)
}

func ProvideExchange(src config.Source, hc *http.Client, log *zap.Logger) (*Exchange, error) {
	return NewExchange(src, hc, log)
}

func ProvideCookies(src config.Source) *Cookies { return NewCookies(src) }

var Module = fx.Options(
	fx.Provide(ProvideHTTPClient),
	fx.Provide(ProvideKeySetCache),
	fx.Provide(ProvideVerifier),
	fx.Provide(ProvideExchange),
	fx.Provide(ProvideCookies),
	fx.Provide(NewMiddleware),
)
