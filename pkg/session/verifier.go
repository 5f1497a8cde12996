// pkg/session/verifier.go
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/config"
)

var (
	// ErrExpired marks the only verification failure class that makes a
	// request eligible for refresh rotation.
	ErrExpired = errors.New("access token expired")

	// errNoKey marks the key-lookup failure class; together with a signature
	// mismatch it is the only class that triggers the one-shot key refetch.
	errNoKey = errors.New("no key matches token key id")

	ErrIssuerMismatch   = errors.New("issuer mismatch")
	ErrAudienceMismatch = errors.New("audience mismatch")

	// ErrDevModeNonLocal fails closed when the symmetric-secret flag is set
	// against a provider that does not resolve to loopback.
	ErrDevModeNonLocal = errors.New("DEV_SUPABASE_LOCAL set but provider URL is not loopback")
)

var asymmetricAlgs = []string{"RS256", "RS384", "RS512", "ES256", "ES384"}

// Verifier validates access tokens against the cached key set, with exactly
// one forced key refetch when verification fails in the key-lookup/signature
// class. Structural failures (issuer, audience, expiry, algorithm) are never
// retried; refetching keys cannot repair them.
type Verifier struct {
	keys     *KeySetCache
	issuer   string
	audience string
	leeway   time.Duration

	// devSecret is non-nil only when DEV_SUPABASE_LOCAL is set and the
	// provider URL is loopback.
	devSecret []byte

	log *zap.Logger
}

func NewVerifier(src config.Source, keys *KeySetCache, log *zap.Logger) (*Verifier, error) {
	providerURL := src.Get("AUTH_PROVIDER_URL")
	if providerURL == "" {
		return nil, errors.New("AUTH_PROVIDER_URL not set")
	}

	v := &Verifier{
		keys:     keys,
		issuer:   config.Str(src, "AUTH_JWT_ISS", DeriveIssuer(providerURL)),
		audience: src.Get("AUTH_JWT_AUD"),
		leeway:   config.Seconds(src, "AUTH_JWT_LEEWAY_S", 60*time.Second),
		log:      log,
	}

	if config.Bool(src, "DEV_SUPABASE_LOCAL") {
		if !isLoopbackURL(providerURL) {
			return nil, ErrDevModeNonLocal
		}
		secret := src.Get("AUTH_JWT_SECRET")
		if secret == "" {
			return nil, errors.New("DEV_SUPABASE_LOCAL set but AUTH_JWT_SECRET empty")
		}
		v.devSecret = []byte(secret)
		log.Warn("symmetric-secret token verification enabled (local development only)")
	}

	return v, nil
}

// DeriveIssuer maps a provider base URL to the issuer its tokens carry.
func DeriveIssuer(base string) string {
	return strings.TrimRight(base, "/") + "/auth/v1"
}

func isLoopbackURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// Verify checks signature, algorithm, issuer, audience, and time claims with
// symmetric leeway. On a key-lookup or signature failure it forces one key-set
// refresh and retries exactly once; total key fetches for a request never
// exceed two.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	if v.devSecret != nil {
		return v.verifyWithKeyfunc(raw, []string{"HS256"}, func(t *jwt.Token) (any, error) {
			return v.devSecret, nil
		})
	}

	ks, err := v.keys.Fetch(ctx, false)
	if err != nil {
		return nil, err
	}

	claims, err := v.verifyAgainst(ks, raw)
	if err == nil || !isKeyClass(err) {
		return claims, err
	}

	ks, ferr := v.keys.Fetch(ctx, true)
	if ferr != nil {
		return nil, ferr
	}
	return v.verifyAgainst(ks, raw)
}

func (v *Verifier) verifyAgainst(ks *KeySet, raw string) (*Claims, error) {
	return v.verifyWithKeyfunc(raw, asymmetricAlgs, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errNoKey
		}
		pub, ok := ks.Key(kid)
		if !ok {
			return nil, errNoKey
		}
		return pub, nil
	})
}

func (v *Verifier) verifyWithKeyfunc(raw string, algs []string, kf jwt.Keyfunc) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(algs),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)

	claims := &Claims{}
	tok, err := parser.ParseWithClaims(raw, claims, kf)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		case errors.Is(err, errNoKey):
			return nil, errNoKey
		default:
			return nil, err
		}
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}

	if claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: got %q", ErrIssuerMismatch, claims.Issuer)
	}
	if v.audience != "" {
		found := false
		for _, a := range claims.Audience {
			if a == v.audience {
				found = true
				break
			}
		}
		if !found {
			return nil, ErrAudienceMismatch
		}
	}
	return claims, nil
}

func isKeyClass(err error) bool {
	return errors.Is(err, errNoKey) || errors.Is(err, jwt.ErrTokenSignatureInvalid)
}
