// pkg/session/keyset.go
package session

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/kv"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/metrics"
)

const (
	minKeySetTTL = 60 * time.Second
	maxKeySetTTL = 540 * time.Second
)

// KeySet holds the provider's published signing keys indexed by key id.
type KeySet struct {
	keys map[string]crypto.PublicKey
}

func (k *KeySet) Key(kid string) (crypto.PublicKey, bool) {
	pub, ok := k.keys[kid]
	return pub, ok
}

func (k *KeySet) Len() int { return len(k.keys) }

// KeySetCache fetches the provider's JWKS and caches the raw document in the
// shared kv store keyed by URL, so concurrent requests and gate replicas hit
// the network only when the entry is stale. The effective TTL is clamped to
// [60s, 540s] regardless of what was asked for, keeping staleness well inside
// typical key-rotation grace windows.
type KeySetCache struct {
	url   string
	ttl   time.Duration
	store kv.Store
	hc    HTTPDoer
	log   *zap.Logger
}

func NewKeySetCache(url string, ttl time.Duration, store kv.Store, hc HTTPDoer, log *zap.Logger) *KeySetCache {
	if ttl < minKeySetTTL {
		ttl = minKeySetTTL
	}
	if ttl > maxKeySetTTL {
		ttl = maxKeySetTTL
	}
	return &KeySetCache{url: url, ttl: ttl, store: store, hc: hc, log: log}
}

// TTL reports the clamped cache TTL.
func (c *KeySetCache) TTL() time.Duration { return c.ttl }

func (c *KeySetCache) cacheKey() string { return "jwks:" + c.url }

// Fetch returns the key set, from cache when possible. force evicts the
// cached entry first (best effort) and always goes to the network. Retry
// policy lives in the Verifier; a failed fetch is fatal for this call.
func (c *KeySetCache) Fetch(ctx context.Context, force bool) (*KeySet, error) {
	if !force {
		if raw, ok, err := c.store.Get(ctx, c.cacheKey()); err == nil && ok {
			if ks, perr := parseJWKS(raw); perr == nil {
				return ks, nil
			}
			// corrupt cache entry; fall through to the network
		} else if err != nil {
			c.log.Warn("jwks cache read failed", zap.Error(err))
		}
	} else {
		// Best-effort evict; the subsequent store overwrites anyway.
		_ = c.store.Delete(ctx, c.cacheKey())
	}

	metrics.ObserveKeySetFetch(force)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if force {
		req.Header.Set("Cache-Control", "no-cache")
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks fetch: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("jwks fetch %s: %s", c.url, res.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	ks, err := parseJWKS(raw)
	if err != nil {
		return nil, err
	}

	if err := c.store.Put(ctx, c.cacheKey(), raw, c.ttl); err != nil {
		c.log.Warn("jwks cache write failed", zap.Error(err))
	}
	return ks, nil
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		Alg string `json:"alg"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
		X   string `json:"x"`
		Y   string `json:"y"`
		Crv string `json:"crv"`
	} `json:"keys"`
}

func parseJWKS(raw []byte) (*KeySet, error) {
	var doc jwksDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("jwks decode: %w", err)
	}
	if len(doc.Keys) == 0 {
		return nil, errors.New("jwks missing keys")
	}

	out := &KeySet{keys: make(map[string]crypto.PublicKey, len(doc.Keys))}
	for i := range doc.Keys {
		k := &doc.Keys[i]
		if k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		switch k.Kty {
		case "RSA":
			nBytes, err := b64url(k.N)
			if err != nil {
				return nil, fmt.Errorf("bad jwks.n: %w", err)
			}
			eBytes, err := b64url(k.E)
			if err != nil {
				return nil, fmt.Errorf("bad jwks.e: %w", err)
			}
			out.keys[k.Kid] = &rsa.PublicKey{
				N: new(big.Int).SetBytes(nBytes),
				E: bytesToInt(eBytes),
			}
		case "EC":
			curve, ok := curveByName(k.Crv)
			if !ok {
				continue
			}
			xBytes, err := b64url(k.X)
			if err != nil {
				return nil, fmt.Errorf("bad jwks.x: %w", err)
			}
			yBytes, err := b64url(k.Y)
			if err != nil {
				return nil, fmt.Errorf("bad jwks.y: %w", err)
			}
			out.keys[k.Kid] = &ecdsa.PublicKey{
				Curve: curve,
				X:     new(big.Int).SetBytes(xBytes),
				Y:     new(big.Int).SetBytes(yBytes),
			}
		default:
			// unsupported kty; skip
		}
	}
	if len(out.keys) == 0 {
		return nil, errors.New("jwks has no usable signing keys")
	}
	return out, nil
}

func curveByName(crv string) (elliptic.Curve, bool) {
	switch crv {
	case "P-256":
		return elliptic.P256(), true
	case "P-384":
		return elliptic.P384(), true
	case "P-521":
		return elliptic.P521(), true
	default:
		return nil, false
	}
}

func b64url(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

func bytesToInt(b []byte) int {
	// little helper for RSA exponent
	n := 0
	for _, v := range b {
		n = n<<8 | int(v)
	}
	if n == 0 {
		return 65537
	}
	return n
}
