// middleware/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/config"
	"github.com/joeydtaylor/steeze-gate/pkg/kv"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/metrics"
)

const keyPrefix = "rl"

// window is the stored counter for one {route, client, bucket} triple.
type window struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"resetAt"`
}

// Limiter is a fixed-window counter over the shared kv store. The count is a
// read-then-write pair with no cross-request locking: approximate by design
// given the store's consistency model. With no store it allows everything,
// prioritizing login-path availability over strict enforcement.
type Limiter struct {
	store kv.Store
	max   int
	win   time.Duration
	now   func() time.Time
	log   *zap.Logger
}

func New(store kv.Store, max int, win time.Duration, log *zap.Logger) *Limiter {
	if win <= 0 {
		win = time.Minute
	}
	if store == nil && log != nil {
		log.Warn("rate limiter has no counter store; failing open")
	}
	return &Limiter{store: store, max: max, win: win, now: time.Now, log: log}
}

// FromConfig builds the limiter guarding the identity endpoints.
func FromConfig(src config.Source, store kv.Store, log *zap.Logger) *Limiter {
	return New(
		store,
		config.Int(src, "AUTH_RATE_LIMIT_MAX", 10),
		config.Seconds(src, "AUTH_RATE_LIMIT_WINDOW_S", time.Minute),
		log,
	)
}

// WithPolicy derives a limiter sharing this one's counter store but with a
// route-specific threshold and window.
func (l *Limiter) WithPolicy(max int, win time.Duration) *Limiter {
	if win <= 0 {
		win = l.win
	}
	return &Limiter{store: l.store, max: max, win: win, now: l.now, log: l.log}
}

// Allow records one hit and reports whether it stays under the limit. Store
// errors degrade to allow.
func (l *Limiter) Allow(ctx context.Context, route, client string) (bool, time.Duration) {
	if l == nil || l.store == nil || l.max <= 0 {
		return true, 0
	}

	winSecs := int64(l.win / time.Second)
	now := l.now()
	bucket := now.Unix() / winSecs
	key := fmt.Sprintf("%s:%s:%s:%d", keyPrefix, route, client, bucket)

	var w window
	if raw, ok, err := l.store.Get(ctx, key); err != nil {
		l.log.Warn("rate counter read failed", zap.Error(err))
		return true, 0
	} else if ok {
		if err := json.Unmarshal(raw, &w); err != nil {
			w = window{}
		}
	}
	if w.ResetAt == 0 {
		w.ResetAt = (bucket + 1) * winSecs
	}

	w.Count++
	retryAfter := time.Duration(w.ResetAt-now.Unix()) * time.Second
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	raw, _ := json.Marshal(w)
	if err := l.store.Put(ctx, key, raw, retryAfter); err != nil {
		l.log.Warn("rate counter write failed", zap.Error(err))
		return true, 0
	}

	if w.Count > l.max {
		return false, retryAfter
	}
	return true, 0
}

// Middleware guards a single route, keyed by client identity.
func (l *Limiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := l.Allow(r.Context(), route, ClientID(r))
			if !ok {
				metrics.ObserveRateLimited(route)
				secs := int(retryAfter / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error":       "rate_limited",
					"retry_after": secs,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientID identifies the caller: connecting IP when parseable, else the
// user agent, else a shared fallback bucket.
func ClientID(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	if ua := r.UserAgent(); ua != "" {
		return ua
	}
	return "unknown"
}

var Module = fx.Options(
	fx.Provide(FromConfig),
)
