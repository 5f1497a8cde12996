// middleware/logger/middleware.go
package logger

import (
	"net/http"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/session"
)

type Middleware struct{}

// Middleware logs one line per request. Cookie values, tokens, and request
// bodies on auth routes are never logged; the correlation id ties access-log
// lines to error responses.
func (m *Middleware) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := httpAccessLogger

			ww := chimd.NewWrapResponseWriter(w, r.ProtoMajor)

			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}

			start := time.Now()
			defer func() {
				lat := time.Since(start)

				subject := ""
				role := ""
				if c := session.GetClaims(r.Context()); c != nil {
					subject = c.Subject
					role = c.Role
				}

				l.Info("",
					zap.String("dateTime", start.UTC().Format(time.RFC1123)),
					zap.String("requestId", chimd.GetReqID(r.Context())),
					zap.String("httpScheme", scheme),
					zap.Bool("isAuthenticated", session.IsAuthenticated(r.Context())),
					zap.String("subject", subject),
					zap.String("role", role),
					zap.String("httpProto", r.Proto),
					zap.String("httpMethod", r.Method),
					zap.String("remoteAddr", r.RemoteAddr),
					zap.String("uri", r.URL.Path),
					zap.Duration("lat", lat),
					zap.Int("responseSize", ww.BytesWritten()),
					zap.Int("status", ww.Status()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
