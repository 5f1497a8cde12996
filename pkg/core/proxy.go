// pkg/core/proxy.go
package core

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"
)

// newProxyHandler fronts one upstream of the admin surface. The manifest
// validated the URL already; a parse failure here is a programming error.
func newProxyHandler(upstream string, log *zap.Logger) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error("upstream proxy error",
			zap.String("upstream", target.Host),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":      "upstream_unreachable",
			"request_id": correlationID(r),
		})
	}
	return proxy, nil
}
