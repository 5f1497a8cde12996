// middleware/metrics/collectors.go
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	responseTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "response_time",
			Help:    "http response time.",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60},
		},
	)

	totalHttpRequestsFromRole = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests_from_role", Help: "http requests from role"},
		[]string{"role"},
	)

	totalHttpRequestsToUri = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests_to_uri", Help: "http requests to uri"},
		[]string{"code", "uri", "method"},
	)

	totalHttpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests", Help: "http requests by code, and method"},
		[]string{"code", "method"},
	)

	tokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gate_token_verifications_total", Help: "access token verification attempts by result"},
		[]string{"result"},
	)

	refreshRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gate_refresh_rotations_total", Help: "refresh token rotations by result"},
		[]string{"result"},
	)

	keySetFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gate_keyset_fetches_total", Help: "jwks fetches by forced flag"},
		[]string{"forced"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gate_rate_limited_total", Help: "requests rejected by the rate limiter"},
		[]string{"route"},
	)

	csrfRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gate_csrf_rejections_total", Help: "mutating requests rejected by the csrf guard"},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		responseTime,
		totalHttpRequestsFromRole,
		totalHttpRequestsToUri,
		totalHttpRequests,
		tokenVerifications,
		refreshRotations,
		keySetFetches,
		rateLimited,
		csrfRejections,
	)
}

// Recorders used by the auth pipeline. Labels carry event names only, never
// token material.

func ObserveVerification(result string) { tokenVerifications.WithLabelValues(result).Inc() }
func ObserveRotation(result string)     { refreshRotations.WithLabelValues(result).Inc() }
func ObserveRateLimited(route string)   { rateLimited.WithLabelValues(route).Inc() }
func ObserveCSRFRejection(reason string) {
	csrfRejections.WithLabelValues(reason).Inc()
}

func ObserveKeySetFetch(forced bool) {
	if forced {
		keySetFetches.WithLabelValues("true").Inc()
		return
	}
	keySetFetches.WithLabelValues("false").Inc()
}
