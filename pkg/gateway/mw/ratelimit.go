package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/callsim/pkg/core"
	"github.com/vango-go/callsim/pkg/gateway/metrics"
	"github.com/vango-go/callsim/pkg/gateway/ratelimit"
)

// RateLimit applies the per-client token bucket to every request except
// health checks, metrics scrapes and CORS preflights.
func RateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/healthz", r.URL.Path == "/readyz", r.URL.Path == "/metrics":
			next.ServeHTTP(w, r)
			return
		case r.Method == http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		dec := limiter.AcquireRequest(ratelimit.ClientKey(r), time.Now())
		if !dec.Allowed {
			m.RecordRateLimitHit("requests")
			reqID, _ := RequestIDFrom(r.Context())
			WriteRateLimited(w, reqID, dec.RetryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WriteRateLimited answers 429 with Retry-After when known.
func WriteRateLimited(w http.ResponseWriter, requestID string, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	e := core.NewRateLimitError("rate limit exceeded", retryAfter)
	e.RequestID = requestID
	writeJSONError(w, http.StatusTooManyRequests, e)
}
