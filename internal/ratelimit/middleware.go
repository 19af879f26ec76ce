package ratelimit

import (
	"net/http"

	"trainerhub-auth/internal/httpjson"
	"trainerhub-auth/internal/observability"
)

// Policy controls how Middleware guards one route.
type Policy struct {
	Enabled bool
	// ResetOnSuccess clears the key after a 2xx response.
	ResetOnSuccess bool
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware limits next per client IP under action. A disabled policy is a
// pass-through. Limiter failures are logged and the request is let through.
func Middleware(limiter Limiter, action string, policy Policy, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.Enabled || limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := Key(action, observability.ClientIP(r))

			decision, err := limiter.Check(r.Context(), key)
			if err != nil {
				logger.Error("rate_limit_check_failed", map[string]any{"action": action, "error": err.Error()})
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				logger.Warn("rate_limited", map[string]any{"action": action, "key": key})
				httpjson.RetryAfter(w, decision.RetryAfter)
				httpjson.Error(w, http.StatusTooManyRequests, "too many attempts, try again later")
				return
			}

			if !policy.ResetOnSuccess {
				next.ServeHTTP(w, r)
				return
			}

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			if recorder.status >= 200 && recorder.status < 300 {
				if err := limiter.Reset(r.Context(), key); err != nil {
					logger.Error("rate_limit_reset_failed", map[string]any{"action": action, "error": err.Error()})
				}
			}
		})
	}
}
