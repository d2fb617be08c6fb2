package middleware

import (
	"net/http"
	"strconv"

	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/ratelimit"
)

// RedisRateLimit enforces a per-IP requests-per-minute window shared
// across instances through Redis. A nil manager disables it. Redis errors
// fail open.
func RedisRateLimit(m *ratelimit.Manager, rpm int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil || rpm <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			allowed, reset, err := m.CheckRate(r.Context(), "ip:"+clientIP(r), rpm)
			if err != nil {
				logger.WithContext(r.Context()).Warn("rate limit check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rpm))
			if !allowed {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.Itoa(reset))
				write429(w, reset)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
