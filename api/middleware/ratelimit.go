package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/plm/crossbridge/apperr"
	redisstore "github.com/plm/crossbridge/storage/redis"
)

// RateLimit applies a per-user sliding-window limit to a handler.
func RateLimit(limiter *redisstore.EndpointLimiter, limit int64, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("ratelimit:%s:%s", r.URL.Path, UserID(r))

		result, err := limiter.Allow(r.Context(), key, limit, window)
		if err != nil {
			WriteError(w, apperr.Wrap(apperr.Internal, "rate limit check failed", err))
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			WriteError(w, apperr.New(apperr.InvalidInput, "rate limit exceeded"))
			return
		}

		next(w, r)
	}
}
