package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"reconcile/internal/platform/middleware"
	dErrors "reconcile/pkg/domain-errors"
	"reconcile/pkg/platform/httputil"
)

// Middleware limits requests per client IP under scope. Limiter errors let the
// request through.
func Middleware(l *Limiter, scope string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := middleware.ClientIP(r)

			result, err := l.Allow(ctx, scope+":"+ip)
			if err != nil {
				logger.ErrorContext(ctx, "failed to check rate limit",
					"request_id", middleware.GetRequestID(ctx),
					"client_ip", ip,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			addHeaders(w, result)
			if !result.Allowed {
				logger.WarnContext(ctx, "rate limit exceeded",
					"request_id", middleware.GetRequestID(ctx),
					"client_ip", ip,
					"scope", scope,
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addHeaders(w http.ResponseWriter, result *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if result.Degraded {
		w.Header().Set("X-RateLimit-Status", "degraded")
	}
}
