package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gustavoferreira/dropmart-backend/api/responses"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
)

type FixedWindowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// CheckoutRateLimit throttles checkout attempts per caller, keyed on the
// authenticated user when available and the client IP otherwise.
func CheckoutRateLimit(limiter FixedWindowLimiter, perMinute int, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || perMinute <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			caller := UserIDFromContext(ctx)
			if caller == "" {
				caller = "ip:" + clientIP(r)
			}
			scope := fmt.Sprintf("checkout:%s", caller)

			allowed, count, err := limiter.FixedWindowAllow(ctx, scope, int64(perMinute), time.Minute)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}
			if !allowed {
				if logg != nil {
					logCtx := logg.WithFields(ctx, map[string]any{
						"caller":   caller,
						"attempts": count,
						"limit":    perMinute,
					})
					logg.Warn(logCtx, "checkout.rate_limit.blocked")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
