package middleware

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects calls beyond a token-bucket rate.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			if !limiter.Allow() {
				return nil, errors.Wrapf(ErrRejected, "%s: rate limit exceeded", call.Key)
			}
			return next(ctx, call)
		}
	}
}
