package middleware

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			start := time.Now()
			v, err := next(ctx, call)
			duration := time.Since(start)
			if err != nil {
				level.Debug(logger).Log("msg", "command failed", "command", call.Key, "duration", duration, "err", err)
			} else {
				level.Debug(logger).Log("msg", "command succeeded", "command", call.Key, "duration", duration)
			}
			return v, err
		}
	}
}
