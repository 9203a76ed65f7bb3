package middleware

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type result struct {
	value any
	err   error
}

// TimeOutMiddleware stops waiting for next after timeout and returns
// ErrTimedOut. The body's context is cancelled too, but whether the remote
// call actually stops is up to the body.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(parent context.Context, call *Call) (any, error) {
			ctx, cancel := context.WithTimeout(parent, timeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				v, err := next(ctx, call)
				done <- result{value: v, err: err}
			}()

			select {
			case r := <-done:
				return r.value, r.err
			case <-ctx.Done():
				if parent.Err() != nil {
					return nil, parent.Err()
				}
				return nil, errors.Wrapf(ErrTimedOut, "%s exceeded %s", call.Key, timeout)
			}
		}
	}
}
