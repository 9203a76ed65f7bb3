package middleware

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// AdmissionMiddleware admits at most maxConcurrent calls at once. Calls over
// the limit are rejected immediately, never queued.
func AdmissionMiddleware(maxConcurrent int64) Middleware {
	sem := semaphore.NewWeighted(maxConcurrent)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			if !sem.TryAcquire(1) {
				return nil, errors.Wrapf(ErrRejected, "%s: max concurrent executions (%d) reached", call.Key, maxConcurrent)
			}
			defer sem.Release(1)
			return next(ctx, call)
		}
	}
}
