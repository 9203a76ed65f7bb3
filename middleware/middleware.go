// Package middleware is the execution chain every command runs through.
//
// A command pool builds one chain at creation:
//
//	Logging → Timeout → Admission → RateLimit → body
//
// Admission sits inside Timeout so a permit is held until the body really
// returns, not just until the caller stops waiting.
package middleware

import (
	"context"
	"errors"
)

var (
	// ErrRejected means the pool refused to start the call.
	ErrRejected = errors.New("command rejected")
	// ErrTimedOut means the pool stopped waiting for the call.
	ErrTimedOut = errors.New("command timed out")
)

// Call is one execution of a command body.
type Call struct {
	Key string
	Run func(ctx context.Context) (any, error)
}

type HandlerFunc func(ctx context.Context, call *Call) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Invoke is the terminal handler: it runs the call's body.
func Invoke(ctx context.Context, call *Call) (any, error) {
	return call.Run(ctx)
}

// Chain combines middlewares; the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
