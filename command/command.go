package command

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
)

// ErrAlreadyExecuted is returned when a Command is run a second time.
var ErrAlreadyExecuted = errors.New("command: already executed")

// Command is a deferred call. Nothing happens until Execute or Queue; a
// Command runs at most once.
type Command[T any] struct {
	run      RunFunc
	executed atomic.Bool
}

// NewCommand wraps fn, for fallbacks and tests.
func NewCommand[T any](fn func(ctx context.Context) (T, error)) *Command[T] {
	return &Command[T]{run: wrap(fn)}
}

// Execute runs the command and blocks for its value.
func (c *Command[T]) Execute(ctx context.Context) (T, error) {
	if !c.executed.CompareAndSwap(false, true) {
		var zero T
		return zero, ErrAlreadyExecuted
	}
	return cast[T](run(ctx, c.run))
}

// Queue runs the command in the background.
func (c *Command[T]) Queue(ctx context.Context) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := c.Execute(ctx)
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}

func (*Command[T]) Shape() Shape { return DeferredCommand }

func (*Command[T]) PayloadType() reflect.Type { return reflect.TypeFor[T]() }

func (c *Command[T]) bind(run RunFunc) { c.run = run }

func (c *Command[T]) resolve(ctx context.Context) (any, error) {
	return c.Execute(ctx)
}
