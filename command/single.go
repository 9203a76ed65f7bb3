package command

import (
	"context"
	"reflect"
)

// Single is a cold single-value source: each Get or Subscribe performs the
// call again.
type Single[T any] struct {
	run RunFunc
}

// NewSingle wraps fn.
func NewSingle[T any](fn func(ctx context.Context) (T, error)) *Single[T] {
	return &Single[T]{run: wrap(fn)}
}

// Just returns a Single that always yields v.
func Just[T any](v T) *Single[T] {
	return &Single[T]{run: just(v)}
}

// Get subscribes and blocks for the value.
func (s *Single[T]) Get(ctx context.Context) (T, error) {
	return cast[T](run(ctx, s.run))
}

// Subscribe performs the call in the background and delivers one Result.
func (s *Single[T]) Subscribe(ctx context.Context) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := s.Get(ctx)
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}

func (*Single[T]) Shape() Shape { return SingleAsync }

func (*Single[T]) PayloadType() reflect.Type { return reflect.TypeFor[T]() }

func (s *Single[T]) bind(run RunFunc) { s.run = run }

func (s *Single[T]) resolve(ctx context.Context) (any, error) {
	return s.Get(ctx)
}
