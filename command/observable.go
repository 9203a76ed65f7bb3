package command

import (
	"context"
	"reflect"
)

// Observer receives an Observable's notifications. Nil callbacks are
// skipped.
type Observer[T any] struct {
	OnNext      func(T)
	OnError     func(error)
	OnCompleted func()
}

// Observable is a cold source that emits exactly one value (or an error)
// per subscription.
type Observable[T any] struct {
	run RunFunc
}

// NewObservable wraps fn.
func NewObservable[T any](fn func(ctx context.Context) (T, error)) *Observable[T] {
	return &Observable[T]{run: wrap(fn)}
}

// JustObservable returns an Observable that always emits v.
func JustObservable[T any](v T) *Observable[T] {
	return &Observable[T]{run: just(v)}
}

// Subscribe performs the call in the background and notifies obs. The
// returned channel closes after the last notification.
func (o *Observable[T]) Subscribe(ctx context.Context, obs Observer[T]) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := o.First(ctx)
		if err != nil {
			if obs.OnError != nil {
				obs.OnError(err)
			}
			return
		}
		if obs.OnNext != nil {
			obs.OnNext(v)
		}
		if obs.OnCompleted != nil {
			obs.OnCompleted()
		}
	}()
	return done
}

// First subscribes and blocks for the value.
func (o *Observable[T]) First(ctx context.Context) (T, error) {
	return cast[T](run(ctx, o.run))
}

// ToSingle views the Observable as a Single over the same call.
func (o *Observable[T]) ToSingle() *Single[T] {
	return &Single[T]{run: o.run}
}

func (*Observable[T]) Shape() Shape { return SingleAsync }

func (*Observable[T]) PayloadType() reflect.Type { return reflect.TypeFor[T]() }

func (o *Observable[T]) bind(run RunFunc) { o.run = run }

func (o *Observable[T]) resolve(ctx context.Context) (any, error) {
	return o.First(ctx)
}
