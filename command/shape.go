package command

import (
	"context"
	"fmt"
	"reflect"
)

// Shape is how a declared method hands its result to the caller.
type Shape int

const (
	// Direct blocks and returns the value.
	Direct Shape = iota
	// DeferredCommand returns a *Command the caller must run.
	DeferredCommand
	// SingleAsync returns a cold *Single or *Observable; every subscription
	// performs the call again.
	SingleAsync
)

func (s Shape) String() string {
	switch s {
	case Direct:
		return "direct"
	case DeferredCommand:
		return "deferred-command"
	case SingleAsync:
		return "single-async"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// RunFunc produces one call's value.
type RunFunc func(ctx context.Context) (any, error)

// Result is a value or an error delivered asynchronously.
type Result[T any] struct {
	Value T
	Err   error
}

// Wrapper is implemented by *Command[T], *Single[T] and *Observable[T].
type Wrapper interface {
	Shape() Shape
	// PayloadType is T.
	PayloadType() reflect.Type

	bind(run RunFunc)
	resolve(ctx context.Context) (any, error)
}

var wrapperType = reflect.TypeOf((*Wrapper)(nil)).Elem()

// ShapeOf reports the shape of a declared return type and its payload type.
// Anything that is not a wrapper is Direct with itself as payload.
func ShapeOf(t reflect.Type) (Shape, reflect.Type) {
	if t == nil || !t.Implements(wrapperType) || t.Kind() != reflect.Pointer {
		return Direct, t
	}
	w := reflect.Zero(t).Interface().(Wrapper)
	return w.Shape(), w.PayloadType()
}

// Bind allocates a wrapper of type t (as reported by ShapeOf) whose
// executions call run.
func Bind(t reflect.Type, run RunFunc) reflect.Value {
	v := reflect.New(t.Elem())
	v.Interface().(Wrapper).bind(run)
	return v
}

// Resolve extracts the value v stands for: a Command is executed, a Single
// or Observable is subscribed and its first value taken. Any other value is
// returned as is.
func Resolve(ctx context.Context, v any) (any, error) {
	w, ok := v.(Wrapper)
	if !ok || reflect.ValueOf(w).IsNil() {
		return v, nil
	}
	return w.resolve(ctx)
}

func cast[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("command: got %T, want %s", v, reflect.TypeFor[T]())
	}
	return t, nil
}

func run(ctx context.Context, fn RunFunc) (any, error) {
	if fn == nil {
		return nil, fmt.Errorf("command: not bound to a call")
	}
	return fn(ctx)
}

func wrap[T any](fn func(ctx context.Context) (T, error)) RunFunc {
	return func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
}

func just[T any](v T) RunFunc {
	return func(context.Context) (any, error) {
		return v, nil
	}
}
