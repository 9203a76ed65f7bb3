package client

import (
	"context"
	"reflect"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"ranger-rpc/command"
	"ranger-rpc/contract"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// method is the dispatch entry for one declared field, resolved once when
// the proxy is built.
type method struct {
	key      string
	md       *contract.MethodMetadata
	shape    command.Shape
	declared reflect.Type
	handler  *methodHandler
	fallback reflect.Value
}

// dispatcher runs every proxied call through its method's pool and
// substitutes the fallback on failure.
type dispatcher struct {
	pools  *command.Pools
	logger log.Logger
}

// install fills every declared field of api with a function that routes to
// its method entry.
func (d *dispatcher) install(api reflect.Value, methods []*method) {
	for _, m := range methods {
		field := api.FieldByName(m.md.Name)
		field.Set(reflect.MakeFunc(field.Type(), d.proxy(m)))
	}
}

func (d *dispatcher) proxy(m *method) func([]reflect.Value) []reflect.Value {
	return func(in []reflect.Value) []reflect.Value {
		callCtx := context.Background()
		args := in
		if m.md.HasContext {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				callCtx = c
			}
			args = in[1:]
		}
		argv := make([]any, len(args))
		for i, a := range args {
			argv[i] = a.Interface()
		}
		run := func(ctx context.Context) (any, error) {
			return d.execute(ctx, m, in, argv)
		}

		if m.shape == command.Direct {
			return m.results(run(callCtx))
		}
		return []reflect.Value{command.Bind(m.declared, run)}
	}
}

// execute performs one call: primary through the pool, then the fallback
// if the primary failed for any reason and one is bound.
func (d *dispatcher) execute(ctx context.Context, m *method, in []reflect.Value, argv []any) (any, error) {
	v, err := d.pools.Get(m.key).Execute(ctx, func(ctx context.Context) (v any, err error) {
		defer recoverInto(&err)
		return m.handler.invoke(ctx, argv)
	})
	if err == nil {
		return coerce(v, m.md.ReturnType)
	}
	if !m.fallback.IsValid() {
		return nil, errors.Wrap(err, m.key)
	}

	level.Warn(d.logger).Log("msg", "primary call failed, using fallback", "command", m.key, "err", err)
	fv, ferr := m.callFallback(ctx, in)
	if ferr == nil {
		fv, ferr = coerce(fv, m.md.ReturnType)
	}
	if ferr != nil {
		level.Error(d.logger).Log("msg", "fallback failed", "command", m.key, "err", ferr)
		return nil, &FallbackError{Command: m.key, Primary: err, Fallback: ferr}
	}
	return fv, nil
}

// callFallback invokes the fallback with the original arguments and
// extracts its value whatever shape it returns: a Command is executed, a
// Single or Observable is subscribed, a plain value is taken as is.
func (m *method) callFallback(ctx context.Context, in []reflect.Value) (v any, err error) {
	defer recoverInto(&err)

	out := m.fallback.Call(in)
	ft := m.fallback.Type()
	if n := ft.NumOut(); n > 0 && ft.Out(n-1) == errorType {
		if e, _ := out[n-1].Interface().(error); e != nil {
			return nil, e
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return nil, nil
	}
	if w, ok := out[0].Interface().(command.Wrapper); ok {
		if reflect.ValueOf(w).IsNil() {
			return nil, errors.Errorf("%s: fallback returned a nil %s", m.key, out[0].Type())
		}
		return command.Resolve(ctx, w)
	}
	return out[0].Interface(), nil
}

// results converts a Direct call's outcome to the declared outputs.
func (m *method) results(v any, err error) []reflect.Value {
	ft := m.md.Type
	out := make([]reflect.Value, 0, ft.NumOut())
	if ft.NumOut() == 2 {
		if v == nil || err != nil {
			out = append(out, reflect.Zero(ft.Out(0)))
		} else {
			out = append(out, reflect.ValueOf(v))
		}
	}
	if err == nil {
		return append(out, reflect.Zero(errorType))
	}
	return append(out, reflect.ValueOf(&err).Elem())
}

// coerce makes v assignable to t, so typed wrappers and declared outputs
// can take it directly.
func coerce(v any, t reflect.Type) (any, error) {
	if t == nil || v == nil {
		return v, nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type() == t:
		return v, nil
	case rv.Type().AssignableTo(t):
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out.Interface(), nil
	case rv.Type().ConvertibleTo(t) && rv.Kind() == t.Kind():
		return rv.Convert(t).Interface(), nil
	default:
		return nil, errors.Errorf("got %s, want %s", rv.Type(), t)
	}
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = errors.Errorf("panic: %v", r)
	}
}

// lookupFallback finds the fallback for the declared field name on fb: a
// method of that name, or a non-nil function field. Its parameters must
// match the declared ones exactly.
func lookupFallback(fb any, name string, declared reflect.Type) (reflect.Value, error) {
	if fb == nil {
		return reflect.Value{}, nil
	}
	v := reflect.ValueOf(fb)
	fn := v.MethodByName(name)
	if !fn.IsValid() {
		s := reflect.Indirect(v)
		if s.Kind() != reflect.Struct {
			return reflect.Value{}, errors.Errorf("fallback %s is not a struct", v.Type())
		}
		f := s.FieldByName(name)
		if !f.IsValid() || f.Kind() != reflect.Func || f.IsNil() {
			return reflect.Value{}, nil
		}
		fn = f
	}

	ft := fn.Type()
	if ft.NumIn() != declared.NumIn() || ft.IsVariadic() != declared.IsVariadic() {
		return reflect.Value{}, errors.Errorf("fallback %s has signature %s, want parameters of %s", name, ft, declared)
	}
	for i := 0; i < ft.NumIn(); i++ {
		if !declared.In(i).AssignableTo(ft.In(i)) {
			return reflect.Value{}, errors.Errorf("fallback %s parameter %d is %s, want %s", name, i, ft.In(i), declared.In(i))
		}
	}
	if n := ft.NumOut(); n > 2 || (n == 2 && ft.Out(1) != errorType) {
		return reflect.Value{}, errors.Errorf("fallback %s must return a value, an error or both", name)
	}
	return fn, nil
}
