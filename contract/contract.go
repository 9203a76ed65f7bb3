// Package contract maps declared service methods to HTTP request templates.
//
// A service is declared as a struct of function fields:
//
//	type OrdersAPI struct {
//		Get  func(ctx context.Context, id string) (*Order, error)  `rpc:"GET /orders/{id}" params:"id"`
//		Find func(ctx context.Context, q string) *command.Single[[]Order] `rpc:"GET /orders?q={q}" params:"q"`
//	}
//
// The Default contract reads the tags. Delegating wraps any contract and
// unwraps async return types so the decoder sees the real payload type.
package contract

import (
	"context"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// Contract produces metadata for every method of a declared service type.
type Contract interface {
	ParseAndValidateMetadata(apiType reflect.Type) ([]*MethodMetadata, error)
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Default reads `rpc`, `params` and `headers` struct tags.
type Default struct{}

// ParseAndValidateMetadata parses every exported function field of apiType
// (a struct or pointer to struct). Every such field needs an `rpc` tag.
func (Default) ParseAndValidateMetadata(apiType reflect.Type) ([]*MethodMetadata, error) {
	if apiType.Kind() == reflect.Pointer {
		apiType = apiType.Elem()
	}
	if apiType.Kind() != reflect.Struct {
		return nil, errors.Errorf("contract: %s must be a struct of function fields", apiType)
	}

	var out []*MethodMetadata
	for i := 0; i < apiType.NumField(); i++ {
		field := apiType.Field(i)
		if !field.IsExported() || field.Type.Kind() != reflect.Func {
			continue
		}
		md, err := parseField(apiType, field)
		if err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("contract: %s declares no methods", apiType)
	}
	return out, nil
}

func parseField(apiType reflect.Type, field reflect.StructField) (*MethodMetadata, error) {
	key := apiType.Name() + "#" + field.Name
	ft := field.Type
	md := &MethodMetadata{
		ConfigKey: key,
		Name:      field.Name,
		Type:      ft,
		BodyIndex: -1,
	}

	line, ok := field.Tag.Lookup("rpc")
	if !ok {
		return nil, errors.Errorf("contract: %s has no rpc tag", key)
	}
	method, rest, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok || method == "" || rest == "" {
		return nil, errors.Errorf("contract: %s: rpc tag must be \"METHOD /path\", got %q", key, line)
	}
	md.HTTPMethod = strings.ToUpper(method)
	path, rawQuery, _ := strings.Cut(strings.TrimSpace(rest), "?")
	md.Path = path
	if rawQuery != "" {
		for _, pair := range strings.Split(rawQuery, "&") {
			name, value, _ := strings.Cut(pair, "=")
			if name == "" {
				continue
			}
			md.query = append(md.query, queryParam{name: name, value: value})
		}
	}
	if raw := field.Tag.Get("headers"); raw != "" {
		for _, h := range strings.Split(raw, ";") {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return nil, errors.Errorf("contract: %s: malformed header %q", key, h)
			}
			md.headers = append(md.headers, headerParam{name: strings.TrimSpace(name), value: strings.TrimSpace(value)})
		}
	}

	// Parameters.
	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		md.HasContext = true
		first = 1
	}
	if ft.IsVariadic() {
		return nil, errors.Errorf("contract: %s must not be variadic", key)
	}
	argCount := ft.NumIn() - first
	if raw := field.Tag.Get("params"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			md.ParamNames = append(md.ParamNames, strings.TrimSpace(p))
		}
	} else if argCount == 1 {
		md.ParamNames = []string{"body"}
	}
	if len(md.ParamNames) != argCount {
		return nil, errors.Errorf("contract: %s has %d arguments but params names %d", key, argCount, len(md.ParamNames))
	}
	if err := md.bindBody(); err != nil {
		return nil, err
	}

	// Results.
	switch {
	case ft.NumOut() == 1 && ft.Out(0) == errorType:
	case ft.NumOut() == 1:
		md.ReturnType = ft.Out(0)
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		md.ReturnType = ft.Out(0)
	default:
		return nil, errors.Errorf("contract: %s must return (T, error), error or an async wrapper", key)
	}
	return md, nil
}

// bindBody checks every placeholder names a parameter and picks the single
// unreferenced parameter, if any, as the body.
func (md *MethodMetadata) bindBody() error {
	referenced := map[string]bool{}
	texts := []string{md.Path}
	for _, q := range md.query {
		texts = append(texts, q.value)
	}
	for _, h := range md.headers {
		texts = append(texts, h.value)
	}
	known := map[string]bool{}
	for _, n := range md.ParamNames {
		known[n] = true
	}
	for _, text := range texts {
		for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
			if !known[m[1]] {
				return errors.Errorf("contract: %s references unknown parameter %q", md.ConfigKey, m[1])
			}
			referenced[m[1]] = true
		}
	}
	for i, n := range md.ParamNames {
		if referenced[n] {
			continue
		}
		if md.BodyIndex >= 0 {
			return errors.Errorf("contract: %s has more than one body parameter (%s, %s)", md.ConfigKey, md.ParamNames[md.BodyIndex], n)
		}
		md.BodyIndex = i
	}
	return nil
}
