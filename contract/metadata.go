package contract

import (
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"ranger-rpc/codec"
)

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

type queryParam struct {
	name  string
	value string
}

type headerParam struct {
	name  string
	value string
}

// MethodMetadata describes how one declared method maps to a request.
type MethodMetadata struct {
	// ConfigKey is "Type#Field", unique per declared method.
	ConfigKey string
	// Name is the field name; fallbacks are matched on it.
	Name string
	// Type is the declared function type.
	Type reflect.Type
	// ReturnType is what the response body is decoded into. nil means the
	// method has no payload.
	ReturnType reflect.Type
	// HasContext is true when the first parameter is a context.Context.
	HasContext bool
	// ParamNames names the arguments after the optional context.
	ParamNames []string
	// BodyIndex is the argument encoded as the body, or -1.
	BodyIndex int

	HTTPMethod string
	Path       string
	query      []queryParam
	headers    []headerParam
}

// Expand builds the call's RequestTemplate from args (context excluded).
func (m *MethodMetadata) Expand(args []any, enc codec.Codec) (*RequestTemplate, error) {
	if len(args) != len(m.ParamNames) {
		return nil, errors.Errorf("contract: %s expects %d arguments, got %d", m.ConfigKey, len(m.ParamNames), len(args))
	}
	values := make(map[string]any, len(args))
	for i, name := range m.ParamNames {
		values[name] = args[i]
	}

	path := placeholder.ReplaceAllStringFunc(m.Path, func(s string) string {
		return url.PathEscape(toString(values[s[1:len(s)-1]]))
	})

	var query []string
	for _, q := range m.query {
		if name, ok := soleVariable(q.value); ok && values[name] == nil {
			continue
		}
		v := placeholder.ReplaceAllStringFunc(q.value, func(s string) string {
			return toString(values[s[1:len(s)-1]])
		})
		query = append(query, url.QueryEscape(q.name)+"="+url.QueryEscape(v))
	}
	u := path
	if len(query) > 0 {
		u += "?" + strings.Join(query, "&")
	}

	header := http.Header{}
	for _, h := range m.headers {
		if name, ok := soleVariable(h.value); ok && values[name] == nil {
			continue
		}
		header.Add(h.name, placeholder.ReplaceAllStringFunc(h.value, func(s string) string {
			return toString(values[s[1:len(s)-1]])
		}))
	}

	t := &RequestTemplate{Method: m.HTTPMethod, URL: u, Header: header}
	if m.BodyIndex >= 0 && !isNil(args[m.BodyIndex]) {
		body, err := enc.Encode(args[m.BodyIndex])
		if err != nil {
			return nil, errors.Wrapf(err, "contract: encode body of %s", m.ConfigKey)
		}
		t.Body = body
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", enc.ContentType())
		}
	}
	return t, nil
}

func soleVariable(v string) (string, bool) {
	m := placeholder.FindStringSubmatch(v)
	if m == nil || m[0] != v {
		return "", false
	}
	return m[1], true
}

func toString(v any) string {
	if isNil(v) {
		return ""
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		v = rv.Elem().Interface()
	}
	return fmt.Sprint(v)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
