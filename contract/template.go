package contract

import (
	"net/http"
	"strings"

	"ranger-rpc/transport"
)

// RequestTemplate is one call's request before a target has given it a base
// URL. URL is relative (path plus query).
type RequestTemplate struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Insert prepends base to the relative URL. A trailing slash on base is
// dropped so the two never double up.
func (t *RequestTemplate) Insert(base string) {
	base = strings.TrimSuffix(base, "/")
	switch {
	case t.URL == "":
		t.URL = base
	case strings.HasPrefix(t.URL, "/") || strings.HasPrefix(t.URL, "?"):
		t.URL = base + t.URL
	default:
		t.URL = base + "/" + t.URL
	}
}

// Request finalizes the template.
func (t *RequestTemplate) Request() *transport.Request {
	return &transport.Request{
		Method: t.Method,
		URL:    t.URL,
		Header: t.Header.Clone(),
		Body:   t.Body,
	}
}

// Interceptor mutates every template before the target is applied.
type Interceptor func(t *RequestTemplate)
