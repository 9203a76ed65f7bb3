// Package transport sends finished requests over HTTP.
//
// The client package builds a Request from a contract template and a base
// URL chosen by the target; a Client executes it and hands back the raw
// Response for decoding. Retries for transient network errors live here and
// nowhere else.
package transport

import (
	"fmt"
	"net/http"
)

// Request is a fully resolved outgoing call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %s", r.Method, r.URL)
}

// Response is the raw result of a call.
type Response struct {
	Status  int
	Header  http.Header
	Body    []byte
	Request *Request
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}
