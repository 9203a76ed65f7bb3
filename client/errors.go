package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrPrimaryCallFailed marks a transport failure, a non-2xx response or
	// an undecodable body.
	ErrPrimaryCallFailed = errors.New("client: primary call failed")
	// ErrFallbackFailed marks a call whose fallback also failed.
	ErrFallbackFailed = errors.New("client: fallback failed")
)

// StatusError is a non-2xx response. It matches ErrPrimaryCallFailed.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d %s", e.Method, e.URL, e.Status, http.StatusText(e.Status))
}

func (e *StatusError) Is(target error) bool {
	return target == ErrPrimaryCallFailed
}

// FallbackError is returned when the fallback itself fails. It matches
// ErrFallbackFailed and unwraps to the fallback's error; the primary error
// is kept for inspection only.
type FallbackError struct {
	Command  string
	Primary  error
	Fallback error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("%s: fallback failed: %v (primary: %v)", e.Command, e.Fallback, e.Primary)
}

func (e *FallbackError) Is(target error) bool {
	return target == ErrFallbackFailed
}

func (e *FallbackError) Unwrap() error {
	return e.Fallback
}
