package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Retryer retries a call that failed with a transient network error,
// sleeping BaseDelay * 2^attempt between tries. The zero value never retries.
type Retryer struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Do runs call, then retries it while the error is retryable.
func (r Retryer) Do(ctx context.Context, logger log.Logger, what string, call func() error) error {
	err := call()
	for i := 0; i < r.MaxRetries; i++ {
		if err == nil || !Retryable(err) {
			return err
		}
		level.Debug(logger).Log("msg", "retrying request", "attempt", i+1, "request", what, "err", err)
		timer := time.NewTimer(r.BaseDelay * time.Duration(1<<i)) // Exponential backoff
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		err = call()
	}
	return err
}

// Retryable reports timeouts and refused connections. Cancellation of the
// caller's own context is never retried.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused")
}
