package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPools_SharedPerKey(t *testing.T) {
	pools := NewPools(DefaultSettings(), nil, nil)

	var wg sync.WaitGroup
	got := make([]*Pool, 50)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = pools.Get("orders.get")
		}(i)
	}
	wg.Wait()
	for _, p := range got {
		assert.Same(t, got[0], p)
	}
	assert.NotSame(t, got[0], pools.Get("orders.list"))
}

func TestPools_BuildsEachPoolOnce(t *testing.T) {
	var created atomic.Int32
	logger := log.LoggerFunc(func(keyvals ...any) error {
		for i := 0; i+1 < len(keyvals); i += 2 {
			if keyvals[i] == "msg" && keyvals[i+1] == "created command pool" {
				created.Add(1)
			}
		}
		return nil
	})
	pools := NewPools(DefaultSettings(), nil, logger)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pools.Get("orders.get")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
}

func TestPools_Overrides(t *testing.T) {
	pools := NewPools(DefaultSettings(), map[string]Settings{
		"orders.get": {MaxConcurrent: 1, Timeout: 50 * time.Millisecond},
	}, nil)

	assert.Equal(t, 1, pools.Get("orders.get").Settings().MaxConcurrent)
	assert.Equal(t, 10, pools.Get("orders.list").Settings().MaxConcurrent)
	assert.Equal(t, "orders.get", pools.Get("orders.get").Key())
}

func TestPool_RejectsSecondConcurrentCall(t *testing.T) {
	pools := NewPools(DefaultSettings(), map[string]Settings{
		"orders.get": {MaxConcurrent: 1, Timeout: time.Second},
	}, nil)
	pool := pools.Get("orders.get")

	started := make(chan struct{})
	release := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		_, err := pool.Execute(context.Background(), func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "first", nil
		})
		errc <- err
	}()
	<-started

	ran := false
	_, err := pool.Execute(context.Background(), func(ctx context.Context) (any, error) {
		ran = true
		return "second", nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, errors.Is(err, ErrTimedOut))
	assert.False(t, ran, "rejected body must not run")

	close(release)
	require.NoError(t, <-errc)
}

func TestPool_IsolatedFromOtherKeys(t *testing.T) {
	pools := NewPools(Settings{MaxConcurrent: 1, Timeout: time.Second}, nil, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	go pools.Get("orders.get").Execute(context.Background(), func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started
	defer close(release)

	v, err := pools.Get("orders.list").Execute(context.Background(), func(ctx context.Context) (any, error) {
		return "listed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "listed", v)
}

func TestPool_TimesOut(t *testing.T) {
	pool := NewPools(Settings{MaxConcurrent: 1, Timeout: 20 * time.Millisecond}, nil, nil).Get("orders.slow")

	_, err := pool.Execute(context.Background(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.False(t, errors.Is(err, ErrRejected))
}

func TestPool_RateLimited(t *testing.T) {
	pool := NewPools(Settings{MaxConcurrent: 5, Rate: 0.001, Burst: 1}, nil, nil).Get("orders.get")
	noop := func(ctx context.Context) (any, error) { return nil, nil }

	_, err := pool.Execute(context.Background(), noop)
	require.NoError(t, err)
	_, err = pool.Execute(context.Background(), noop)
	assert.ErrorIs(t, err, ErrRejected)
}
