// Package command runs calls inside per-method admission pools and models
// the three shapes a declared method can hand its result back in.
//
// A Pool is keyed "service.method". Every call to that method shares one
// Pool, so a stuck method can exhaust only its own permits.
package command

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"ranger-rpc/middleware"
)

var (
	ErrRejected = middleware.ErrRejected
	ErrTimedOut = middleware.ErrTimedOut
)

// Settings bound one pool.
type Settings struct {
	// MaxConcurrent is the number of calls allowed in flight.
	MaxConcurrent int `yaml:"max_concurrent"`
	// Timeout is how long the pool waits for one call. Zero disables it.
	Timeout time.Duration `yaml:"timeout"`
	// Rate, when positive, caps calls per second with Burst headroom.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// DefaultSettings: 10 concurrent calls, 1s timeout, no rate limit.
func DefaultSettings() Settings {
	return Settings{MaxConcurrent: 10, Timeout: time.Second}
}

// Pool is the admission gate for one key.
type Pool struct {
	key      string
	settings Settings
	handler  middleware.HandlerFunc
}

func newPool(key string, s Settings, logger log.Logger) *Pool {
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = DefaultSettings().MaxConcurrent
	}
	chain := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if s.Timeout > 0 {
		chain = append(chain, middleware.TimeOutMiddleware(s.Timeout))
	}
	chain = append(chain, middleware.AdmissionMiddleware(int64(s.MaxConcurrent)))
	if s.Rate > 0 {
		burst := s.Burst
		if burst <= 0 {
			burst = 1
		}
		chain = append(chain, middleware.RateLimitMiddleware(s.Rate, burst))
	}
	return &Pool{
		key:      key,
		settings: s,
		handler:  middleware.Chain(chain...)(middleware.Invoke),
	}
}

func (p *Pool) Key() string {
	return p.key
}

func (p *Pool) Settings() Settings {
	return p.settings
}

// Execute runs fn through the pool. It returns ErrRejected without running
// fn when the pool is saturated, and ErrTimedOut when fn outlives the
// timeout.
func (p *Pool) Execute(ctx context.Context, fn RunFunc) (any, error) {
	return p.handler(ctx, &middleware.Call{Key: p.key, Run: fn})
}

// Pools lazily creates and shares one Pool per key.
type Pools struct {
	defaults  Settings
	overrides map[string]Settings
	logger    log.Logger
	pools     sync.Map // key → *poolEntry
}

// poolEntry builds its Pool once, after the key has been claimed, so callers
// racing on a new key never build a chain that is thrown away.
type poolEntry struct {
	once sync.Once
	pool *Pool
}

// NewPools creates a registry; overrides are keyed "service.method".
func NewPools(defaults Settings, overrides map[string]Settings, logger log.Logger) *Pools {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Pools{defaults: defaults, overrides: overrides, logger: logger}
}

// Get returns the Pool for key, creating it on first use.
func (ps *Pools) Get(key string) *Pool {
	v, ok := ps.pools.Load(key)
	if !ok {
		v, _ = ps.pools.LoadOrStore(key, &poolEntry{})
	}
	e := v.(*poolEntry)
	e.once.Do(func() {
		s, ok := ps.overrides[key]
		if !ok {
			s = ps.defaults
		}
		e.pool = newPool(key, s, ps.logger)
		level.Debug(ps.logger).Log("msg", "created command pool", "command", key, "max_concurrent", s.MaxConcurrent, "timeout", s.Timeout)
	})
	return e.pool
}
