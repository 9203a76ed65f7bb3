package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"ranger-rpc/loadbalance"
	"ranger-rpc/registry"
)

// RegistryClient answers node queries for one namespace/service.
type RegistryClient interface {
	Start(ctx context.Context) error
	Stop() error
	// GetNode returns one node matching criteria, chosen by the client's
	// selection policy.
	GetNode(criteria registry.Criteria) (registry.Node, bool)
	GetAll(criteria registry.Criteria) []registry.Node
}

const (
	rewatchBaseDelay = 200 * time.Millisecond
	rewatchMaxDelay  = 10 * time.Second
)

// Finder is the RegistryClient backed by a registry.Registry. Start lists
// the service once and then follows the registry's watch, so GetNode never
// talks to the backend. A watch that ends while the Finder is running is
// reopened with backoff; every watch starts with the current list.
type Finder struct {
	reg       registry.Registry
	namespace string
	service   string
	balancer  loadbalance.Balancer
	logger    log.Logger

	rewatchDelay time.Duration

	mu      sync.RWMutex
	nodes   []registry.Node
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewFinder builds a Finder. A nil balancer means round-robin.
func NewFinder(reg registry.Registry, namespace, service string, balancer loadbalance.Balancer, logger log.Logger) *Finder {
	if balancer == nil {
		balancer = &loadbalance.RoundRobinBalancer{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Finder{
		reg:       reg,
		namespace: namespace,
		service:   service,
		balancer:  balancer,
		logger:    logger,

		rewatchDelay: rewatchBaseDelay,
	}
}

// Start loads the current node list and begins watching for changes.
// Calling Start on a started Finder is a no-op.
func (f *Finder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}

	nodes, err := f.reg.Discover(ctx, f.namespace, f.service)
	if err != nil {
		return err
	}
	f.nodes = nodes

	watchCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	f.started = true
	go f.watch(watchCtx, f.done)
	return nil
}

func (f *Finder) watch(ctx context.Context, done chan struct{}) {
	defer close(done)
	delay := f.rewatchDelay
	for {
		updated := false
		for nodes := range f.reg.Watch(ctx, f.namespace, f.service) {
			f.mu.Lock()
			f.nodes = nodes
			f.mu.Unlock()
			updated = true
			level.Debug(f.logger).Log("msg", "node list updated", "service", f.service, "nodes", len(nodes))
		}
		if ctx.Err() != nil {
			return
		}

		if updated {
			delay = f.rewatchDelay
		}
		level.Warn(f.logger).Log("msg", "registry watch ended, re-watching", "service", f.service, "namespace", f.namespace, "retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > rewatchMaxDelay {
			delay = rewatchMaxDelay
		}
	}
}

// Stop ends the watch. Safe to call more than once.
func (f *Finder) Stop() error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = false
	cancel, done := f.cancel, f.done
	f.mu.Unlock()

	cancel()
	<-done
	return nil
}

// GetNode picks one matching node with the balancer.
func (f *Finder) GetNode(criteria registry.Criteria) (registry.Node, bool) {
	candidates := f.GetAll(criteria)
	node, err := f.balancer.Pick(candidates)
	if err != nil {
		return registry.Node{}, false
	}
	return *node, true
}

// GetAll returns every known node matching criteria.
func (f *Finder) GetAll(criteria registry.Criteria) []registry.Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return criteria.Filter(f.nodes)
}
