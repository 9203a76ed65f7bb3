// Package discovery turns a logical service name into live nodes.
//
// A Resolver is bound to one ServiceIdentity and owns the RegistryClient
// that watches the registry for it. The target package asks the Resolver for
// a node on every call.
package discovery

import (
	"context"
	"errors"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	pkgerrors "github.com/pkg/errors"

	"ranger-rpc/loadbalance"
	"ranger-rpc/registry"
)

// ErrRegistryUnavailable is returned by Start when the registry session
// cannot be established.
var ErrRegistryUnavailable = errors.New("discovery: registry unavailable")

// ServiceIdentity names the discovery scope a Resolver binds to.
type ServiceIdentity struct {
	Environment string
	Namespace   string
	Service     string
}

func (id ServiceIdentity) String() string {
	return id.Namespace + "/" + id.Service + "@" + id.Environment
}

// Resolver answers "which node should this call go to" for one service.
type Resolver struct {
	id       ServiceIdentity
	criteria registry.Criteria
	client   RegistryClient
	logger   log.Logger

	mu      sync.Mutex
	running bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*resolverOptions)

type resolverOptions struct {
	logger            log.Logger
	versionConstraint string
}

// WithLogger sets the resolver logger.
func WithLogger(l log.Logger) ResolverOption {
	return func(o *resolverOptions) { o.logger = l }
}

// WithVersionConstraint restricts routing to nodes whose version satisfies
// the semver constraint.
func WithVersionConstraint(c string) ResolverOption {
	return func(o *resolverOptions) { o.versionConstraint = c }
}

// NewResolver binds client to id. Routing criteria are derived from
// id.Environment once, here.
func NewResolver(id ServiceIdentity, client RegistryClient, opts ...ResolverOption) (*Resolver, error) {
	o := resolverOptions{logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNopLogger()
	}
	criteria, err := registry.NewCriteria(id.Environment, o.versionConstraint)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		id:       id,
		criteria: criteria,
		client:   client,
		logger:   log.With(o.logger, "service", id.Service, "namespace", id.Namespace, "environment", id.Environment),
	}, nil
}

// NewRegistryResolver is NewResolver with a Finder over reg.
func NewRegistryResolver(id ServiceIdentity, reg registry.Registry, balancer loadbalance.Balancer, opts ...ResolverOption) (*Resolver, error) {
	o := resolverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return NewResolver(id, NewFinder(reg, id.Namespace, id.Service, balancer, o.logger), opts...)
}

// Identity returns the scope the resolver is bound to.
func (r *Resolver) Identity() ServiceIdentity {
	return r.id
}

// Start begins watching the registry.
func (r *Resolver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	level.Info(r.logger).Log("msg", "starting service discovery client")
	if err := r.client.Start(ctx); err != nil {
		level.Error(r.logger).Log("msg", "service discovery client failed to start", "err", err)
		return pkgerrors.Wrapf(errors.Join(ErrRegistryUnavailable, err), "discovery: start %s", r.id)
	}
	r.running = true
	level.Info(r.logger).Log("msg", "started service discovery client")
	return nil
}

// Stop releases registry resources. Idempotent.
func (r *Resolver) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	r.running = false
	level.Info(r.logger).Log("msg", "stopping service discovery client")
	return r.client.Stop()
}

// BestNode returns the node the registry client selects for this call, or
// false when no live node matches.
func (r *Resolver) BestNode() (registry.Node, bool) {
	return r.client.GetNode(r.criteria)
}

// AllNodes returns every live matching node. Meant for diagnostics, not
// routing.
func (r *Resolver) AllNodes() []registry.Node {
	return r.client.GetAll(r.criteria)
}
