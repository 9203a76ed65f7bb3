// Package client builds proxies for declared services.
//
// A declared service is a struct of function fields (see package contract).
// The Builder fills each field with a function that runs the call inside the
// method's command pool, routes it through a target and falls back to an
// alternate implementation when the primary call fails:
//
//	var orders OrdersAPI
//	b := client.NewBuilder(client.WithLogger(logger))
//	binding, err := b.Build(ctx, &orders, client.ServiceConfig{
//		Environment: "prod",
//		Namespace:   "shop",
//		Name:        "orders",
//		Registry:    reg,
//		Target:      target.Config{RootPathPrefix: "v2"},
//	}, &ordersFallback)
//	defer binding.Close()
//	o, err := orders.Get(ctx, "42")
package client

import (
	"context"
	"reflect"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"ranger-rpc/codec"
	"ranger-rpc/command"
	"ranger-rpc/contract"
	"ranger-rpc/discovery"
	"ranger-rpc/loadbalance"
	"ranger-rpc/registry"
	"ranger-rpc/target"
	"ranger-rpc/transport"
)

// Options are per-request settings.
type Options struct {
	// RequestTimeout bounds one request on the plain dispatch path. The
	// command pool timeout still applies on top of it.
	RequestTimeout time.Duration
}

type options struct {
	client       transport.Client
	encoder      codec.Codec
	decoder      codec.Codec
	contract     contract.Contract
	logger       log.Logger
	decode404    bool
	pools        *command.Pools
	interceptors []contract.Interceptor
	request      Options
}

// Option configures a Builder.
type Option func(*options)

// WithClient sets the transport. The default is an HTTP client without
// retries.
func WithClient(c transport.Client) Option {
	return func(o *options) { o.client = c }
}

// WithEncoder sets the body encoder (JSON by default).
func WithEncoder(c codec.Codec) Option {
	return func(o *options) { o.encoder = c }
}

// WithDecoder sets the response decoder (JSON by default).
func WithDecoder(c codec.Codec) Option {
	return func(o *options) { o.decoder = c }
}

// WithContract sets the contract. It is always wrapped in
// contract.Delegating.
func WithContract(c contract.Contract) Option {
	return func(o *options) { o.contract = c }
}

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDecode404 decodes a 404 response to the zero value instead of failing.
func WithDecode404() Option {
	return func(o *options) { o.decode404 = true }
}

// WithPools shares a pool registry between builders.
func WithPools(p *command.Pools) Option {
	return func(o *options) { o.pools = p }
}

// WithRequestInterceptor adds an interceptor; they run in order.
func WithRequestInterceptor(i contract.Interceptor) Option {
	return func(o *options) { o.interceptors = append(o.interceptors, i) }
}

func WithOptions(opts Options) Option {
	return func(o *options) { o.request = opts }
}

// Builder assembles proxies. It is safe to reuse for several services.
type Builder struct {
	opts options
}

func NewBuilder(opts ...Option) *Builder {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNopLogger()
	}
	if o.client == nil {
		o.client = transport.NewHTTPClient(nil, transport.Retryer{}, o.logger)
	}
	if o.encoder == nil {
		o.encoder = codec.GetCodec(codec.CodecTypeJSON)
	}
	if o.decoder == nil {
		o.decoder = codec.GetCodec(codec.CodecTypeJSON)
	}
	if o.pools == nil {
		o.pools = command.NewPools(command.DefaultSettings(), nil, o.logger)
	}
	return &Builder{opts: o}
}

// Pools returns the pool registry proxies of this builder run in.
func (b *Builder) Pools() *command.Pools {
	return b.opts.pools
}

// Target fills api, a pointer to a declared service struct, with functions
// that call t. fallback may be nil, a value of the same struct type, or any
// value with methods named like the declared fields.
func (b *Builder) Target(api any, t target.Target, fallback any) error {
	v := reflect.ValueOf(api)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return errors.Errorf("client: api must be a non-nil pointer to a struct, got %T", api)
	}
	apiType := v.Elem().Type()
	if tt := t.Type(); tt != nil && tt != apiType && tt != v.Type() {
		return errors.Errorf("client: target is for %s, api is %s", tt, apiType)
	}

	c := b.opts.contract
	if c == nil {
		c = contract.Default{}
	}
	mds, err := contract.NewDelegating(c).ParseAndValidateMetadata(apiType)
	if err != nil {
		return err
	}

	methods := make([]*method, 0, len(mds))
	for _, md := range mds {
		m, err := b.method(t, md, fallback)
		if err != nil {
			return err
		}
		methods = append(methods, m)
	}
	d := &dispatcher{pools: b.opts.pools, logger: log.With(b.opts.logger, "service", t.Name())}
	d.install(v.Elem(), methods)
	return nil
}

func (b *Builder) method(t target.Target, md *contract.MethodMetadata, fallback any) (*method, error) {
	m := &method{
		key: t.Name() + "." + md.Name,
		md:  md,
		handler: &methodHandler{
			md:           md,
			target:       t,
			client:       b.opts.client,
			encoder:      b.opts.encoder,
			decoder:      b.opts.decoder,
			interceptors: b.opts.interceptors,
			decode404:    b.opts.decode404,
			timeout:      b.opts.request.RequestTimeout,
		},
	}
	ft := md.Type
	switch {
	case ft.NumOut() == 1 && ft.Out(0) != errorType:
		m.declared = ft.Out(0)
		m.shape, _ = command.ShapeOf(m.declared)
		if m.shape == command.Direct {
			return nil, errors.Errorf("client: %s returns %s; use (T, error) or a command wrapper", md.ConfigKey, m.declared)
		}
	case ft.NumOut() == 2:
		if shape, _ := command.ShapeOf(ft.Out(0)); shape != command.Direct {
			return nil, errors.Errorf("client: %s returns %s with an error; return the wrapper alone", md.ConfigKey, ft.Out(0))
		}
	}
	fb, err := lookupFallback(fallback, md.Name, ft)
	if err != nil {
		return nil, errors.Wrap(err, "client")
	}
	m.fallback = fb
	return m, nil
}

// TargetURL fills api with functions that call the fixed url.
func (b *Builder) TargetURL(api any, url string, fallback any) error {
	return b.Target(api, target.NewHardCoded(reflect.TypeOf(api), "", url), fallback)
}

// ServiceConfig locates a service through discovery.
type ServiceConfig struct {
	Environment string
	Namespace   string
	Name        string

	// Registry backs a watch-maintained node list. Ignored when
	// RegistryClient is set.
	Registry registry.Registry
	// RegistryClient replaces the built-in finder.
	RegistryClient discovery.RegistryClient
	// Balancer picks among live nodes (round-robin by default).
	Balancer loadbalance.Balancer
	// VersionConstraint, when set, is a semver constraint nodes must meet.
	VersionConstraint string

	Target target.Config
}

// Binding is a live proxy's discovery state. Close stops watching the
// registry.
type Binding struct {
	resolver *discovery.Resolver
	target   *target.Resolver
}

func (b *Binding) Resolver() *discovery.Resolver {
	return b.resolver
}

func (b *Binding) Target() *target.Resolver {
	return b.target
}

func (b *Binding) Close() error {
	return b.resolver.Stop()
}

// Build starts discovery for cfg and fills api with a proxy routed by it.
// It fails with discovery.ErrRegistryUnavailable when the registry cannot
// be reached.
func (b *Builder) Build(ctx context.Context, api any, cfg ServiceConfig, fallback any) (*Binding, error) {
	id := discovery.ServiceIdentity{Environment: cfg.Environment, Namespace: cfg.Namespace, Service: cfg.Name}
	ropts := []discovery.ResolverOption{
		discovery.WithLogger(b.opts.logger),
		discovery.WithVersionConstraint(cfg.VersionConstraint),
	}

	var (
		resolver *discovery.Resolver
		err      error
	)
	switch {
	case cfg.RegistryClient != nil:
		resolver, err = discovery.NewResolver(id, cfg.RegistryClient, ropts...)
	case cfg.Registry != nil:
		balancer := cfg.Balancer
		if balancer == nil {
			balancer = loadbalance.New("", "")
		}
		resolver, err = discovery.NewRegistryResolver(id, cfg.Registry, balancer, ropts...)
	default:
		return nil, errors.Errorf("client: %s needs a registry", id)
	}
	if err != nil {
		return nil, err
	}

	tgt, err := target.New(reflect.TypeOf(api), cfg.Name, resolver, cfg.Target)
	if err != nil {
		return nil, err
	}
	if err := resolver.Start(ctx); err != nil {
		return nil, err
	}
	if err := b.Target(api, tgt, fallback); err != nil {
		resolver.Stop()
		return nil, err
	}
	return &Binding{resolver: resolver, target: tgt}, nil
}
