package main

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/labstack/echo/v4"

	"ranger-rpc/config"
	"ranger-rpc/discovery"
	"ranger-rpc/registry"
	"ranger-rpc/target"
)

// watched is the discovery state of one service.
type watched struct {
	resolver *discovery.Resolver
	target   *target.Resolver
}

// probe answers diagnostics queries about services, starting a resolver
// per service on first use.
type probe struct {
	cfg    *config.Config
	reg    registry.Registry
	logger log.Logger

	mu       sync.Mutex
	services map[string]*watched
}

func newProbe(cfg *config.Config, reg registry.Registry, logger log.Logger) *probe {
	return &probe{
		cfg:      cfg,
		reg:      reg,
		logger:   log.WithPrefix(logger, "component", "probe"),
		services: make(map[string]*watched),
	}
}

func (p *probe) lookup(ctx context.Context, service string) (*watched, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.services[service]; ok {
		return w, nil
	}

	id := discovery.ServiceIdentity{Environment: p.cfg.Environment, Namespace: p.cfg.Namespace, Service: service}
	resolver, err := discovery.NewRegistryResolver(id, p.reg, p.cfg.NewBalancer(),
		discovery.WithLogger(p.logger),
		discovery.WithVersionConstraint(p.cfg.VersionConstraint),
	)
	if err != nil {
		return nil, err
	}
	tgt, err := target.New(reflect.TypeFor[struct{}](), service, resolver, p.cfg.TargetConfig())
	if err != nil {
		return nil, err
	}
	if err := resolver.Start(ctx); err != nil {
		return nil, err
	}
	w := &watched{resolver: resolver, target: tgt}
	p.services[service] = w
	return w, nil
}

func (p *probe) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, w := range p.services {
		if err := w.resolver.Stop(); err != nil {
			level.Warn(p.logger).Log("msg", "stop resolver failed", "service", name, "err", err)
		}
	}
	p.services = map[string]*watched{}
}

func (p *probe) register(e *echo.Echo) {
	e.GET("/healthz", p.health)
	e.GET("/v1/services/:service/nodes", p.nodes)
	e.GET("/v1/services/:service/target", p.target)
}

func (p *probe) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type nodesResponse struct {
	Service     string          `json:"service"`
	Namespace   string          `json:"namespace"`
	Environment string          `json:"environment"`
	Nodes       []registry.Node `json:"nodes"`
}

// nodes (GET /v1/services/:service/nodes) lists every live matching node.
func (p *probe) nodes(c echo.Context) error {
	w, err := p.lookup(c.Request().Context(), c.Param("service"))
	if err != nil {
		return p.fail(err)
	}
	nodes := w.resolver.AllNodes()
	if nodes == nil {
		nodes = []registry.Node{}
	}
	id := w.resolver.Identity()
	return c.JSON(http.StatusOK, nodesResponse{
		Service:     id.Service,
		Namespace:   id.Namespace,
		Environment: id.Environment,
		Nodes:       nodes,
	})
}

// target (GET /v1/services/:service/target) is the base URL the next call
// would use.
func (p *probe) target(c echo.Context) error {
	w, err := p.lookup(c.Request().Context(), c.Param("service"))
	if err != nil {
		return p.fail(err)
	}
	url, err := w.target.Resolve()
	if err != nil {
		return p.fail(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"service": w.target.Name(), "url": url})
}

func (p *probe) fail(err error) error {
	level.Error(p.logger).Log("msg", "probe request failed", "err", err)
	switch {
	case errors.Is(err, target.ErrTargetUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, discovery.ErrRegistryUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
