// Package server publishes an HTTP handler as one node of a service.
//
// Lifecycle:
//
//	Start → listen → register node (TTL, kept alive) → serve
//	Shutdown → deregister → stop accepting → drain in-flight requests
//
// Deregistering first lets callers stop routing here before the listener
// goes away.
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"ranger-rpc/registry"
)

const defaultTTL = 10 * time.Second

// Server serves one handler and keeps its node registered while it runs.
type Server struct {
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
	shutdown   atomic.Bool
	logger     log.Logger

	registry  registry.Registry
	namespace string
	service   string
	ttl       time.Duration
	node      registry.Node
	cancel    context.CancelFunc // stops lease renewal
	done      chan error
}

type Option func(*Server)

// WithRegistry publishes the server as a node of namespace/service.
func WithRegistry(reg registry.Registry, namespace, service string) Option {
	return func(s *Server) {
		s.registry = reg
		s.namespace = namespace
		s.service = service
	}
}

// WithTTL sets how long the registration outlives a crashed server.
func WithTTL(ttl time.Duration) Option {
	return func(s *Server) { s.ttl = ttl }
}

func WithLogger(l log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer wraps handler.
func NewServer(handler http.Handler, opts ...Option) *Server {
	s := &Server{handler: handler, ttl: defaultTTL, logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens on address, registers node and serves in the background.
// A zero node.Port is replaced by the port actually bound, and an empty
// node.Host by the listener's host. A registered node must carry a host
// callers can reach: listening on a wildcard address (":0", "0.0.0.0")
// requires node.Host to be set.
func (s *Server) Start(ctx context.Context, address string, node registry.Node) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "server: listen %s", address)
	}

	host, port, _ := net.SplitHostPort(listener.Addr().String())
	if node.Port == 0 {
		node.Port, _ = strconv.Atoi(port)
	}
	if node.Host == "" {
		node.Host = host
	}
	if s.registry != nil && !routable(node.Host) {
		listener.Close()
		return errors.Errorf("server: %s is not a routable host to register; set node.Host", node.Host)
	}
	s.listener = listener
	if node.HealthcheckStatus == "" {
		node.HealthcheckStatus = registry.Healthy
	}
	s.node = node

	if s.registry != nil {
		regCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		if err := s.registry.Register(regCtx, s.namespace, s.service, node, s.ttl); err != nil {
			cancel()
			listener.Close()
			return errors.Wrapf(err, "server: register %s/%s", s.namespace, s.service)
		}
		s.cancel = cancel
		level.Info(s.logger).Log("msg", "registered node", "service", s.service, "namespace", s.namespace, "addr", node.Addr())
	}

	s.httpServer = &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	s.done = make(chan error, 1)
	go func() {
		err := s.httpServer.Serve(listener)
		// Serve always fails once Shutdown closes the listener.
		if s.shutdown.Load() || errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return nil
}

func routable(host string) bool {
	if host == "" {
		return false
	}
	ip := net.ParseIP(host)
	return ip == nil || !ip.IsUnspecified()
}

// Addr is the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Node is the node as registered.
func (s *Server) Node() registry.Node {
	return s.node
}

// Shutdown deregisters the node, then waits up to timeout for in-flight
// requests. Only the first call does anything.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.httpServer == nil || !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.registry != nil {
		if s.cancel != nil {
			s.cancel()
		}
		if err := s.registry.Deregister(ctx, s.namespace, s.service, s.node); err != nil {
			level.Warn(s.logger).Log("msg", "deregister failed", "service", s.service, "err", err)
		}
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server: timeout waiting for ongoing requests to finish")
	}
	return <-s.done
}
