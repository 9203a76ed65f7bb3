// Package registry models service nodes and the backends that store them.
//
// A node is one live endpoint (host+port) registered for a service inside a
// namespace. Every node carries ShardInfo used by Criteria to decide whether
// it may serve a given caller. Backends (etcd, Redis, in-memory) only store
// and list nodes; choosing one node per call is the job of the discovery
// package.
package registry

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// HealthStatus is the health a provider last reported for its node.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
)

// ShardInfo is the routing metadata attached to every node.
type ShardInfo struct {
	Environment string `json:"environment"`
	Version     string `json:"version,omitempty"`
}

// Node is a single registered endpoint of a service.
type Node struct {
	Host                 string       `json:"host"`
	Port                 int          `json:"port"`
	Weight               int          `json:"weight,omitempty"` // Weight for load balancing
	NodeData             ShardInfo    `json:"nodeData"`
	HealthcheckStatus    HealthStatus `json:"healthcheckStatus"`
	LastUpdatedTimeStamp int64        `json:"lastUpdatedTimeStamp"`
}

// Addr returns host:port.
func (n Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// Registry is a storage backend for service nodes.
type Registry interface {
	// Register publishes a node under namespace/service. The entry disappears
	// on its own if the provider stops renewing it within ttl.
	Register(ctx context.Context, namespace, service string, node Node, ttl time.Duration) error
	Deregister(ctx context.Context, namespace, service string, node Node) error
	// Discover lists every node stored for namespace/service, healthy or not.
	Discover(ctx context.Context, namespace, service string) ([]Node, error)
	// Watch emits the current node list first, then the full list whenever
	// the service changes. The channel is closed when ctx is done; a backend
	// may also close it early when its watch ends, and callers re-watch.
	Watch(ctx context.Context, namespace, service string) <-chan []Node
}

// Criteria selects the nodes a caller is allowed to use. It is compared by
// value against each node's ShardInfo.
type Criteria struct {
	Environment string
	constraint  *semver.Constraints
	raw         string
}

// NewCriteria builds Criteria for environment. versionConstraint is an
// optional semver range such as "^1.2"; empty accepts any version.
func NewCriteria(environment, versionConstraint string) (Criteria, error) {
	c := Criteria{Environment: environment, raw: versionConstraint}
	if versionConstraint == "" {
		return c, nil
	}
	constraint, err := semver.NewConstraint(versionConstraint)
	if err != nil {
		return Criteria{}, errors.Wrapf(err, "registry: invalid version constraint %q", versionConstraint)
	}
	c.constraint = constraint
	return c, nil
}

// VersionConstraint returns the constraint Criteria was built with.
func (c Criteria) VersionConstraint() string {
	return c.raw
}

// Matches reports whether node is healthy and its shard data satisfies c.
func (c Criteria) Matches(node Node) bool {
	if node.HealthcheckStatus != Healthy {
		return false
	}
	if node.NodeData.Environment != c.Environment {
		return false
	}
	if c.constraint == nil {
		return true
	}
	v, err := semver.NewVersion(node.NodeData.Version)
	if err != nil {
		return false
	}
	return c.constraint.Check(v)
}

// Filter returns the nodes in nodes that match c.
func (c Criteria) Filter(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if c.Matches(n) {
			out = append(out, n)
		}
	}
	return out
}
