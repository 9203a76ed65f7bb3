// Package loadbalance provides the policies the discovery finder uses to
// pick one node out of the nodes matching a caller's criteria.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless services, equal-capacity nodes
//   - WeightedRandom:  Heterogeneous nodes (different CPU/memory)
//   - ConsistentHash:  Callers that should stick to one node per key
package loadbalance

import (
	"errors"

	"ranger-rpc/registry"
)

// ErrNoNodes is returned by Pick when the candidate list is empty.
var ErrNoNodes = errors.New("loadbalance: no nodes available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one node from the candidates.
	// Called on every resolution, so it must be goroutine-safe.
	Pick(nodes []registry.Node) (*registry.Node, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name, or RoundRobin for an
// unknown name. key is only used by "consistent_hash".
func New(name, key string) Balancer {
	switch name {
	case "weighted_random":
		return &WeightedRandomBalancer{}
	case "consistent_hash":
		return NewConsistentHashBalancer(key)
	default:
		return &RoundRobinBalancer{}
	}
}
