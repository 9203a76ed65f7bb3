package loadbalance

import (
	"math/rand/v2"

	"ranger-rpc/registry"
)

// WeightedRandomBalancer picks nodes with probability proportional to their
// weight. A node without a weight counts as weight 1.
type WeightedRandomBalancer struct{}

func weightOf(n registry.Node) int {
	if n.Weight <= 0 {
		return 1
	}
	return n.Weight
}

func (b *WeightedRandomBalancer) Pick(nodes []registry.Node) (*registry.Node, error) {
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}

	totalWeight := 0
	for _, n := range nodes {
		totalWeight += weightOf(n)
	}

	r := rand.IntN(totalWeight)
	for i := range nodes {
		r -= weightOf(nodes[i])
		if r < 0 {
			return &nodes[i], nil
		}
	}

	return &nodes[len(nodes)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
