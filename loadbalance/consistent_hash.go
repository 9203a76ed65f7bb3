package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"ranger-rpc/registry"
)

// ConsistentHashBalancer maps a key to a node using a hash ring.
// The same key always maps to the same node until the ring changes,
// which gives cache affinity for stateful services.
//
// Each real node is placed on the ring as N virtual nodes so a handful of
// nodes still spread evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	key      string // affinity key used by Pick
	replicas int    // virtual nodes per real node

	mu          sync.Mutex
	fingerprint string                   // node set the ring was built from
	ring        []uint32                 // sorted hash values on the ring
	nodes       map[uint32]registry.Node // hash value → node
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per node.
// Pick always routes key; PickKey routes any key.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		key:      key,
		replicas: 100,
		nodes:    make(map[uint32]registry.Node),
	}
}

// Pick implements Balancer using the balancer's own affinity key.
func (b *ConsistentHashBalancer) Pick(nodes []registry.Node) (*registry.Node, error) {
	return b.PickKey(nodes, b.key)
}

// PickKey finds the node responsible for key among nodes. The ring is
// rebuilt only when the node set changes.
func (b *ConsistentHashBalancer) PickKey(nodes []registry.Node, key string) (*registry.Node, error) {
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if fp := fingerprint(nodes); fp != b.fingerprint {
		b.rebuild(nodes)
		b.fingerprint = fp
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	// First virtual node clockwise from the key's hash.
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	node := b.nodes[b.ring[idx]]
	return &node, nil
}

func (b *ConsistentHashBalancer) rebuild(nodes []registry.Node) {
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]registry.Node, len(nodes)*b.replicas)
	for _, n := range nodes {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", n.Addr(), i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = n
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

func fingerprint(nodes []registry.Node) string {
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.Addr()
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
