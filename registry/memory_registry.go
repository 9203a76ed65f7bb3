package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry keeps nodes in process. TTLs are ignored. Used by tests and
// by single-binary setups.
type MemoryRegistry struct {
	mu       sync.RWMutex
	services map[string]map[string]Node // namespace/service → addr → node
	watchers map[string][]chan []Node
}

// NewMemoryRegistry returns an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]Node),
		watchers: make(map[string][]chan []Node),
	}
}

func memKey(namespace, service string) string {
	return namespace + "/" + service
}

// Register stores node, replacing any node with the same address.
func (r *MemoryRegistry) Register(_ context.Context, namespace, service string, node Node, _ time.Duration) error {
	key := memKey(namespace, service)
	r.mu.Lock()
	if r.services[key] == nil {
		r.services[key] = make(map[string]Node)
	}
	if node.LastUpdatedTimeStamp == 0 {
		node.LastUpdatedTimeStamp = time.Now().UnixMilli()
	}
	r.services[key][node.Addr()] = node
	r.mu.Unlock()
	r.notify(key)
	return nil
}

// Deregister removes node.
func (r *MemoryRegistry) Deregister(_ context.Context, namespace, service string, node Node) error {
	key := memKey(namespace, service)
	r.mu.Lock()
	delete(r.services[key], node.Addr())
	r.mu.Unlock()
	r.notify(key)
	return nil
}

// Discover returns the stored nodes sorted by address.
func (r *MemoryRegistry) Discover(_ context.Context, namespace, service string) ([]Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(memKey(namespace, service)), nil
}

func (r *MemoryRegistry) list(key string) []Node {
	nodes := make([]Node, 0, len(r.services[key]))
	for _, n := range r.services[key] {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Addr() < nodes[j].Addr() })
	return nodes
}

// Watch emits the current node list, then the list after every Register or
// Deregister.
func (r *MemoryRegistry) Watch(ctx context.Context, namespace, service string) <-chan []Node {
	key := memKey(namespace, service)
	ch := make(chan []Node, 1)
	r.mu.Lock()
	ch <- r.list(key)
	r.watchers[key] = append(r.watchers[key], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[key]
		for i, w := range ws {
			if w == ch {
				r.watchers[key] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notify hands the latest list to each watcher, replacing a pending one the
// watcher has not read yet.
func (r *MemoryRegistry) notify(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodes := r.list(key)
	for _, w := range r.watchers[key] {
		select {
		case <-w:
		default:
		}
		w <- nodes
	}
}
