package registry

// etcd backend layout:
//
//	Key:   /{prefix}/{namespace}/{service}/{host:port}
//	Value: serialized Node
//
// Registration uses TTL-based leases: if the provider crashes, the lease
// expires and the entry is removed without anyone deregistering it.

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	opts   Options
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, opts ...Option) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "registry: connect etcd")
	}
	return &EtcdRegistry{client: c, opts: newOptions(opts...)}, nil
}

// NewEtcdRegistryFromClient wraps an existing client. Close does not close c.
func NewEtcdRegistryFromClient(c *clientv3.Client, opts ...Option) *EtcdRegistry {
	return &EtcdRegistry{client: c, opts: newOptions(opts...)}
}

func (r *EtcdRegistry) prefix(namespace, service string) string {
	return fmt.Sprintf("/%s/%s/%s/", r.opts.KeyPrefix, namespace, service)
}

// Register stores node with a TTL lease and keeps the lease alive until ctx
// is done.
//
// leaseID stays local rather than on the struct so several providers can
// share one EtcdRegistry.
func (r *EtcdRegistry) Register(ctx context.Context, namespace, service string, node Node, ttl time.Duration) error {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	lease, err := r.client.Grant(ctx, seconds)
	if err != nil {
		return errors.Wrap(err, "registry: grant lease")
	}

	if node.LastUpdatedTimeStamp == 0 {
		node.LastUpdatedTimeStamp = time.Now().UnixMilli()
	}
	val, err := r.opts.Serializer(node)
	if err != nil {
		return errors.Wrap(err, "registry: serialize node")
	}

	_, err = r.client.Put(ctx, r.prefix(namespace, service)+node.Addr(), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return errors.Wrap(err, "registry: put node")
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return errors.Wrap(err, "registry: keepalive")
	}

	// Drain KeepAlive responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes node. Called during graceful shutdown.
func (r *EtcdRegistry) Deregister(ctx context.Context, namespace, service string, node Node) error {
	_, err := r.client.Delete(ctx, r.prefix(namespace, service)+node.Addr())
	return errors.Wrap(err, "registry: delete node")
}

// Watch emits the current list, then re-lists the service whenever anything
// under its prefix changes. The etcd watch resumes from the revision of the
// first list, so no change is lost in between. The channel closes when ctx is
// done or when etcd ends the watch (compaction, cancellation).
func (r *EtcdRegistry) Watch(ctx context.Context, namespace, service string) <-chan []Node {
	ch := make(chan []Node, 1)
	prefix := r.prefix(namespace, service)

	go func() {
		defer close(ch)
		nodes, rev, err := r.list(ctx, prefix)
		if err != nil {
			level.Warn(r.opts.Logger).Log("msg", "watch could not list nodes", "prefix", prefix, "err", err)
			return
		}
		select {
		case ch <- nodes:
		case <-ctx.Done():
			return
		}

		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(rev+1))
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				level.Warn(r.opts.Logger).Log("msg", "etcd watch ended", "prefix", prefix, "err", err)
				return
			}
			// Re-fetching the full list is simpler than applying events.
			nodes, _, err := r.list(ctx, prefix)
			if err != nil {
				continue
			}
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- nodes:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover lists every node under /{prefix}/{namespace}/{service}/.
func (r *EtcdRegistry) Discover(ctx context.Context, namespace, service string) ([]Node, error) {
	nodes, _, err := r.list(ctx, r.prefix(namespace, service))
	return nodes, err
}

// list returns the nodes under prefix and the store revision they were read at.
func (r *EtcdRegistry) list(ctx context.Context, prefix string) ([]Node, int64, error) {
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, errors.Wrap(err, "registry: list nodes")
	}

	payloads := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		payloads = append(payloads, kv.Value)
	}
	return decodeNodes(r.opts.Logger, r.opts.Deserializer, payloads), resp.Header.Revision, nil
}

// Close closes the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
