package registry

import (
	"context"
	"reflect"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisRegistry implements Registry on plain Redis keys with expiry:
//
//	Key:   {prefix}:{namespace}:{service}:{host:port}
//	Value: serialized Node
//
// Redis has no prefix watch, so Watch polls.
type RedisRegistry struct {
	client       redis.UniversalClient
	opts         Options
	pollInterval time.Duration
}

// NewRedisRegistry wraps client. pollInterval drives Watch.
func NewRedisRegistry(client redis.UniversalClient, pollInterval time.Duration, opts ...Option) *RedisRegistry {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &RedisRegistry{client: client, opts: newOptions(opts...), pollInterval: pollInterval}
}

func (r *RedisRegistry) pattern(namespace, service string) string {
	return r.opts.KeyPrefix + ":" + namespace + ":" + service + ":*"
}

func (r *RedisRegistry) key(namespace, service string, node Node) string {
	return r.opts.KeyPrefix + ":" + namespace + ":" + service + ":" + node.Addr()
}

// Register writes node with expiry ttl and refreshes it every ttl/3 until
// ctx is done.
func (r *RedisRegistry) Register(ctx context.Context, namespace, service string, node Node, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("registry: ttl must be positive")
	}
	key := r.key(namespace, service, node)
	write := func() error {
		node.LastUpdatedTimeStamp = time.Now().UnixMilli()
		val, err := r.opts.Serializer(node)
		if err != nil {
			return errors.Wrap(err, "registry: serialize node")
		}
		return errors.Wrap(r.client.Set(ctx, key, val, ttl).Err(), "registry: set node")
	}
	if err := write(); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := write(); err != nil && ctx.Err() == nil {
					level.Warn(r.opts.Logger).Log("msg", "refresh node failed", "key", key, "err", err)
				}
			}
		}
	}()
	return nil
}

// Deregister deletes node.
func (r *RedisRegistry) Deregister(ctx context.Context, namespace, service string, node Node) error {
	return errors.Wrap(r.client.Del(ctx, r.key(namespace, service, node)).Err(), "registry: delete node")
}

// Discover scans for the service's keys then fetches their values.
func (r *RedisRegistry) Discover(ctx context.Context, namespace, service string) ([]Node, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.pattern(namespace, service), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "registry: scan nodes")
	}
	if len(keys) == 0 {
		return []Node{}, nil
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "registry: get nodes")
	}
	payloads := make([][]byte, 0, len(vals))
	for _, v := range vals {
		// Keys can expire between SCAN and MGET.
		s, ok := v.(string)
		if !ok {
			continue
		}
		payloads = append(payloads, []byte(s))
	}
	return decodeNodes(r.opts.Logger, r.opts.Deserializer, payloads), nil
}

// Watch emits the current list, then polls Discover and emits the list
// whenever it differs from the last one emitted.
func (r *RedisRegistry) Watch(ctx context.Context, namespace, service string) <-chan []Node {
	ch := make(chan []Node, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()
		var last []Node
		for {
			nodes, err := r.Discover(ctx, namespace, service)
			if err == nil && !sameAddrs(last, nodes) {
				last = nodes
				select {
				case ch <- nodes:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch
}

// sameAddrs compares node lists ignoring timestamps, which change on every
// refresh.
func sameAddrs(a, b []Node) bool {
	if a == nil || len(a) != len(b) {
		return false
	}
	strip := func(nodes []Node) map[string]Node {
		m := make(map[string]Node, len(nodes))
		for _, n := range nodes {
			n.LastUpdatedTimeStamp = 0
			m[n.Addr()] = n
		}
		return m
	}
	return reflect.DeepEqual(strip(a), strip(b))
}
