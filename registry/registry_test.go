package registry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyNode(host string, port int, env, version string) Node {
	return Node{
		Host:              host,
		Port:              port,
		NodeData:          ShardInfo{Environment: env, Version: version},
		HealthcheckStatus: Healthy,
	}
}

func TestCriteria_Matches(t *testing.T) {
	c, err := NewCriteria("prod", "")
	require.NoError(t, err)

	assert.True(t, c.Matches(healthyNode("a", 1, "prod", "")))
	assert.False(t, c.Matches(healthyNode("a", 1, "stage", "")))

	sick := healthyNode("a", 1, "prod", "")
	sick.HealthcheckStatus = Unhealthy
	assert.False(t, c.Matches(sick))
}

func TestCriteria_VersionConstraint(t *testing.T) {
	c, err := NewCriteria("prod", "^1.2")
	require.NoError(t, err)
	assert.Equal(t, "^1.2", c.VersionConstraint())

	assert.True(t, c.Matches(healthyNode("a", 1, "prod", "1.4.0")))
	assert.False(t, c.Matches(healthyNode("a", 1, "prod", "2.0.0")))
	assert.False(t, c.Matches(healthyNode("a", 1, "prod", "not-a-version")))

	_, err = NewCriteria("prod", ">>>")
	assert.Error(t, err)
}

func TestCriteria_Filter(t *testing.T) {
	c, _ := NewCriteria("prod", "")
	nodes := []Node{
		healthyNode("a", 1, "prod", ""),
		healthyNode("b", 2, "stage", ""),
		healthyNode("c", 3, "prod", ""),
	}
	got := c.Filter(nodes)
	require.Len(t, got, 2)
	assert.Equal(t, "a:1", got[0].Addr())
	assert.Equal(t, "c:3", got[1].Addr())
}

func TestNode_AddrIPv6(t *testing.T) {
	assert.Equal(t, "[::1]:80", Node{Host: "::1", Port: 80}.Addr())
}

func TestDecodeNodes_SkipsBadPayloads(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewLogfmtLogger(&buf)
	good, err := JSONSerializer(healthyNode("10.0.0.5", 8080, "prod", ""))
	require.NoError(t, err)

	nodes := decodeNodes(logger, JSONDeserializer, [][]byte{good, []byte("{oops")})
	require.Len(t, nodes, 1)
	assert.Equal(t, "10.0.0.5:8080", nodes[0].Addr())
	assert.Contains(t, buf.String(), "could not parse node data")
}

func TestMemoryRegistry_Watch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watch := reg.Watch(ctx, "ns", "orders")
	assert.Empty(t, <-watch)
	require.NoError(t, reg.Register(ctx, "ns", "orders", healthyNode("10.0.0.5", 8080, "prod", ""), time.Minute))

	select {
	case nodes := <-watch:
		require.Len(t, nodes, 1)
	case <-time.After(time.Second):
		t.Fatal("watch did not emit")
	}

	require.NoError(t, reg.Deregister(ctx, "ns", "orders", healthyNode("10.0.0.5", 8080, "prod", "")))
	select {
	case nodes := <-watch:
		assert.Empty(t, nodes)
	case <-time.After(time.Second):
		t.Fatal("watch did not emit after deregister")
	}

	cancel()
	for range watch {
	}
}

func TestMemoryRegistry_WatchStartsWithCurrentList(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, reg.Register(ctx, "ns", "orders", healthyNode("10.0.0.5", 8080, "prod", ""), time.Minute))
	select {
	case nodes := <-reg.Watch(ctx, "ns", "orders"):
		require.Len(t, nodes, 1)
		assert.Equal(t, "10.0.0.5:8080", nodes[0].Addr())
	case <-time.After(time.Second):
		t.Fatal("watch did not emit the current list")
	}
}
