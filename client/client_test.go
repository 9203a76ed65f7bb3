package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ranger-rpc/command"
	"ranger-rpc/contract"
	"ranger-rpc/discovery"
	"ranger-rpc/registry"
	"ranger-rpc/target"
)

type order struct {
	ID    string `json:"id"`
	Total int    `json:"total"`
}

type ordersAPI struct {
	Get    func(ctx context.Context, id string) (*order, error)             `rpc:"GET /orders/{id}" params:"id"`
	Create func(ctx context.Context, o order) (*order, error)               `rpc:"POST /orders"`
	Delete func(ctx context.Context, id string) error                       `rpc:"DELETE /orders/{id}" params:"id"`
	Lazy   func(ctx context.Context, id string) *command.Command[*order]    `rpc:"GET /orders/{id}" params:"id"`
	Async  func(ctx context.Context, id string) *command.Single[*order]     `rpc:"GET /orders/{id}" params:"id"`
	Stream func(ctx context.Context, id string) *command.Observable[*order] `rpc:"GET /orders/{id}" params:"id"`
	Slow   func(ctx context.Context) (string, error)                        `rpc:"GET /slow"`
}

type ordersServer struct {
	*httptest.Server
	hits       atomic.Int64
	lastHeader atomic.Value
	entered    chan struct{}
	release    chan struct{}
}

func newOrdersServer(t *testing.T) *ordersServer {
	t.Helper()
	s := &ordersServer{entered: make(chan struct{}, 8), release: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.lastHeader.Store(r.Header.Clone())
		switch id := r.PathValue("id"); id {
		case "missing":
			http.NotFound(w, r)
		case "boom":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			_ = json.NewEncoder(w).Encode(order{ID: id, Total: 7})
		}
	})
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		var o order
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		o.ID = "created-" + o.ID
		_ = json.NewEncoder(w).Encode(o)
	})
	mux.HandleFunc("DELETE /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.entered <- struct{}{}
		select {
		case <-s.release:
			_ = json.NewEncoder(w).Encode("done")
		case <-r.Context().Done():
		}
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *ordersServer) node(t *testing.T) registry.Node {
	t.Helper()
	u, err := url.Parse(s.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return registry.Node{
		Host:              host,
		Port:              port,
		NodeData:          registry.ShardInfo{Environment: "prod"},
		HealthcheckStatus: registry.Healthy,
	}
}

func newAPI(t *testing.T, srv *ordersServer, fallback any, opts ...Option) *ordersAPI {
	t.Helper()
	var api ordersAPI
	require.NoError(t, NewBuilder(opts...).TargetURL(&api, srv.URL, fallback))
	return &api
}

// discover binds api to the "orders" service in a memory registry.
func discover(t *testing.T, reg registry.Registry, fallback any, cfg target.Config, opts ...Option) *ordersAPI {
	t.Helper()
	var api ordersAPI
	binding, err := NewBuilder(opts...).Build(context.Background(), &api, ServiceConfig{
		Environment: "prod",
		Namespace:   "shop",
		Name:        "orders",
		Registry:    reg,
		Target:      cfg,
	}, fallback)
	require.NoError(t, err)
	t.Cleanup(func() { _ = binding.Close() })
	return &api
}

type ordersFallback struct{}

func (ordersFallback) Get(_ context.Context, id string) (*order, error) {
	return &order{ID: "fallback-" + id}, nil
}

func (ordersFallback) Async(_ context.Context, id string) (*order, error) {
	return &order{ID: "fallback-" + id}, nil
}

func (ordersFallback) Lazy(_ context.Context, id string) *command.Single[*order] {
	return command.Just(&order{ID: "fallback-" + id})
}

func (ordersFallback) Stream(_ context.Context, id string) *command.Command[*order] {
	return command.NewCommand(func(context.Context) (*order, error) {
		return &order{ID: "fallback-" + id}, nil
	})
}

func (ordersFallback) Delete(context.Context, string) error {
	return errors.New("fallback cannot delete")
}

func TestDirect(t *testing.T) {
	srv := newOrdersServer(t)
	api := newAPI(t, srv, nil)
	ctx := context.Background()

	o, err := api.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, &order{ID: "42", Total: 7}, o)

	created, err := api.Create(ctx, order{ID: "9", Total: 3})
	require.NoError(t, err)
	assert.Equal(t, &order{ID: "created-9", Total: 3}, created)

	require.NoError(t, api.Delete(ctx, "42"))
	assert.EqualValues(t, 3, srv.hits.Load())
}

func TestDirect_NilContext(t *testing.T) {
	srv := newOrdersServer(t)
	api := newAPI(t, srv, nil)

	var ctx context.Context
	o, err := api.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "1", o.ID)
}

func TestDeferredCommand_RunsOnlyWhenExecuted(t *testing.T) {
	srv := newOrdersServer(t)
	api := newAPI(t, srv, nil)
	ctx := context.Background()

	cmd := api.Lazy(ctx, "7")
	require.NotNil(t, cmd)
	assert.Zero(t, srv.hits.Load())

	o, err := cmd.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", o.ID)
	assert.EqualValues(t, 1, srv.hits.Load())

	_, err = cmd.Execute(ctx)
	assert.ErrorIs(t, err, command.ErrAlreadyExecuted)
	assert.EqualValues(t, 1, srv.hits.Load())

	r := <-api.Lazy(ctx, "8").Queue(ctx)
	require.NoError(t, r.Err)
	assert.Equal(t, "8", r.Value.ID)
}

func TestSingleAsync_EverySubscriptionCalls(t *testing.T) {
	srv := newOrdersServer(t)
	api := newAPI(t, srv, nil)
	ctx := context.Background()

	single := api.Async(ctx, "5")
	assert.Zero(t, srv.hits.Load())

	for i := 0; i < 2; i++ {
		o, err := single.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "5", o.ID)
	}
	assert.EqualValues(t, 2, srv.hits.Load())

	r := <-single.Subscribe(ctx)
	require.NoError(t, r.Err)
	assert.EqualValues(t, 3, srv.hits.Load())

	stream := api.Stream(ctx, "6")
	assert.EqualValues(t, 3, srv.hits.Load())
	var got []*order
	completed := false
	<-stream.Subscribe(ctx, command.Observer[*order]{
		OnNext:      func(o *order) { got = append(got, o) },
		OnCompleted: func() { completed = true },
	})
	<-stream.Subscribe(ctx, command.Observer[*order]{
		OnNext: func(o *order) { got = append(got, o) },
	})
	require.Len(t, got, 2)
	assert.Equal(t, "6", got[0].ID)
	assert.True(t, completed)
	assert.EqualValues(t, 5, srv.hits.Load())
}

func TestFallback_AdaptsToDeclaredShape(t *testing.T) {
	srv := newOrdersServer(t)
	api := newAPI(t, srv, ordersFallback{})
	ctx := context.Background()

	o, err := api.Get(ctx, "boom")
	require.NoError(t, err)
	assert.Equal(t, "fallback-boom", o.ID)

	// Plain fallback value behind a declared Single.
	o, err = api.Async(ctx, "boom").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fallback-boom", o.ID)

	// Single fallback behind a declared Command.
	o, err = api.Lazy(ctx, "boom").Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fallback-boom", o.ID)

	// Command fallback behind a declared Observable.
	o, err = api.Stream(ctx, "boom").First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fallback-boom", o.ID)

	// Success never touches the fallback.
	o, err = api.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "1", o.ID)
}

func TestFallback_SameStructType(t *testing.T) {
	srv := newOrdersServer(t)
	fallback := &ordersAPI{
		Get: func(_ context.Context, id string) (*order, error) {
			return &order{ID: "cached-" + id}, nil
		},
	}
	api := newAPI(t, srv, fallback)
	ctx := context.Background()

	o, err := api.Get(ctx, "boom")
	require.NoError(t, err)
	assert.Equal(t, "cached-boom", o.ID)

	// A nil field means no fallback for that method.
	_, err = api.Async(ctx, "boom").Get(ctx)
	assert.ErrorIs(t, err, ErrPrimaryCallFailed)
	assert.NotErrorIs(t, err, ErrFallbackFailed)
}

func TestErrors_PrimaryVersusFallbackFailure(t *testing.T) {
	srv := newOrdersServer(t)
	ctx := context.Background()

	noFallback := newAPI(t, srv, nil)
	_, err := noFallback.Get(ctx, "boom")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrimaryCallFailed)
	assert.NotErrorIs(t, err, ErrFallbackFailed)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusInternalServerError, status.Status)

	withFallback := newAPI(t, srv, ordersFallback{})
	err = withFallback.Delete(ctx, "boom")
	require.NoError(t, err)

	srv.Close()
	err = withFallback.Delete(ctx, "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFallbackFailed)
	var fe *FallbackError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, srv.URL+".Delete", fe.Command)
	assert.ErrorIs(t, fe.Primary, ErrPrimaryCallFailed)
	assert.EqualError(t, fe.Fallback, "fallback cannot delete")
}

func TestFallback_ErrorReachesObserver(t *testing.T) {
	srv := newOrdersServer(t)
	failing := &ordersAPI{
		Stream: func(context.Context, string) *command.Observable[*order] {
			return command.NewObservable(func(context.Context) (*order, error) {
				return nil, errors.New("cache miss")
			})
		},
	}
	api := newAPI(t, srv, failing)
	ctx := context.Background()

	var got error
	<-api.Stream(ctx, "boom").Subscribe(ctx, command.Observer[*order]{
		OnError: func(err error) { got = err },
	})
	assert.ErrorIs(t, got, ErrFallbackFailed)
}

func TestPool_SecondConcurrentCallRejected(t *testing.T) {
	srv := newOrdersServer(t)
	reg := registry.NewMemoryRegistry()
	require.NoError(t, reg.Register(context.Background(), "shop", "orders", srv.node(t), time.Minute))
	pools := command.NewPools(command.DefaultSettings(), map[string]command.Settings{
		"orders.Slow": {MaxConcurrent: 1, Timeout: 5 * time.Second},
	}, nil)
	api := discover(t, reg, nil, target.Config{}, WithPools(pools))
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := api.Slow(ctx)
		first <- err
	}()
	<-srv.entered

	_, err := api.Slow(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, command.ErrRejected)
	assert.NotErrorIs(t, err, command.ErrTimedOut)
	assert.NotErrorIs(t, err, ErrFallbackFailed)

	// Other methods have their own pool.
	_, err = api.Get(ctx, "1")
	require.NoError(t, err)

	close(srv.release)
	require.NoError(t, <-first)
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestPool_Timeout(t *testing.T) {
	srv := newOrdersServer(t)
	pools := command.NewPools(command.DefaultSettings(), map[string]command.Settings{
		srv.URL + ".Slow": {MaxConcurrent: 1, Timeout: 50 * time.Millisecond},
	}, nil)
	api := newAPI(t, srv, nil, WithPools(pools))

	_, err := api.Slow(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, command.ErrTimedOut)
	assert.NotErrorIs(t, err, command.ErrRejected)
}

func TestPool_RejectionUsesFallback(t *testing.T) {
	srv := newOrdersServer(t)
	pools := command.NewPools(command.DefaultSettings(), map[string]command.Settings{
		srv.URL + ".Slow": {MaxConcurrent: 1, Timeout: 5 * time.Second},
	}, nil)
	fallback := &ordersAPI{Slow: func(context.Context) (string, error) { return "busy", nil }}
	api := newAPI(t, srv, fallback, WithPools(pools))
	ctx := context.Background()

	first := make(chan string, 1)
	go func() {
		v, _ := api.Slow(ctx)
		first <- v
	}()
	<-srv.entered

	v, err := api.Slow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "busy", v)

	close(srv.release)
	assert.Equal(t, "done", <-first)
}

func TestDiscovery_RoutesToLiveNode(t *testing.T) {
	srv := newOrdersServer(t)
	reg := registry.NewMemoryRegistry()
	require.NoError(t, reg.Register(context.Background(), "shop", "orders", srv.node(t), time.Minute))

	var api ordersAPI
	binding, err := NewBuilder().Build(context.Background(), &api, ServiceConfig{
		Environment: "prod",
		Namespace:   "shop",
		Name:        "orders",
		Registry:    reg,
		Target:      target.Config{FallbackAddress: "127.0.0.1:1"},
	}, nil)
	require.NoError(t, err)
	defer binding.Close()

	u, err := binding.Target().Resolve()
	require.NoError(t, err)
	assert.Equal(t, srv.URL, u)
	assert.Len(t, binding.Resolver().AllNodes(), 1)

	o, err := api.Get(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, "3", o.ID)
}

func TestDiscovery_TargetUnavailable(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ctx := context.Background()

	api := discover(t, reg, nil, target.Config{})
	_, err := api.Get(ctx, "1")
	assert.ErrorIs(t, err, target.ErrTargetUnavailable)
	assert.NotErrorIs(t, err, ErrPrimaryCallFailed)

	api = discover(t, reg, ordersFallback{}, target.Config{})
	o, err := api.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "fallback-1", o.ID)
}

func TestDiscovery_FallbackAddress(t *testing.T) {
	srv := newOrdersServer(t)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	api := discover(t, registry.NewMemoryRegistry(), nil, target.Config{FallbackAddress: u.Host})
	o, err := api.Get(context.Background(), "4")
	require.NoError(t, err)
	assert.Equal(t, "4", o.ID)
}

type brokenRegistryClient struct{}

func (brokenRegistryClient) Start(context.Context) error {
	return errors.New("dial tcp: connection refused")
}
func (brokenRegistryClient) Stop() error { return nil }
func (brokenRegistryClient) GetNode(registry.Criteria) (registry.Node, bool) {
	return registry.Node{}, false
}
func (brokenRegistryClient) GetAll(registry.Criteria) []registry.Node { return nil }

var _ discovery.RegistryClient = brokenRegistryClient{}

func TestBuild_RegistryUnavailable(t *testing.T) {
	var api ordersAPI
	_, err := NewBuilder().Build(context.Background(), &api, ServiceConfig{
		Environment:    "prod",
		Namespace:      "shop",
		Name:           "orders",
		RegistryClient: brokenRegistryClient{},
	}, nil)
	assert.ErrorIs(t, err, discovery.ErrRegistryUnavailable)
	assert.Nil(t, api.Get)

	_, err = NewBuilder().Build(context.Background(), &api, ServiceConfig{Name: "orders"}, nil)
	assert.Error(t, err)
}

func TestDecode404(t *testing.T) {
	srv := newOrdersServer(t)
	ctx := context.Background()

	o, err := newAPI(t, srv, nil, WithDecode404()).Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, o)

	_, err = newAPI(t, srv, nil).Get(ctx, "missing")
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.Status)
}

func TestRequestInterceptors(t *testing.T) {
	srv := newOrdersServer(t)
	api := newAPI(t, srv, nil,
		WithRequestInterceptor(func(t *contract.RequestTemplate) { t.Header.Set("X-Request-Id", "abc") }),
		WithRequestInterceptor(func(t *contract.RequestTemplate) { t.Header.Add("X-Trace", "1") }),
	)

	_, err := api.Get(context.Background(), "1")
	require.NoError(t, err)
	h := srv.lastHeader.Load().(http.Header)
	assert.Equal(t, "abc", h.Get("X-Request-Id"))
	assert.Equal(t, "1", h.Get("X-Trace"))
}

func TestTarget_RejectsBadDeclarations(t *testing.T) {
	b := NewBuilder()
	tgt := target.NewHardCoded(nil, "x", "http://localhost")

	var api ordersAPI
	assert.Error(t, b.Target(api, tgt, nil))
	assert.Error(t, b.Target((*ordersAPI)(nil), tgt, nil))

	var plain struct {
		Get func(id string) string `rpc:"GET /x/{id}" params:"id"`
	}
	assert.Error(t, b.Target(&plain, tgt, nil))

	badFallback := struct {
		Get func(id int) (*order, error)
	}{Get: func(int) (*order, error) { return nil, nil }}
	assert.Error(t, b.Target(&api, tgt, &badFallback))

	var wrappedErr struct {
		Get func(ctx context.Context, id string) (*command.Single[*order], error) `rpc:"GET /orders/{id}" params:"id"`
	}
	assert.Error(t, b.Target(&wrappedErr, tgt, nil))
	assert.Nil(t, wrappedErr.Get)

	var lazyErr struct {
		Get func(ctx context.Context, id string) (*command.Command[order], error) `rpc:"GET /orders/{id}" params:"id"`
	}
	assert.Error(t, b.Target(&lazyErr, tgt, nil))

	other := target.NewHardCoded(reflect.TypeFor[int](), "x", "http://localhost")
	assert.Error(t, b.Target(&api, other, nil))
}
