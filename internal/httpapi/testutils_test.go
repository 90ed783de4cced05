package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshroute/pkg/meshnode"
	"github.com/rmacdonaldsmith/meshroute/pkg/peerlink"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

// fakeNode is an in-memory MeshNode whose routes are configured per topic
type fakeNode struct {
	mu       sync.Mutex
	subs     map[string]int
	routes   map[string][]string
	stats    meshnode.Stats
	health   meshnode.HealthStatus
	routeErr error
	subErr   error
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		subs:   make(map[string]int),
		routes: make(map[string][]string),
		health: meshnode.HealthStatus{Healthy: true, RoutingTableHealthy: true, PeerLinkHealthy: true, Message: "ok"},
	}
}

func (f *fakeNode) Close() error                        { return nil }
func (f *fakeNode) Start(context.Context) error         { return nil }
func (f *fakeNode) Stop(context.Context) error          { return nil }
func (f *fakeNode) NodeID() string                      { return "fake-node" }
func (f *fakeNode) ConnectedPeers() []peerlink.PeerNode { return nil }

func (f *fakeNode) Subscribe(_ context.Context, filter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subs[filter]++
	return nil
}

func (f *fakeNode) Unsubscribe(_ context.Context, filter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[filter] == 0 {
		return routingtable.ErrNotFound
	}
	f.subs[filter]--
	if f.subs[filter] == 0 {
		delete(f.subs, filter)
	}
	return nil
}

func (f *fakeNode) Subscriptions() []meshnode.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []meshnode.Subscription
	for filter, refs := range f.subs {
		out = append(out, meshnode.Subscription{Filter: filter, Refs: refs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filter < out[j].Filter })
	return out
}

func (f *fakeNode) Route(_ context.Context, topic string) ([]string, error) {
	if f.routeErr != nil {
		return nil, f.routeErr
	}
	return f.routes[topic], nil
}

func (f *fakeNode) Health(context.Context) (meshnode.HealthStatus, error) { return f.health, nil }
func (f *fakeNode) Stats(context.Context) (meshnode.Stats, error)        { return f.stats, nil }

// testServer wires a Server around a node for handler tests
type testServer struct {
	*Server
	handler http.Handler
}

func newTestServer(t *testing.T, node meshnode.MeshNode, config Config) *testServer {
	t.Helper()
	if config.SecretKey == "" {
		config.SecretKey = "test-secret-key"
	}
	s := NewServer(node, config, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &testServer{Server: s, handler: s.Handler()}
}

// token issues a token signed by the server under test
func (s *testServer) token(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()
	token, _, err := s.jwtAuth.GenerateToken(clientID, isAdmin)
	require.NoError(t, err)
	return token
}

// do sends a request through the full middleware chain
func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
