package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshroute/pkg/meshnode"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{ServerURL: server.URL, ClientID: "test-client", Token: "test-token"})
	require.NoError(t, err)
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:8080", ClientID: "test-client"})
		require.NoError(t, err)
		assert.Equal(t, "test-client", client.config.ClientID)
		assert.Equal(t, 30*time.Second, client.config.Timeout)
		assert.Equal(t, 3, client.config.MaxRetries)
		assert.False(t, client.IsAuthenticated())
	})

	t.Run("preset_token", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:8080", ClientID: "c", Token: "t"})
		require.NoError(t, err)
		assert.True(t, client.IsAuthenticated())
		assert.Equal(t, "t", client.GetToken())
	})

	t.Run("missing_server_url", func(t *testing.T) {
		_, err := NewClient(Config{ClientID: "test-client"})
		assert.ErrorContains(t, err, "ServerURL is required")
	})

	t.Run("missing_client_id", func(t *testing.T) {
		_, err := NewClient(Config{ServerURL: "http://localhost:8080"})
		assert.ErrorContains(t, err, "ClientID is required")
	})

	t.Run("invalid_server_url", func(t *testing.T) {
		_, err := NewClient(Config{ServerURL: "://invalid-url", ClientID: "test-client"})
		assert.ErrorContains(t, err, "invalid ServerURL")
	})
}

func TestClient_Authenticate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-client", req["clientId"])

		writeJSON(t, w, http.StatusOK, AuthResponse{Token: "new-token", ClientID: "test-client", ExpiresAt: time.Now().Add(time.Hour)})
	})
	client.SetToken("")

	resp, err := client.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-token", resp.Token)
	assert.Equal(t, "new-token", client.GetToken())
}

func TestClient_RequiresToken(t *testing.T) {
	client, err := NewClient(Config{ServerURL: "http://localhost:1", ClientID: "c"})
	require.NoError(t, err)

	_, err = client.Subscribe(context.Background(), "a")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = client.Route(context.Background(), "a")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestClient_Subscriptions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/subscriptions", r.URL.Path)

		switch r.Method {
		case http.MethodPost:
			var req SubscriptionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeJSON(t, w, http.StatusCreated, meshnode.Subscription{Filter: req.Filter, Wildcard: true, Refs: 1})
		case http.MethodDelete:
			assert.Equal(t, "sensors/+/temp", r.URL.Query().Get("filter"))
			writeJSON(t, w, http.StatusOK, meshnode.Subscription{Filter: "sensors/+/temp"})
		case http.MethodGet:
			writeJSON(t, w, http.StatusOK, SubscriptionsListResponse{
				Subscriptions: []meshnode.Subscription{{Filter: "alerts", Refs: 2}},
			})
		}
	})
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, "sensors/+/temp")
	require.NoError(t, err)
	assert.Equal(t, &SubscriptionResponse{Filter: "sensors/+/temp", Wildcard: true, Refs: 1}, sub)

	sub, err = client.Unsubscribe(ctx, "sensors/+/temp")
	require.NoError(t, err)
	assert.Zero(t, sub.Refs)

	list, err := client.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, list.Subscriptions, 1)
	assert.Equal(t, 2, list.Subscriptions[0].Refs)
}

func TestClient_Route(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/routes", r.URL.Path)
		topic := r.URL.Query().Get("topic")
		writeJSON(t, w, http.StatusOK, RouteResponse{Topic: topic, Nodes: []string{"node-a"}, Count: 1})
	})

	resp, err := client.Route(context.Background(), "orders/17 & more")
	require.NoError(t, err)
	assert.Equal(t, "orders/17 & more", resp.Topic)
	assert.Equal(t, []string{"node-a"}, resp.Nodes)
}

func TestClient_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, ErrorResponse{Error: "Not Found", Message: "subscription not found", Code: 404})
	})

	_, err := client.Unsubscribe(context.Background(), "nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "subscription not found", apiErr.Message)
}

func TestClient_GetHealth(t *testing.T) {
	var unhealthy atomic.Bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		status := http.StatusOK
		if unhealthy.Load() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(t, w, status, HealthResponse{Healthy: !unhealthy.Load(), Message: "msg"})
	})

	health, err := client.GetHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, health.Healthy)

	unhealthy.Store(true)
	health, err = client.GetHealth(context.Background())
	require.NoError(t, err, "an unhealthy node still reports its status")
	assert.False(t, health.Healthy)
	assert.Equal(t, "msg", health.Message)
}

func TestClient_Admin(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/admin/stats":
			writeJSON(t, w, http.StatusOK, meshnode.Stats{NodeID: "node-a", Subscriptions: 3})
		case "/api/v1/admin/peers":
			writeJSON(t, w, http.StatusOK, AdminPeersResponse{Peers: []meshnode.PeerStatus{{ID: "node-b", Health: "Healthy"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	stats, err := client.AdminGetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "node-a", stats.NodeID)
	assert.Equal(t, 3, stats.Subscriptions)

	peers, err := client.AdminListPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers.Peers, 1)
	assert.Equal(t, "node-b", peers.Peers[0].ID)
}

func TestClient_RetriesGet(t *testing.T) {
	// A listener that accepts then drops connections until the third attempt.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var calls atomic.Int32
	server := &httptest.Server{
		Listener: lis,
		Config: &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				hj, ok := w.(http.Hijacker)
				require.True(t, ok)
				conn, _, err := hj.Hijack()
				require.NoError(t, err)
				conn.Close()
				return
			}
			writeJSON(t, w, http.StatusOK, RouteResponse{Topic: "x"})
		})},
	}
	server.Start()
	t.Cleanup(server.Close)

	client, err := NewClient(Config{ServerURL: server.URL, ClientID: "c", Token: "t"})
	require.NoError(t, err)

	resp, err := client.Route(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "x", resp.Topic)
	assert.Equal(t, int32(3), calls.Load())

	// POSTs are not retried.
	calls.Store(0)
	_, err = client.Subscribe(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
