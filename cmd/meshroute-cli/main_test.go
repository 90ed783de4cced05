package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshroute/internal/httpapi"
	"github.com/rmacdonaldsmith/meshroute/internal/hashing"
	"github.com/rmacdonaldsmith/meshroute/internal/meshnode"
	"github.com/rmacdonaldsmith/meshroute/internal/routingtable"
	"github.com/rmacdonaldsmith/meshroute/pkg/httpclient"
	hashingpkg "github.com/rmacdonaldsmith/meshroute/pkg/hashing"
)

// startNode serves a started mesh node's HTTP API from an httptest server.
func startNode(t *testing.T) string {
	t.Helper()
	config := meshnode.NewConfig("node-a", "127.0.0.1:0").
		WithRoutingTableConfig(&routingtable.Config{MaxNodes: 8})
	node, err := meshnode.NewGRPCMeshNode(config)
	require.NoError(t, err)
	t.Cleanup(func() { node.Close() })
	require.NoError(t, node.Start(context.Background()))

	api := httpapi.NewServer(node, httpapi.Config{SecretKey: "cli-test"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return server.URL
}

// runCLI executes the CLI with args and returns its output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	client = nil
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLI_EndToEnd(t *testing.T) {
	url := startNode(t)

	out, err := runCLI(t, "--server", url, "--client-id", "admin", "auth")
	require.NoError(t, err)
	require.Contains(t, out, "Authentication successful")
	tok := ""
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Token: ") {
			tok = strings.TrimPrefix(line, "Token: ")
		}
	}
	require.NotEmpty(t, tok)
	base := []string{"--server", url, "--token", tok}

	out, err = runCLI(t, append(base, "subscribe", "sensors/+/temp")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Subscribed to sensors/+/temp (wildcard, 1 reference(s))")

	out, err = runCLI(t, append(base, "subscribe", "alerts")...)
	require.NoError(t, err)
	assert.Contains(t, out, "(exact, 1 reference(s))")

	out, err = runCLI(t, append(base, "subscriptions")...)
	require.NoError(t, err)
	assert.Contains(t, out, "FILTER")
	assert.Contains(t, out, "sensors/+/temp")
	assert.Contains(t, out, "alerts")

	out, err = runCLI(t, append(base, "route", "sensors/kitchen/temp")...)
	require.NoError(t, err)
	assert.Contains(t, out, "routes to 1 node(s)")
	assert.Contains(t, out, "node-a")

	out, err = runCLI(t, append(base, "unsubscribe", "alerts")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Unsubscribed from alerts")

	out, err = runCLI(t, append(base, "route", "alerts")...)
	require.NoError(t, err)
	assert.Contains(t, out, "No nodes match alerts")

	_, err = runCLI(t, append(base, "unsubscribe", "alerts")...)
	assert.ErrorContains(t, err, "404")

	out, err = runCLI(t, append(base, "health")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Node is healthy")

	out, err = runCLI(t, append(base, "admin", "stats")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Node: node-a")
	assert.Contains(t, out, "Local Subscriptions: 1")

	out, err = runCLI(t, append(base, "admin", "peers")...)
	require.NoError(t, err)
	assert.Contains(t, out, "No peers connected")
}

func TestCLI_RequiresClientID(t *testing.T) {
	_, err := runCLI(t, "--server", "http://localhost:1", "--token", "", "route", "x")
	assert.ErrorContains(t, err, "client-id is required")
}

func TestCLI_Hash(t *testing.T) {
	out, err := runCLI(t, "hash", "--hash", "murmur3-lc", "--num-hashes", "3", "--filter-bytes", "8", "alerts", "--check", "alerts")
	require.NoError(t, err)

	p := hashing.MustFor(hashingpkg.Murmur3LinearCombination)
	filter := p.BuildFilter(3, 8, "alerts")
	assert.Contains(t, out, "filter (murmur3-lc/3, 8 bytes): ")
	assert.Contains(t, out, "contains alerts: maybe")
	assert.True(t, p.HasKey(filter, 3, []byte("alerts")))

	_, err = runCLI(t, "hash", "--hash", "md5", "k")
	assert.Error(t, err)
	_, err = runCLI(t, "hash", "--filter-bytes", "0", "k")
	assert.Error(t, err)
}

func TestRequireAuthentication(t *testing.T) {
	t.Run("returns error when client is nil", func(t *testing.T) {
		client = nil
		assert.ErrorContains(t, requireAuthentication(), "client not initialized")
	})

	t.Run("returns error when not authenticated", func(t *testing.T) {
		c, err := httpclient.NewClient(httpclient.Config{ServerURL: "http://localhost:8080", ClientID: "test-client", Timeout: 5 * time.Second})
		require.NoError(t, err)
		client = c
		defer func() { client = nil }()
		assert.ErrorContains(t, requireAuthentication(), "not authenticated")
	})

	t.Run("succeeds when authenticated", func(t *testing.T) {
		c, err := httpclient.NewClient(httpclient.Config{ServerURL: "http://localhost:8080", ClientID: "test-client", Token: "t"})
		require.NoError(t, err)
		client = c
		defer func() { client = nil }()
		assert.NoError(t, requireAuthentication())
	})
}

func TestMainCommandHelp(t *testing.T) {
	out, err := runCLI(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"auth", "health", "subscribe", "unsubscribe", "subscriptions", "route", "admin", "hash"} {
		assert.Contains(t, out, name)
	}
}
