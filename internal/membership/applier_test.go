package membership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ihashing "github.com/rmacdonaldsmith/meshroute/internal/hashing"
	irt "github.com/rmacdonaldsmith/meshroute/internal/routingtable"
	"github.com/rmacdonaldsmith/meshroute/pkg/hashing"
	"github.com/rmacdonaldsmith/meshroute/pkg/membership"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

var testHash = hashing.Config{Type: hashing.City64SeedChaining, NumHashValues: 3}

func newTestApplier(t *testing.T) (*Applier, *irt.LookupSet, *Registry) {
	t.Helper()
	table, err := irt.NewLookupSet(irt.Config{MaxNodes: 16})
	require.NoError(t, err)
	t.Cleanup(func() { table.Close() })
	registry := NewRegistry(16)
	return NewApplier(table, registry, nil), table, registry
}

func routeTo(t *testing.T, table *irt.LookupSet, topic string) []any {
	t.Helper()
	out := make([]routingtable.NodeHandle, 16)
	n, err := table.Lookup([]byte(topic), nil, out)
	require.NoError(t, err)
	peers := make([]any, n)
	for i, h := range out[:n] {
		peers[i] = h.EngineHandle
	}
	return peers
}

func filterFor(keys ...string) []byte {
	return ihashing.MustFor(testHash.Type).BuildFilter(testHash.NumHashValues, 64, keys...)
}

func TestApplier_FilterLifecycle(t *testing.T) {
	a, table, registry := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.Apply(ctx, membership.Event{Kind: membership.FilterSet, PeerID: "n1", Hash: testHash, Filter: filterFor("orders/eu")}))
	assert.Equal(t, []any{"n1"}, routeTo(t, table, "orders/eu"))
	assert.Equal(t, 1, registry.Len())

	require.NoError(t, a.Apply(ctx, membership.Event{Kind: membership.FilterDelete, PeerID: "n1"}))
	assert.Empty(t, routeTo(t, table, "orders/eu"))

	require.NoError(t, a.Apply(ctx, membership.Event{Kind: membership.NodeLeave, PeerID: "n1"}))
	assert.Zero(t, registry.Len())
	assert.Zero(t, table.Stats().ActiveNodes)
}

func TestApplier_WildcardAndUpdate(t *testing.T) {
	a, table, _ := newTestApplier(t)
	ctx := context.Background()

	pattern, err := routingtable.ParsePattern(3, "sensors/+/temp")
	require.NoError(t, err)
	events := []membership.Event{
		{Kind: membership.NodeJoin, PeerID: "n2"},
		{Kind: membership.PatternAdd, PeerID: "n2", Pattern: pattern},
		{Kind: membership.FilterSet, PeerID: "n2", Wildcard: true, Hash: testHash, Filter: filterFor("sensors/+/temp")},
	}
	for _, ev := range events {
		require.NoError(t, a.Apply(ctx, ev), ev.Kind.String())
	}
	assert.Equal(t, []any{"n2"}, routeTo(t, table, "sensors/7/temp"))

	positions := ihashing.MustFor(testHash.Type).Positions([]byte("sensors/+/temp"), testHash.NumHashValues, 64*8, nil)
	codes := make([]int32, len(positions))
	for i, p := range positions {
		codes[i] = -(int32(p) + 1)
	}
	require.NoError(t, a.Apply(ctx, membership.Event{Kind: membership.FilterUpdate, PeerID: "n2", Wildcard: true, Codes: codes}))
	assert.Empty(t, routeTo(t, table, "sensors/7/temp"))

	require.NoError(t, a.Apply(ctx, membership.Event{Kind: membership.PatternDelete, PeerID: "n2", Pattern: routingtable.Pattern{ID: 3}}))
	err = a.Apply(ctx, membership.Event{Kind: membership.PatternDelete, PeerID: "n2", Pattern: routingtable.Pattern{ID: 3}})
	assert.ErrorIs(t, err, routingtable.ErrNotFound)
}

func TestApplier_RouteAll(t *testing.T) {
	a, table, _ := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.Apply(ctx, membership.Event{Kind: membership.RouteAll, PeerID: "sink", Enabled: true}))
	assert.Equal(t, []any{"sink"}, routeTo(t, table, "anything"))

	require.NoError(t, a.Apply(ctx, membership.Event{Kind: membership.RouteAll, PeerID: "sink"}))
	assert.Empty(t, routeTo(t, table, "anything"))
}

func TestApplier_UnknownPeer(t *testing.T) {
	a, _, _ := newTestApplier(t)
	ctx := context.Background()

	for _, ev := range []membership.Event{
		{Kind: membership.NodeLeave, PeerID: "ghost"},
		{Kind: membership.FilterDelete, PeerID: "ghost"},
		{Kind: membership.FilterUpdate, PeerID: "ghost", Codes: []int32{1}},
		{Kind: membership.PatternDelete, PeerID: "ghost"},
	} {
		assert.ErrorIs(t, a.Apply(ctx, ev), membership.ErrUnknownPeer, ev.Kind.String())
	}
}

func TestApplier_FailedAddReleasesIndex(t *testing.T) {
	a, table, registry := newTestApplier(t)
	ctx := context.Background()

	err := a.Apply(ctx, membership.Event{Kind: membership.FilterSet, PeerID: "big", Hash: testHash, Filter: make([]byte, 2<<20)})
	assert.ErrorIs(t, err, routingtable.ErrAllocate)
	assert.Zero(t, registry.Len())
	assert.Zero(t, table.Stats().ActiveNodes)
}

func TestApplier_InvalidEventAndCancelledContext(t *testing.T) {
	a, _, _ := newTestApplier(t)

	err := a.Apply(context.Background(), membership.Event{Kind: membership.FilterSet, PeerID: "n"})
	assert.ErrorIs(t, err, membership.ErrInvalidEvent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = a.Apply(ctx, membership.Event{Kind: membership.NodeJoin, PeerID: "n"})
	assert.ErrorIs(t, err, context.Canceled)
}
