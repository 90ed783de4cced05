package meshnode

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshroute/internal/membership"
	"github.com/rmacdonaldsmith/meshroute/internal/routingtable"
	membershippkg "github.com/rmacdonaldsmith/meshroute/pkg/membership"
	routingtablepkg "github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

func newTestFilters(t *testing.T) *localFilters {
	t.Helper()
	f, err := newLocalFilters("node-a", DefaultHash, 64, 4096)
	require.NoError(t, err)
	return f
}

func kinds(events []membershippkg.Event) []membershippkg.Kind {
	out := make([]membershippkg.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestLocalFilters_ExactLifecycle(t *testing.T) {
	f := newTestFilters(t)

	events, err := f.subscribe("alerts")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, membershippkg.FilterSet, events[0].Kind)
	assert.Equal(t, "node-a", events[0].PeerID)
	assert.Equal(t, DefaultHash, events[0].Hash)
	assert.Len(t, events[0].Filter, 64)
	assert.False(t, events[0].Wildcard)

	events, err = f.subscribe("alerts")
	require.NoError(t, err)
	assert.Empty(t, events, "a second reference changes nothing")

	events, err = f.unsubscribe("alerts")
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = f.unsubscribe("alerts")
	require.NoError(t, err)
	assert.Equal(t, []membershippkg.Kind{membershippkg.FilterDelete}, kinds(events))

	_, err = f.unsubscribe("alerts")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestLocalFilters_UpdateCodesReproduceFilter(t *testing.T) {
	f := newTestFilters(t)
	_, err := f.subscribe("a")
	require.NoError(t, err)
	prev := append([]byte(nil), f.exactBits...)

	events, err := f.subscribe("b")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, membershippkg.FilterUpdate, events[0].Kind)

	for _, c := range events[0].Codes {
		require.Positive(t, c, "adding a key only sets bits")
		pos := c - 1
		prev[pos/8] |= 1 << (pos % 8)
	}
	assert.Equal(t, f.exactBits, prev)
}

func TestDiffCodes(t *testing.T) {
	prev := []byte{0b0000_0101, 0x00}
	next := []byte{0b0000_0110, 0x80}
	assert.Equal(t, []int32{-1, 2, 16}, diffCodes(prev, next))
	assert.Empty(t, diffCodes(next, next))
}

func TestLocalFilters_WildcardLifecycle(t *testing.T) {
	f := newTestFilters(t)

	events, err := f.subscribe("sensors/+/temp")
	require.NoError(t, err)
	assert.Equal(t, []membershippkg.Kind{membershippkg.FilterSet, membershippkg.PatternAdd}, kinds(events))
	assert.True(t, events[0].Wildcard)
	assert.Equal(t, routingtablepkg.Pattern{ID: 1, PlusLevels: []uint16{2}, Len: 3}, events[1].Pattern)

	events, err = f.subscribe("logs/#")
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, membershippkg.PatternAdd, last.Kind)
	assert.Equal(t, uint64(2), last.Pattern.ID)

	events, err = f.unsubscribe("sensors/+/temp")
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, membershippkg.PatternDelete, events[0].Kind)
	assert.Equal(t, uint64(1), events[0].Pattern.ID)

	events, err = f.unsubscribe("logs/#")
	require.NoError(t, err)
	assert.Equal(t, membershippkg.FilterDelete, events[len(events)-1].Kind)
	assert.Nil(t, f.wildcardBits)
}

func TestLocalFilters_InvalidFilters(t *testing.T) {
	f := newTestFilters(t)
	for _, filter := range []string{"", "a/#/b", "a/b+"} {
		_, err := f.subscribe(filter)
		assert.ErrorIs(t, err, routingtablepkg.ErrInvalidArgument, filter)
	}
	assert.Empty(t, f.list())
}

func TestLocalFilters_FilterBytes(t *testing.T) {
	f, err := newLocalFilters("n", DefaultHash, 64, 256)
	require.NoError(t, err)

	assert.Equal(t, 64, f.filterBytes(1))
	assert.Equal(t, 64, f.filterBytes(51))
	assert.Equal(t, 128, f.filterBytes(100))
	assert.Equal(t, 256, f.filterBytes(10000), "capped at max")
}

func TestLocalFilters_GrowthResendsWholeFilter(t *testing.T) {
	f, err := newLocalFilters("n", DefaultHash, 8, 4096)
	require.NoError(t, err)

	var sets int
	for i := 0; i < 20; i++ {
		events, err := f.subscribe(fmt.Sprintf("t/%d", i))
		require.NoError(t, err)
		for _, ev := range events {
			if ev.Kind == membershippkg.FilterSet {
				sets++
			}
		}
	}
	assert.Equal(t, 32, len(f.exactBits))
	assert.Equal(t, 3, sets, "initial filter plus two doublings")
}

func TestLocalFilters_Snapshot(t *testing.T) {
	f := newTestFilters(t)
	assert.Equal(t, []membershippkg.Kind{membershippkg.NodeJoin}, kinds(f.snapshot()))

	for _, s := range []string{"b/#", "alerts", "a/+"} {
		_, err := f.subscribe(s)
		require.NoError(t, err)
	}
	snap := f.snapshot()
	assert.Equal(t, []membershippkg.Kind{
		membershippkg.NodeJoin,
		membershippkg.FilterSet,
		membershippkg.FilterSet,
		membershippkg.PatternAdd,
		membershippkg.PatternAdd,
	}, kinds(snap))
	assert.Equal(t, uint64(1), snap[3].Pattern.ID)
	assert.Equal(t, uint64(2), snap[4].Pattern.ID)

	subs := f.list()
	require.Len(t, subs, 3)
	assert.Equal(t, "a/+", subs[0].Filter)
	assert.True(t, subs[0].Wildcard)
	assert.Equal(t, "alerts", subs[1].Filter)
}

// TestLocalFilters_EventsKeepPeerInSync replays every emitted event into a
// routing table, as a peer would, and checks it routes like the local state.
func TestLocalFilters_EventsKeepPeerInSync(t *testing.T) {
	table, err := routingtable.NewLookupSet(routingtable.Config{MaxNodes: 4})
	require.NoError(t, err)
	defer table.Close()
	applier := membership.NewApplier(table, membership.NewRegistry(4), nil)

	f := newTestFilters(t)
	apply := func(events []membershippkg.Event, err error) {
		t.Helper()
		require.NoError(t, err)
		for _, ev := range events {
			require.NoError(t, applier.Apply(context.Background(), ev), ev.Kind.String())
		}
	}
	routes := func(topic string) bool {
		out := make([]routingtablepkg.NodeHandle, 4)
		n, err := table.Lookup([]byte(topic), nil, out)
		require.NoError(t, err)
		return n == 1
	}

	apply(f.subscribe("home/kitchen/temp"))
	apply(f.subscribe("office/+/temp"))
	apply(f.subscribe("logs/#"))
	assert.True(t, routes("home/kitchen/temp"))
	assert.True(t, routes("office/desk/temp"))
	assert.True(t, routes("logs/a/b/c"))
	assert.True(t, routes("logs"))

	apply(f.unsubscribe("office/+/temp"))
	assert.False(t, routes("office/desk/temp"))
	assert.True(t, routes("logs/x"))

	apply(f.unsubscribe("home/kitchen/temp"))
	assert.False(t, routes("home/kitchen/temp"))

	apply(f.unsubscribe("logs/#"))
	assert.False(t, routes("logs/x"))
}
