package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	irt "github.com/rmacdonaldsmith/meshroute/internal/routingtable"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

func TestMetrics_Lookup(t *testing.T) {
	m := New(nil)
	m.Lookup(3, false)
	m.Lookup(0, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lookups))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.truncated))
	assert.Equal(t, 1, testutil.CollectAndCount(m.lookupMatches))
}

func TestMetrics_Gauges(t *testing.T) {
	m := New(nil)
	m.Filters(routingtable.ExactFilter, 4)
	m.Filters(routingtable.ExactFilter, 2)
	m.StorageBytes(routingtable.WildcardFilter, 512)
	m.Resized(routingtable.ExactFilter)
	m.Subscriptions(routingtable.WildcardFilter, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.filters.WithLabelValues("exact")))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.storageBytes.WithLabelValues("wildcard")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resizes.WithLabelValues("exact")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.subscriptions.WithLabelValues("wildcard")))
}

func TestMetrics_PeerEvent(t *testing.T) {
	m := New(nil)
	m.PeerEvent("filter-set", nil)
	m.PeerEvent("filter-set", nil)
	m.PeerEvent("filter-update", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.peerEvents.WithLabelValues("filter-set", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.peerEvents.WithLabelValues("filter-update", "rejected")))
}

func TestMetrics_RegisteredWithRoutingTable(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	table, err := irt.NewLookupSet(irt.Config{MaxNodes: 8, Metrics: m})
	require.NoError(t, err)
	defer table.Close()

	out := make([]routingtable.NodeHandle, 1)
	_, err = table.Lookup([]byte("a/b"), nil, out)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "meshroute_lookups_total")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups))
}
