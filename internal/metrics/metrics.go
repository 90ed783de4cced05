// Package metrics exports routing and peer signals to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

// Metrics implements routingtable.Metrics and records peer event outcomes.
type Metrics struct {
	lookups       prometheus.Counter
	truncated     prometheus.Counter
	lookupMatches prometheus.Histogram
	filters       *prometheus.GaugeVec
	storageBytes  *prometheus.GaugeVec
	resizes       *prometheus.CounterVec
	peerEvents    *prometheus.CounterVec
	subscriptions *prometheus.GaugeVec
}

var _ routingtable.Metrics = (*Metrics)(nil)

// New registers the meshroute collectors with reg. A nil reg leaves them
// unregistered, which suits tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		lookups: f.NewCounter(prometheus.CounterOpts{
			Name: "meshroute_lookups_total",
			Help: "Number of routing table lookups",
		}),
		truncated: f.NewCounter(prometheus.CounterOpts{
			Name: "meshroute_lookups_truncated_total",
			Help: "Lookups whose output buffer was too small",
		}),
		lookupMatches: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshroute_lookup_matches",
			Help:    "Nodes returned per lookup",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		filters: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshroute_filters",
			Help: "Filters held in the routing table",
		}, []string{"kind"}),
		storageBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshroute_filter_storage_bytes",
			Help: "Bytes of filter storage held in the routing table",
		}, []string{"kind"}),
		resizes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshroute_storage_resizes_total",
			Help: "Times filter storage was regrown",
		}, []string{"kind"}),
		peerEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshroute_peer_events_total",
			Help: "Membership events received from peers",
		}, []string{"kind", "result"}),
		subscriptions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshroute_local_subscriptions",
			Help: "Distinct local subscriptions",
		}, []string{"kind"}),
	}
}

func (m *Metrics) Lookup(matches int, truncated bool) {
	m.lookups.Inc()
	m.lookupMatches.Observe(float64(matches))
	if truncated {
		m.truncated.Inc()
	}
}

func (m *Metrics) Filters(kind routingtable.FilterKind, count int) {
	m.filters.WithLabelValues(kind.String()).Set(float64(count))
}

func (m *Metrics) StorageBytes(kind routingtable.FilterKind, bytes int) {
	m.storageBytes.WithLabelValues(kind.String()).Set(float64(bytes))
}

func (m *Metrics) Resized(kind routingtable.FilterKind) {
	m.resizes.WithLabelValues(kind.String()).Inc()
}

// PeerEvent counts one membership event by kind and whether it applied.
func (m *Metrics) PeerEvent(kind string, err error) {
	result := "applied"
	if err != nil {
		result = "rejected"
	}
	m.peerEvents.WithLabelValues(kind, result).Inc()
}

// Subscriptions reports the number of distinct local subscriptions of a kind.
func (m *Metrics) Subscriptions(kind routingtable.FilterKind, count int) {
	m.subscriptions.WithLabelValues(kind.String()).Set(float64(count))
}
