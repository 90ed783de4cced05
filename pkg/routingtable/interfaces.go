package routingtable

import (
	"io"

	"github.com/rmacdonaldsmith/meshroute/pkg/hashing"
)

// NodeHandle identifies a remote node. Index is a dense slot assigned by the
// membership layer and stays stable while the node is known. EngineHandle is
// opaque to the routing table: it is stored, copied and returned, never
// interpreted.
type NodeHandle struct {
	Index        uint32
	EngineHandle any
}

// FilterKind distinguishes the two kinds of filter a node can hold.
type FilterKind int

const (
	// ExactFilter holds hashes of non-wildcard topics.
	ExactFilter FilterKind = iota

	// WildcardFilter holds hashes of normalized wildcard patterns.
	WildcardFilter
)

func (k FilterKind) String() string {
	switch k {
	case ExactFilter:
		return "exact"
	case WildcardFilter:
		return "wildcard"
	default:
		return "unknown"
	}
}

// KindOf returns WildcardFilter when wildcard is set and ExactFilter otherwise.
func KindOf(wildcard bool) FilterKind {
	if wildcard {
		return WildcardFilter
	}
	return ExactFilter
}

// RoutingTable maps published topics to the remote nodes whose filters match.
// All methods are safe for concurrent use and complete synchronously.
type RoutingTable interface {
	io.Closer

	// AddNode registers node as active without any filters.
	AddNode(node NodeHandle) error

	// AddFilter installs or replaces the node's exact or wildcard filter.
	// An exact filter held under a different hash configuration is migrated:
	// it is added to the new set before it is removed from the old one, so a
	// failed add leaves the old filter routable.
	AddFilter(node NodeHandle, filter []byte, cfg hashing.Config, wildcard bool) error

	// UpdateFilter applies sparse bit edits: code n > 0 sets bit n-1 and
	// code n < 0 clears bit |n|-1.
	UpdateFilter(node NodeHandle, wildcard bool, codes []int32) error

	// DeleteFilter removes the node's exact or wildcard filter. Deleting the
	// wildcard filter also drops the node's patterns.
	DeleteFilter(node NodeHandle, wildcard bool) error

	// AddPattern inserts or replaces (by ID) a wildcard pattern for node.
	AddPattern(node NodeHandle, pattern Pattern) error

	// DeletePattern removes the pattern with the given ID.
	DeletePattern(node NodeHandle, patternID uint64) error

	// SetRouteAll toggles routing of every topic to node.
	SetRouteAll(node NodeHandle, enabled bool) error

	// DeleteNode removes every trace of node. Deleting an unknown node
	// returns ErrNotFound.
	DeleteNode(node NodeHandle) error

	// Lookup writes into out the nodes that should receive topic, skipping
	// the nodes in alreadyMatched, and returns how many were written. When out
	// is too small it returns ErrArrayTooSmall together with the number of
	// valid entries written before it filled up.
	Lookup(topic []byte, alreadyMatched, out []NodeHandle) (int, error)

	// Stats returns a point-in-time summary of the table.
	Stats() Stats
}

// Stats summarises the contents of a RoutingTable.
type Stats struct {
	ActiveNodes     int            `json:"activeNodes"`
	ExactFilters    int            `json:"exactFilters"`
	WildcardFilters int            `json:"wildcardFilters"`
	Patterns        int            `json:"patterns"`
	RouteAllNodes   int            `json:"routeAllNodes"`
	ExactSets       map[string]int `json:"exactSets"`
	StorageBytes    int            `json:"storageBytes"`
}

// Metrics receives observability signals from a RoutingTable. It must not
// block; implementations are called under the table's locks.
type Metrics interface {
	// Lookup is called once per Lookup with the number of nodes returned.
	Lookup(matches int, truncated bool)

	// Filters reports the current number of filters of a kind.
	Filters(kind FilterKind, count int)

	// StorageBytes reports the bytes of filter storage held for a kind.
	StorageBytes(kind FilterKind, bytes int)

	// Resized is called whenever bit-transposed storage is regrown.
	Resized(kind FilterKind)
}

// NopMetrics discards every signal.
type NopMetrics struct{}

func (NopMetrics) Lookup(int, bool) {}
func (NopMetrics) Filters(FilterKind, int) {}
func (NopMetrics) StorageBytes(FilterKind, int) {}
func (NopMetrics) Resized(FilterKind) {}
