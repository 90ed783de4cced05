package meshnode

import (
	"fmt"
	"math/bits"
	"sort"

	ihashing "github.com/rmacdonaldsmith/meshroute/internal/hashing"
	"github.com/rmacdonaldsmith/meshroute/pkg/hashing"
	"github.com/rmacdonaldsmith/meshroute/pkg/membership"
	"github.com/rmacdonaldsmith/meshroute/pkg/meshnode"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

// ErrSubscriptionNotFound is returned when unsubscribing a filter that has no
// local subscription.
var ErrSubscriptionNotFound = fmt.Errorf("subscription %w", routingtable.ErrNotFound)

// bitsPerKey sizes local filters for roughly a 1% false positive rate.
const bitsPerKey = 10

type localPattern struct {
	pattern routingtable.Pattern
	refs    int
}

// localFilters tracks this node's subscriptions and the Bloom filters that
// advertise them. Every change yields the membership events that bring a
// peer's copy of the filters up to date.
type localFilters struct {
	nodeID   string
	hash     hashing.Config
	provider ihashing.Provider
	minBytes int
	maxBytes int

	exact    map[string]int
	patterns map[string]*localPattern
	nextID   uint64

	// Last announced filters; nil when not announced.
	exactBits    []byte
	wildcardBits []byte
}

func newLocalFilters(nodeID string, hash hashing.Config, minBytes, maxBytes int) (*localFilters, error) {
	provider, err := ihashing.For(hash.Type)
	if err != nil {
		return nil, err
	}
	return &localFilters{
		nodeID:   nodeID,
		hash:     hash,
		provider: provider,
		minBytes: minBytes,
		maxBytes: maxBytes,
		exact:    make(map[string]int),
		patterns: make(map[string]*localPattern),
	}, nil
}

// filterBytes returns the filter length for n keys: a power of two no smaller
// than minBytes.
func (f *localFilters) filterBytes(n int) int {
	need := (n*bitsPerKey + 7) / 8
	size := f.minBytes
	if need > size {
		size = 1 << bits.Len(uint(need-1))
	}
	return min(size, f.maxBytes)
}

func (f *localFilters) subscribe(filter string) ([]membership.Event, error) {
	if filter == "" {
		return nil, fmt.Errorf("%w: empty filter", routingtable.ErrInvalidArgument)
	}
	if !routingtable.IsWildcard(filter) {
		f.exact[filter]++
		if f.exact[filter] > 1 {
			return nil, nil
		}
		return f.reannounce(false), nil
	}

	if lp, ok := f.patterns[filter]; ok {
		lp.refs++
		return nil, nil
	}
	p, err := routingtable.ParsePattern(f.nextID+1, filter)
	if err != nil {
		return nil, err
	}
	f.nextID++
	f.patterns[filter] = &localPattern{pattern: p, refs: 1}
	events := f.reannounce(true)
	return append(events, membership.Event{Kind: membership.PatternAdd, PeerID: f.nodeID, Pattern: p}), nil
}

func (f *localFilters) unsubscribe(filter string) ([]membership.Event, error) {
	if !routingtable.IsWildcard(filter) {
		refs, ok := f.exact[filter]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, filter)
		}
		if refs > 1 {
			f.exact[filter] = refs - 1
			return nil, nil
		}
		delete(f.exact, filter)
		return f.reannounce(false), nil
	}

	lp, ok := f.patterns[filter]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, filter)
	}
	if lp.refs > 1 {
		lp.refs--
		return nil, nil
	}
	delete(f.patterns, filter)
	events := []membership.Event{{Kind: membership.PatternDelete, PeerID: f.nodeID, Pattern: routingtable.Pattern{ID: lp.pattern.ID}}}
	return append(events, f.reannounce(true)...), nil
}

func (f *localFilters) keys(wildcard bool) []string {
	var keys []string
	if wildcard {
		keys = make([]string, 0, len(f.patterns))
		for k := range f.patterns {
			keys = append(keys, k)
		}
	} else {
		keys = make([]string, 0, len(f.exact))
		for k := range f.exact {
			keys = append(keys, k)
		}
	}
	return keys
}

// reannounce rebuilds one filter and returns the event that moves peers from
// the last announced filter to the new one.
func (f *localFilters) reannounce(wildcard bool) []membership.Event {
	announced := &f.exactBits
	if wildcard {
		announced = &f.wildcardBits
	}
	keys := f.keys(wildcard)
	if len(keys) == 0 {
		if *announced == nil {
			return nil
		}
		*announced = nil
		return []membership.Event{{Kind: membership.FilterDelete, PeerID: f.nodeID, Wildcard: wildcard}}
	}

	next := f.provider.BuildFilter(f.hash.NumHashValues, f.filterBytes(len(keys)), keys...)
	prev := *announced
	*announced = next
	if prev == nil || len(prev) != len(next) {
		return []membership.Event{f.filterSet(wildcard, next)}
	}
	codes := diffCodes(prev, next)
	if len(codes) == 0 {
		return nil
	}
	return []membership.Event{{Kind: membership.FilterUpdate, PeerID: f.nodeID, Wildcard: wildcard, Codes: codes}}
}

func (f *localFilters) filterSet(wildcard bool, filter []byte) membership.Event {
	return membership.Event{
		Kind:     membership.FilterSet,
		PeerID:   f.nodeID,
		Wildcard: wildcard,
		Hash:     f.hash,
		Filter:   filter,
	}
}

// diffCodes returns the sparse update codes that turn prev into next, which
// must have the same length.
func diffCodes(prev, next []byte) []int32 {
	var codes []int32
	for i := range next {
		x := prev[i] ^ next[i]
		for x != 0 {
			b := bits.TrailingZeros8(x)
			x &^= 1 << b
			code := int32(i*8+b) + 1
			if next[i]&(1<<b) == 0 {
				code = -code
			}
			codes = append(codes, code)
		}
	}
	return codes
}

// snapshot returns the events that install this node's full state on a peer.
func (f *localFilters) snapshot() []membership.Event {
	events := []membership.Event{{Kind: membership.NodeJoin, PeerID: f.nodeID}}
	if f.exactBits != nil {
		events = append(events, f.filterSet(false, f.exactBits))
	}
	if f.wildcardBits != nil {
		events = append(events, f.filterSet(true, f.wildcardBits))
	}
	patterns := make([]routingtable.Pattern, 0, len(f.patterns))
	for _, lp := range f.patterns {
		patterns = append(patterns, lp.pattern)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].ID < patterns[j].ID })
	for _, p := range patterns {
		events = append(events, membership.Event{Kind: membership.PatternAdd, PeerID: f.nodeID, Pattern: p})
	}
	return events
}

func (f *localFilters) list() []meshnode.Subscription {
	subs := make([]meshnode.Subscription, 0, len(f.exact)+len(f.patterns))
	for k, refs := range f.exact {
		subs = append(subs, meshnode.Subscription{Filter: k, Refs: refs})
	}
	for k, lp := range f.patterns {
		subs = append(subs, meshnode.Subscription{Filter: k, Wildcard: true, Refs: lp.refs})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Filter < subs[j].Filter })
	return subs
}
