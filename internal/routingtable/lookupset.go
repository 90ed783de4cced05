package routingtable

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ihashing "github.com/rmacdonaldsmith/meshroute/internal/hashing"
	"github.com/rmacdonaldsmith/meshroute/pkg/hashing"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

type nodeFlags uint8

const (
	flagActive nodeFlags = 1 << iota
	flagHasExact
	flagHasWildcard
	flagRouteAll
)

// nodeRecord tracks what the table holds for one node index. The exact set is
// referenced by its hash configuration, never by pointer.
type nodeRecord struct {
	flags    nodeFlags
	exactCfg hashing.Config
	handle   routingtable.NodeHandle
}

// LookupSet is the routing table: route-all overrides, one exact filter set per
// hash configuration and a single wildcard filter set.
type LookupSet struct {
	mu     sync.RWMutex
	cfg    Config
	logger *slog.Logger

	nodes         []nodeRecord
	activeCount   int
	routeAllCount int

	exactSets  map[hashing.Config]*exactFilterSet
	exactOrder []hashing.Config // creation order; lookups visit sets in this order

	wildcards *wildcardFilterSet
	closed    bool

	skips sync.Pool // *skipMask
}

var _ routingtable.RoutingTable = (*LookupSet)(nil)

// NewLookupSet creates an empty routing table.
func NewLookupSet(cfg Config) (*LookupSet, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &LookupSet{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "routingtable"),
		nodes:     make([]nodeRecord, min(cfg.InitialFilters, cfg.MaxNodes)),
		exactSets: make(map[hashing.Config]*exactFilterSet),
		wildcards: newWildcardFilterSet(&cfg),
	}
	s.skips.New = func() any { return new(skipMask) }
	return s, nil
}

// record returns the record for index, growing the registry when needed.
// Callers hold the write lock and have checked the index against MaxNodes.
func (s *LookupSet) record(index uint32) *nodeRecord {
	if int(index) >= len(s.nodes) {
		n := min(max(int(index)+1, 2*len(s.nodes)), int(s.cfg.MaxNodes))
		grown := make([]nodeRecord, n)
		copy(grown, s.nodes)
		s.nodes = grown
	}
	return &s.nodes[index]
}

// lookupRecord returns the record for index, or nil when it is not active.
func (s *LookupSet) lookupRecord(index uint32) *nodeRecord {
	if int(index) >= len(s.nodes) || s.nodes[index].flags&flagActive == 0 {
		return nil
	}
	return &s.nodes[index]
}

func (s *LookupSet) checkNode(node routingtable.NodeHandle) error {
	if s.closed {
		return routingtable.ErrClosed
	}
	if node.Index >= s.cfg.MaxNodes {
		return fmt.Errorf("%w: node index %d exceeds limit %d", routingtable.ErrInvalidArgument, node.Index, s.cfg.MaxNodes)
	}
	return nil
}

func (s *LookupSet) activate(r *nodeRecord, node routingtable.NodeHandle) {
	if r.flags&flagActive == 0 {
		r.flags |= flagActive
		s.activeCount++
	}
	r.handle = node
}

// AddNode registers node as active without filters. Adding an active node
// refreshes its engine handle.
func (s *LookupSet) AddNode(node routingtable.NodeHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNode(node); err != nil {
		return err
	}
	s.activate(s.record(node.Index), node)
	return nil
}

// AddFilter installs or replaces a filter for node, activating the node if
// needed. An exact filter previously held under another hash configuration is
// moved: it is added to the new set before being removed from the old one, so
// a failed add leaves the node routable through its old filter.
func (s *LookupSet) AddFilter(node routingtable.NodeHandle, filter []byte, cfg hashing.Config, wildcard bool) error {
	if len(filter) == 0 {
		return fmt.Errorf("%w: empty filter", routingtable.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", routingtable.ErrInvalidArgument, err)
	}
	provider, err := ihashing.For(cfg.Type)
	if err != nil {
		return fmt.Errorf("%w: %v", routingtable.ErrInvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNode(node); err != nil {
		return err
	}
	if uint32(len(filter)) > s.cfg.MaxFilterBytes {
		return fmt.Errorf("%w: filter of %d bytes exceeds %d", routingtable.ErrAllocate, len(filter), s.cfg.MaxFilterBytes)
	}
	r := s.record(node.Index)

	if wildcard {
		if err := s.wildcards.addOrReplace(node.Index, cfg, provider, filter, node); err != nil {
			return err
		}
		s.activate(r, node)
		r.flags |= flagHasWildcard
		s.reportWildcard()
		return nil
	}

	set, err := s.exactSet(cfg, provider, uint32(len(filter)))
	if err != nil {
		return err
	}
	if err := set.addOrReplace(node.Index, filter, node); err != nil {
		s.releaseIfEmpty(cfg)
		return err
	}
	if r.flags&flagHasExact != 0 && r.exactCfg != cfg {
		old := r.exactCfg
		if set, ok := s.exactSets[old]; ok {
			if err := set.delete(node.Index); err != nil && !errors.Is(err, routingtable.ErrNotFound) {
				s.logger.Warn("failed to remove migrated exact filter",
					"node", node.Index, "from", old.String(), "to", cfg.String(), "error", err)
			}
			s.releaseIfEmpty(old)
		}
		s.logger.Debug("migrated exact filter", "node", node.Index, "from", old.String(), "to", cfg.String())
	}
	s.activate(r, node)
	r.flags |= flagHasExact
	r.exactCfg = cfg
	s.reportExact()
	return nil
}

// exactSet returns the exact set for cfg, creating it when absent.
func (s *LookupSet) exactSet(cfg hashing.Config, provider ihashing.Provider, filterBytes uint32) (*exactFilterSet, error) {
	if set, ok := s.exactSets[cfg]; ok {
		return set, nil
	}
	set, err := newExactFilterSet(cfg, provider, s.cfg.InitialFilters, max(filterBytes, s.cfg.InitialFilterBytes), &s.cfg)
	if err != nil {
		return nil, err
	}
	s.exactSets[cfg] = set
	s.exactOrder = append(s.exactOrder, cfg)
	s.logger.Debug("created exact filter set", "config", cfg.String())
	return set, nil
}

// releaseIfEmpty drops the exact set for cfg when it holds no filters.
func (s *LookupSet) releaseIfEmpty(cfg hashing.Config) {
	set, ok := s.exactSets[cfg]
	if !ok || set.size() > 0 {
		return
	}
	delete(s.exactSets, cfg)
	for i, c := range s.exactOrder {
		if c == cfg {
			s.exactOrder = append(s.exactOrder[:i], s.exactOrder[i+1:]...)
			break
		}
	}
	s.logger.Debug("released exact filter set", "config", cfg.String())
}

// UpdateFilter applies sparse bit edits to an existing filter of an active
// node.
func (s *LookupSet) UpdateFilter(node routingtable.NodeHandle, wildcard bool, codes []int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNode(node); err != nil {
		return err
	}
	r := s.lookupRecord(node.Index)
	if r == nil {
		return fmt.Errorf("%w: node %d", routingtable.ErrNodeInactive, node.Index)
	}
	if wildcard {
		if r.flags&flagHasWildcard == 0 || !s.wildcards.has(node.Index) {
			return fmt.Errorf("%w: node %d has no wildcard filter", routingtable.ErrNotFound, node.Index)
		}
		return s.wildcards.update(node.Index, codes)
	}
	if r.flags&flagHasExact == 0 {
		return fmt.Errorf("%w: node %d has no exact filter", routingtable.ErrNotFound, node.Index)
	}
	set, ok := s.exactSets[r.exactCfg]
	if !ok {
		return fmt.Errorf("%w: node %d has no exact filter", routingtable.ErrNotFound, node.Index)
	}
	return set.update(node.Index, codes)
}

// DeleteFilter removes a filter. Deleting the wildcard filter also drops the
// node's patterns. The node stays active.
func (s *LookupSet) DeleteFilter(node routingtable.NodeHandle, wildcard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNode(node); err != nil {
		return err
	}
	r := s.lookupRecord(node.Index)
	if r == nil {
		return fmt.Errorf("%w: node %d", routingtable.ErrNotFound, node.Index)
	}
	if wildcard {
		if r.flags&flagHasWildcard == 0 {
			return fmt.Errorf("%w: node %d has no wildcard filter", routingtable.ErrNotFound, node.Index)
		}
		err := s.wildcards.delete(node.Index)
		if err != nil && !errors.Is(err, routingtable.ErrNotFound) {
			return err
		}
		r.flags &^= flagHasWildcard
		if err != nil {
			return err
		}
		s.reportWildcard()
		return nil
	}
	if r.flags&flagHasExact == 0 {
		return fmt.Errorf("%w: node %d has no exact filter", routingtable.ErrNotFound, node.Index)
	}
	if err := s.deleteExact(r, node.Index); err != nil {
		return err
	}
	r.flags &^= flagHasExact
	r.exactCfg = hashing.Config{}
	s.reportExact()
	return nil
}

func (s *LookupSet) deleteExact(r *nodeRecord, index uint32) error {
	set, ok := s.exactSets[r.exactCfg]
	if !ok {
		return fmt.Errorf("%w: no exact set for %s", routingtable.ErrNotFound, r.exactCfg)
	}
	if err := set.delete(index); err != nil {
		return err
	}
	s.releaseIfEmpty(r.exactCfg)
	return nil
}

// AddPattern inserts or replaces a wildcard pattern of an active node.
func (s *LookupSet) AddPattern(node routingtable.NodeHandle, pattern routingtable.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNode(node); err != nil {
		return err
	}
	r := s.lookupRecord(node.Index)
	if r == nil {
		return fmt.Errorf("%w: node %d", routingtable.ErrNodeInactive, node.Index)
	}
	if err := s.wildcards.addPattern(node.Index, pattern); err != nil {
		return err
	}
	r.flags |= flagHasWildcard
	s.reportWildcard()
	return nil
}

// DeletePattern removes a wildcard pattern of an active node.
func (s *LookupSet) DeletePattern(node routingtable.NodeHandle, patternID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNode(node); err != nil {
		return err
	}
	r := s.lookupRecord(node.Index)
	if r == nil {
		return fmt.Errorf("%w: node %d", routingtable.ErrNotFound, node.Index)
	}
	dropped, err := s.wildcards.deletePattern(node.Index, patternID)
	if err != nil {
		return err
	}
	if dropped {
		r.flags &^= flagHasWildcard
	}
	s.reportWildcard()
	return nil
}

// SetRouteAll toggles the route-all override, activating the node if needed.
func (s *LookupSet) SetRouteAll(node routingtable.NodeHandle, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNode(node); err != nil {
		return err
	}
	r := s.record(node.Index)
	s.activate(r, node)
	switch {
	case enabled && r.flags&flagRouteAll == 0:
		r.flags |= flagRouteAll
		s.routeAllCount++
	case !enabled && r.flags&flagRouteAll != 0:
		r.flags &^= flagRouteAll
		s.routeAllCount--
	}
	return nil
}

// DeleteNode tears down everything held for node. Sub-collection deletes are
// best effort: the record is always cleared and the first error other than
// ErrNotFound is returned.
func (s *LookupSet) DeleteNode(node routingtable.NodeHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNode(node); err != nil {
		return err
	}
	r := s.lookupRecord(node.Index)
	if r == nil {
		return fmt.Errorf("%w: node %d", routingtable.ErrNotFound, node.Index)
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && !errors.Is(err, routingtable.ErrNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	if r.flags&flagHasExact != 0 {
		keep(s.deleteExact(r, node.Index))
	}
	if r.flags&flagHasWildcard != 0 {
		keep(s.wildcards.delete(node.Index))
	}
	if r.flags&flagRouteAll != 0 {
		s.routeAllCount--
	}
	*r = nodeRecord{}
	s.activeCount--
	s.reportExact()
	s.reportWildcard()

	if firstErr != nil {
		s.logger.Warn("node removed with errors", "node", node.Index, "error", firstErr)
	}
	return firstErr
}

// Lookup writes the nodes that should receive topic into out: route-all
// nodes first, then exact filter matches, then wildcard matches. Nodes in
// alreadyMatched are never written and no node is written twice. When out
// fills up before every match is written, Lookup returns the number written
// with ErrArrayTooSmall; those entries are valid.
func (s *LookupSet) Lookup(topic []byte, alreadyMatched, out []routingtable.NodeHandle) (n int, err error) {
	if len(topic) == 0 {
		return 0, fmt.Errorf("%w: empty topic", routingtable.ErrInvalidArgument)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, routingtable.ErrClosed
	}
	defer func() { s.cfg.Metrics.Lookup(n, errors.Is(err, routingtable.ErrArrayTooSmall)) }()

	skip := s.skips.Get().(*skipMask)
	defer s.skips.Put(skip)
	skip.reset(len(s.nodes))
	for _, h := range alreadyMatched {
		skip.set(h.Index)
	}

	if s.routeAllCount > 0 {
		for i := range s.nodes {
			r := &s.nodes[i]
			if r.flags&flagRouteAll == 0 || skip.has(uint32(i)) {
				continue
			}
			if n == len(out) {
				return n, routingtable.ErrArrayTooSmall
			}
			out[n] = r.handle
			n++
			skip.set(uint32(i))
		}
	}

	for _, cfg := range s.exactOrder {
		k, err := s.exactSets[cfg].lookup(topic, *skip, out[n:])
		for _, h := range out[n : n+k] {
			skip.set(h.Index)
		}
		n += k
		if err != nil {
			return n, err
		}
	}

	k, err := s.wildcards.lookup(topic, *skip, out[n:])
	n += k
	return n, err
}

// Stats returns a point-in-time summary of the table.
func (s *LookupSet) Stats() routingtable.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := routingtable.Stats{
		ActiveNodes:   s.activeCount,
		RouteAllNodes: s.routeAllCount,
		ExactSets:     make(map[string]int, len(s.exactSets)),
	}
	for _, cfg := range s.exactOrder {
		set := s.exactSets[cfg]
		size := set.size()
		st.ExactSets[cfg.String()] = size
		st.ExactFilters += size
		st.StorageBytes += set.storageBytes()
	}
	filters, patterns, bytes := s.wildcards.counts()
	st.WildcardFilters = filters
	st.Patterns = patterns
	st.StorageBytes += bytes
	return st
}

// Close releases all filter storage. Subsequent calls fail with
// routingtable.ErrClosed.
func (s *LookupSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.nodes = nil
	s.exactSets = nil
	s.exactOrder = nil
	s.wildcards = newWildcardFilterSet(&s.cfg)
	s.activeCount, s.routeAllCount = 0, 0
	return nil
}

func (s *LookupSet) reportExact() {
	count, bytes := 0, 0
	for _, set := range s.exactSets {
		count += set.size()
		bytes += set.storageBytes()
	}
	s.cfg.Metrics.Filters(routingtable.ExactFilter, count)
	s.cfg.Metrics.StorageBytes(routingtable.ExactFilter, bytes)
}

func (s *LookupSet) reportWildcard() {
	filters, _, bytes := s.wildcards.counts()
	s.cfg.Metrics.Filters(routingtable.WildcardFilter, filters)
	s.cfg.Metrics.StorageBytes(routingtable.WildcardFilter, bytes)
}
