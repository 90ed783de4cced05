package routingtable

import (
	"fmt"
	"sync"

	ihashing "github.com/rmacdonaldsmith/meshroute/internal/hashing"
	"github.com/rmacdonaldsmith/meshroute/pkg/hashing"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

type wildcardFlags uint8

const (
	wcActive wildcardFlags = 1 << iota
	wcHasPatterns
)

// wildcardFilter is one node's wildcard Bloom filter and the patterns that
// gate which normalized topics are tested against it.
type wildcardFilter struct {
	flags    wildcardFlags
	cfg      hashing.Config
	provider ihashing.Provider
	bits     []byte
	owner    routingtable.NodeHandle
	patterns []routingtable.Pattern
	byID     map[uint64]int // pattern ID -> index in patterns
}

func (f *wildcardFilter) matches(key []byte, buf []uint32) bool {
	positions := f.provider.Positions(key, f.cfg.NumHashValues, uint32(len(f.bits))*8, buf[:0])
	for _, p := range positions {
		if f.bits[p>>3]&(1<<(p&7)) == 0 {
			return false
		}
	}
	return true
}

// wildcardFilterSet stores wildcard filters individually, indexed by node
// index. Unlike exact filters they cannot be transposed: each pattern yields a
// different normalized key per filter.
type wildcardFilterSet struct {
	mu       sync.RWMutex
	maxNodes uint32
	filters  []*wildcardFilter
	active   int
	patterns int
	bytes    int
}

func newWildcardFilterSet(c *Config) *wildcardFilterSet {
	return &wildcardFilterSet{
		maxNodes: c.MaxNodes,
		filters:  make([]*wildcardFilter, min(c.InitialFilters, c.MaxNodes)),
	}
}

// entry returns the filter at index, creating an empty one and growing the
// index space geometrically when needed. Callers hold the write lock.
func (s *wildcardFilterSet) entry(index uint32) (*wildcardFilter, error) {
	if index >= s.maxNodes {
		return nil, fmt.Errorf("%w: node index %d exceeds limit %d", routingtable.ErrAllocate, index, s.maxNodes)
	}
	if int(index) >= len(s.filters) {
		n := max(int(index)+1, 2*len(s.filters))
		n = min(n, int(s.maxNodes))
		grown := make([]*wildcardFilter, n)
		copy(grown, s.filters)
		s.filters = grown
	}
	f := s.filters[index]
	if f == nil {
		f = &wildcardFilter{byID: make(map[uint64]int)}
		s.filters[index] = f
	}
	return f, nil
}

func (s *wildcardFilterSet) get(index uint32) *wildcardFilter {
	if int(index) >= len(s.filters) {
		return nil
	}
	return s.filters[index]
}

func (s *wildcardFilterSet) addOrReplace(index uint32, cfg hashing.Config, provider ihashing.Provider, filter []byte, owner routingtable.NodeHandle) error {
	if len(filter) == 0 {
		return fmt.Errorf("%w: empty filter", routingtable.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.entry(index)
	if err != nil {
		return err
	}
	if f.flags&wcActive == 0 {
		s.active++
	}
	s.bytes += len(filter) - len(f.bits)
	f.bits = append(f.bits[:0], filter...)
	f.cfg = cfg
	f.provider = provider
	f.owner = owner
	f.flags |= wcActive
	return nil
}

func (s *wildcardFilterSet) update(index uint32, codes []int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.get(index)
	if f == nil || f.flags&wcActive == 0 {
		return fmt.Errorf("%w: no wildcard filter at index %d", routingtable.ErrNotFound, index)
	}
	if err := checkCodes(codes, uint32(len(f.bits))); err != nil {
		return err
	}
	for _, code := range codes {
		if code > 0 {
			pos := code - 1
			f.bits[pos>>3] |= 1 << (pos & 7)
		} else {
			pos := -int64(code) - 1
			f.bits[pos>>3] &^= 1 << (pos & 7)
		}
	}
	return nil
}

// delete drops the filter at index together with its patterns.
func (s *wildcardFilterSet) delete(index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.get(index)
	if f == nil {
		return fmt.Errorf("%w: no wildcard filter at index %d", routingtable.ErrNotFound, index)
	}
	if f.flags&wcActive != 0 {
		s.active--
	}
	s.patterns -= len(f.patterns)
	s.bytes -= len(f.bits)
	s.filters[index] = nil
	return nil
}

// addPattern inserts p, replacing any pattern with the same ID. A pattern may
// arrive before the filter it gates.
func (s *wildcardFilterSet) addPattern(index uint32, p routingtable.Pattern) error {
	p = p.Clone()
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.entry(index)
	if err != nil {
		return err
	}
	if i, ok := f.byID[p.ID]; ok {
		f.patterns[i] = p
		return nil
	}
	f.byID[p.ID] = len(f.patterns)
	f.patterns = append(f.patterns, p)
	f.flags |= wcHasPatterns
	s.patterns++
	return nil
}

// deletePattern removes pattern id. dropped reports whether the entry at index
// went away with it, which happens when it held neither a filter nor other
// patterns.
func (s *wildcardFilterSet) deletePattern(index uint32, id uint64) (dropped bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.get(index)
	if f == nil {
		return false, fmt.Errorf("%w: no patterns at index %d", routingtable.ErrNotFound, index)
	}
	i, ok := f.byID[id]
	if !ok {
		return false, fmt.Errorf("%w: pattern %d at index %d", routingtable.ErrNotFound, id, index)
	}
	last := len(f.patterns) - 1
	if i != last {
		f.patterns[i] = f.patterns[last]
		f.byID[f.patterns[i].ID] = i
	}
	f.patterns[last] = routingtable.Pattern{}
	f.patterns = f.patterns[:last]
	delete(f.byID, id)
	s.patterns--
	if len(f.patterns) == 0 {
		f.flags &^= wcHasPatterns
		if f.flags&wcActive == 0 {
			s.filters[index] = nil
			return true, nil
		}
	}
	return false, nil
}

// lookup writes the owner of every active filter, not in skip, for which some
// pattern normalizes topic into a key whose bits are all set. The first
// matching pattern decides; later patterns of that filter are not evaluated.
func (s *wildcardFilterSet) lookup(topic []byte, skip skipMask, out []routingtable.NodeHandle) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.active == 0 {
		return 0, nil
	}
	var (
		endsBuf [32]int
		keyBuf  [256]byte
		posBuf  [hashing.MaxHashValues]uint32
	)
	lv := splitTopic(topic, endsBuf[:0])
	if lv.wild {
		return 0, nil
	}
	n := 0
	for i, f := range s.filters {
		if f == nil || f.flags != wcActive|wcHasPatterns || skip.has(uint32(i)) {
			continue
		}
		for pi := range f.patterns {
			key, ok := normalizeTopic(topic, lv, &f.patterns[pi], keyBuf[:0])
			if !ok || !f.matches(key, posBuf[:]) {
				continue
			}
			if n == len(out) {
				return n, routingtable.ErrArrayTooSmall
			}
			out[n] = f.owner
			n++
			break
		}
	}
	return n, nil
}

func (s *wildcardFilterSet) has(index uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := s.get(index)
	return f != nil && f.flags&wcActive != 0
}

// counts returns the number of active filters, stored patterns and filter
// bytes.
func (s *wildcardFilterSet) counts() (filters, patterns, bytes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.patterns, s.bytes
}
