package routingtable

import (
	"fmt"
	"math/bits"
	"sort"
	"sync"

	ihashing "github.com/rmacdonaldsmith/meshroute/internal/hashing"
	"github.com/rmacdonaldsmith/meshroute/pkg/hashing"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

// exactFilterSet holds the exact-topic Bloom filters of every node that uses
// one hash configuration, stored bit-transposed: row p holds bit p of every
// filter, so testing a hash position against all filters is a single word
// load per 64 filters.
type exactFilterSet struct {
	mu       sync.RWMutex
	cfg      hashing.Config
	provider ihashing.Provider
	maxSet   uint64
	maxLen   uint32
	metrics  routingtable.Metrics
	st       *exactStorage
}

// exactStorage is replaced wholesale on resize.
type exactStorage struct {
	mode      rowMode
	capacity  uint32 // filters; a multiple of 8
	stride    int    // bytes per row
	words     int    // 64-bit words per row
	maxBytes  uint32 // longest storable filter; there are maxBytes*8 rows
	bits      []byte
	lengths   []uint32 // filter length in bytes, 0 when the slot is empty
	owners    []routingtable.NodeHandle
	classes   []lengthClass // sorted by lenBytes
	count     int
	highWater uint32 // one past the highest occupied slot
}

// lengthClass groups the filters of one byte length. Hash positions are
// derived modulo the filter's own bit length, so a lookup hashes the topic
// once per class and masks the accumulator with the class members.
type lengthClass struct {
	lenBytes uint32
	mask     []byte // one row: bit i set when filter i has this length
	count    int
}

func newExactFilterSet(cfg hashing.Config, provider ihashing.Provider, numFilters, maxFilterBytes uint32, c *Config) (*exactFilterSet, error) {
	s := &exactFilterSet{
		cfg:      cfg,
		provider: provider,
		maxSet:   c.MaxSetBytes,
		maxLen:   c.MaxFilterBytes,
		metrics:  c.Metrics,
	}
	st, err := s.alloc(roundFilters(numFilters), maxFilterBytes)
	if err != nil {
		return nil, err
	}
	s.st = st
	return s, nil
}

func (s *exactFilterSet) alloc(capacity, maxBytes uint32) (*exactStorage, error) {
	if maxBytes > s.maxLen {
		return nil, fmt.Errorf("%w: filter length %d exceeds %d bytes", routingtable.ErrAllocate, maxBytes, s.maxLen)
	}
	stride := int(capacity / 8)
	size := uint64(maxBytes) * 8 * uint64(stride)
	if size > s.maxSet {
		return nil, fmt.Errorf("%w: %d filters of %d bytes need %d bytes, limit %d",
			routingtable.ErrAllocate, capacity, maxBytes, size, s.maxSet)
	}
	return &exactStorage{
		mode:     modeFor(stride),
		capacity: capacity,
		stride:   stride,
		words:    wordsPerRow(stride),
		maxBytes: maxBytes,
		bits:     make([]byte, size),
		lengths:  make([]uint32, capacity),
		owners:   make([]routingtable.NodeHandle, capacity),
	}, nil
}

// resize returns a copy of st able to hold capacity filters of maxBytes
// bytes. st is not modified.
func (s *exactFilterSet) resize(st *exactStorage, capacity, maxBytes uint32) (*exactStorage, error) {
	ns, err := s.alloc(capacity, maxBytes)
	if err != nil {
		return nil, err
	}
	rows := int(st.maxBytes) * 8
	for r := 0; r < rows; r++ {
		copy(ns.bits[r*ns.stride:], st.bits[r*st.stride:(r+1)*st.stride])
	}
	copy(ns.lengths, st.lengths)
	copy(ns.owners, st.owners)
	ns.classes = make([]lengthClass, len(st.classes))
	for i, c := range st.classes {
		mask := make([]byte, ns.stride)
		copy(mask, c.mask)
		ns.classes[i] = lengthClass{lenBytes: c.lenBytes, mask: mask, count: c.count}
	}
	ns.count = st.count
	ns.highWater = st.highWater
	return ns, nil
}

// addOrReplace stores filter as the filter of slot index, growing storage
// when index or the filter length exceed the current capacity.
func (s *exactFilterSet) addOrReplace(index uint32, filter []byte, owner routingtable.NodeHandle) error {
	if len(filter) == 0 {
		return fmt.Errorf("%w: empty filter", routingtable.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.st
	length := uint32(len(filter))
	if index >= st.capacity || length > st.maxBytes {
		capacity := st.capacity
		if index >= capacity {
			capacity = roundFilters(max(index+1, capacity*2))
		}
		ns, err := s.resize(st, capacity, max(length, st.maxBytes))
		if err != nil {
			return err
		}
		s.st = ns
		st = ns
		s.metrics.Resized(routingtable.ExactFilter)
	}

	if st.lengths[index] != 0 {
		st.clearColumn(index)
		st.leaveClass(index)
	} else {
		st.count++
	}

	byteIdx, bit := int(index>>3), byte(1)<<(index&7)
	for j, b := range filter {
		for b != 0 {
			k := bits.TrailingZeros8(b)
			st.bits[(j*8+k)*st.stride+byteIdx] |= bit
			b &= b - 1
		}
	}
	st.lengths[index] = length
	st.owners[index] = owner
	st.joinClass(index, length)
	st.highWater = max(st.highWater, index+1)
	return nil
}

// update applies sparse edits to filter index. Every code is validated before
// any bit changes.
func (s *exactFilterSet) update(index uint32, codes []int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.st
	if index >= st.capacity || st.lengths[index] == 0 {
		return fmt.Errorf("%w: no exact filter at index %d", routingtable.ErrNotFound, index)
	}
	if err := checkCodes(codes, st.lengths[index]); err != nil {
		return err
	}
	byteIdx, bit := int(index>>3), byte(1)<<(index&7)
	for _, code := range codes {
		if code > 0 {
			st.bits[int(code-1)*st.stride+byteIdx] |= bit
		} else {
			st.bits[int(-int64(code)-1)*st.stride+byteIdx] &^= bit
		}
	}
	return nil
}

// checkCodes validates signed bit codes against a filter of lenBytes bytes.
func checkCodes(codes []int32, lenBytes uint32) error {
	nbits := int64(lenBytes) * 8
	for _, code := range codes {
		c := int64(code)
		if c < 0 {
			c = -c
		}
		if c == 0 || c > nbits {
			return fmt.Errorf("%w: bit code %d outside filter of %d bits", routingtable.ErrInvalidArgument, code, nbits)
		}
	}
	return nil
}

// delete clears filter index. Storage is not shrunk.
func (s *exactFilterSet) delete(index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.st
	if index >= st.capacity || st.lengths[index] == 0 {
		return fmt.Errorf("%w: no exact filter at index %d", routingtable.ErrNotFound, index)
	}
	st.clearColumn(index)
	st.leaveClass(index)
	st.lengths[index] = 0
	st.owners[index] = routingtable.NodeHandle{}
	st.count--
	if index+1 == st.highWater {
		hw := index
		for hw > 0 && st.lengths[hw-1] == 0 {
			hw--
		}
		st.highWater = hw
	}
	return nil
}

// lookup writes the owners of every filter, not in skip, whose bits are set
// at all hash positions of topic.
func (s *exactFilterSet) lookup(topic []byte, skip skipMask, out []routingtable.NodeHandle) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.st
	var buf [hashing.MaxHashValues]uint32
	n := 0
	for ci := range st.classes {
		class := &st.classes[ci]
		positions := s.provider.Positions(topic, s.cfg.NumHashValues, class.lenBytes*8, buf[:0])
		for w := 0; w < st.words; w++ {
			acc := st.mode.load(class.mask, 0, w) &^ skip.word(w)
			for _, p := range positions {
				if acc == 0 {
					break
				}
				acc &= st.mode.load(st.bits, int(p)*st.stride, w)
			}
			for acc != 0 {
				idx := uint32(w*64 + bits.TrailingZeros64(acc))
				if idx >= st.highWater {
					break
				}
				if n == len(out) {
					return n, routingtable.ErrArrayTooSmall
				}
				out[n] = st.owners[idx]
				n++
				acc &= acc - 1
			}
		}
	}
	return n, nil
}

func (s *exactFilterSet) has(index uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return index < s.st.capacity && s.st.lengths[index] != 0
}

func (s *exactFilterSet) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.count
}

func (s *exactFilterSet) storageBytes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.bits) + len(s.st.classes)*s.st.stride
}

func (st *exactStorage) clearColumn(index uint32) {
	byteIdx, bit := int(index>>3), byte(1)<<(index&7)
	rows := int(st.lengths[index]) * 8
	for r := 0; r < rows; r++ {
		st.bits[r*st.stride+byteIdx] &^= bit
	}
}

func (st *exactStorage) joinClass(index, lenBytes uint32) {
	i := sort.Search(len(st.classes), func(i int) bool { return st.classes[i].lenBytes >= lenBytes })
	if i == len(st.classes) || st.classes[i].lenBytes != lenBytes {
		st.classes = append(st.classes, lengthClass{})
		copy(st.classes[i+1:], st.classes[i:])
		st.classes[i] = lengthClass{lenBytes: lenBytes, mask: make([]byte, st.stride)}
	}
	st.classes[i].mask[index>>3] |= 1 << (index & 7)
	st.classes[i].count++
}

func (st *exactStorage) leaveClass(index uint32) {
	lenBytes := st.lengths[index]
	i := sort.Search(len(st.classes), func(i int) bool { return st.classes[i].lenBytes >= lenBytes })
	if i == len(st.classes) || st.classes[i].lenBytes != lenBytes {
		return
	}
	st.classes[i].mask[index>>3] &^= 1 << (index & 7)
	st.classes[i].count--
	if st.classes[i].count == 0 {
		st.classes = append(st.classes[:i], st.classes[i+1:]...)
	}
}
