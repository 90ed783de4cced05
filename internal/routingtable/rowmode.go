package routingtable

import (
	"encoding/binary"
	"math/bits"
)

// rowMode is the word width used to read one row of a bit-transposed filter
// set. Each row holds one bit per filter; rowMulti rows span several 64-bit
// words.
type rowMode uint8

const (
	rowU8 rowMode = iota
	rowU16
	rowU32
	rowU64
	rowMulti
)

func (m rowMode) String() string {
	switch m {
	case rowU8:
		return "u8"
	case rowU16:
		return "u16"
	case rowU32:
		return "u32"
	case rowU64:
		return "u64"
	default:
		return "multi-u64"
	}
}

// roundFilters rounds n up to a filter count whose row is a power-of-two
// number of bytes.
func roundFilters(n uint32) uint32 {
	b := (n + 7) / 8
	if b == 0 {
		b = 1
	}
	return 8 << bits.Len32(b-1)
}

// modeFor returns the narrowest row mode for rows of stride bytes.
func modeFor(stride int) rowMode {
	switch stride {
	case 1:
		return rowU8
	case 2:
		return rowU16
	case 4:
		return rowU32
	case 8:
		return rowU64
	default:
		return rowMulti
	}
}

// wordsPerRow returns how many 64-bit words a row of stride bytes spans.
func wordsPerRow(stride int) int {
	if stride <= 8 {
		return 1
	}
	return stride / 8
}

// load returns word w of the row starting at off. Filter i is bit i%64 of
// word i/64; rows are stored little-endian so this matches byte i/8, bit i%8.
func (m rowMode) load(buf []byte, off, w int) uint64 {
	switch m {
	case rowU8:
		return uint64(buf[off])
	case rowU16:
		return uint64(binary.LittleEndian.Uint16(buf[off:]))
	case rowU32:
		return uint64(binary.LittleEndian.Uint32(buf[off:]))
	default:
		return binary.LittleEndian.Uint64(buf[off+w*8:])
	}
}

// skipMask is a bitset of node indices that a lookup stage must not return.
type skipMask []uint64

func (m skipMask) has(i uint32) bool {
	w := int(i >> 6)
	return w < len(m) && m[w]&(1<<(i&63)) != 0
}

func (m skipMask) set(i uint32) {
	if w := int(i >> 6); w < len(m) {
		m[w] |= 1 << (i & 63)
	}
}

// word returns word w, treating words past the end as empty.
func (m skipMask) word(w int) uint64 {
	if w < len(m) {
		return m[w]
	}
	return 0
}

// reset resizes m to cover n indices and clears it.
func (m *skipMask) reset(n int) {
	words := (n + 63) / 64
	if cap(*m) < words {
		*m = make(skipMask, words)
		return
	}
	*m = (*m)[:words]
	clear(*m)
}
