package hashing

// SetKey sets the positions of key in filter, a Bloom filter of len(filter)*8
// bits in LSB0 bit order.
func (p Provider) SetKey(filter []byte, numValues uint32, key []byte) {
	var buf [32]uint32
	for _, pos := range p.Positions(key, numValues, uint32(len(filter))*8, buf[:0]) {
		filter[pos>>3] |= 1 << (pos & 7)
	}
}

// HasKey reports whether every position of key is set in filter.
func (p Provider) HasKey(filter []byte, numValues uint32, key []byte) bool {
	var buf [32]uint32
	for _, pos := range p.Positions(key, numValues, uint32(len(filter))*8, buf[:0]) {
		if filter[pos>>3]&(1<<(pos&7)) == 0 {
			return false
		}
	}
	return true
}

// BuildFilter returns a filter of lenBytes bytes with every key set.
func (p Provider) BuildFilter(numValues uint32, lenBytes int, keys ...string) []byte {
	filter := make([]byte, lenBytes)
	for _, k := range keys {
		p.SetKey(filter, numValues, []byte(k))
	}
	return filter
}
