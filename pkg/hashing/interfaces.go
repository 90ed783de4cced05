package hashing

import "fmt"

// HashType selects a hash family and a position derivation strategy.
type HashType uint8

const (
	// City64LinearCombination derives positions from one CityHash64 pair.
	City64LinearCombination HashType = iota + 1

	// City64SeedChaining reseeds CityHash64 with the previous output.
	City64SeedChaining

	// Murmur3LinearCombination derives positions from one Murmur3 x64-128 sum.
	Murmur3LinearCombination

	// Murmur3SeedChaining reseeds Murmur3 x64-128 with the previous output.
	Murmur3SeedChaining
)

func (t HashType) String() string {
	switch t {
	case City64LinearCombination:
		return "city64-lc"
	case City64SeedChaining:
		return "city64-chain"
	case Murmur3LinearCombination:
		return "murmur3-lc"
	case Murmur3SeedChaining:
		return "murmur3-chain"
	default:
		return fmt.Sprintf("HashType(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the known hash types.
func (t HashType) Valid() bool {
	return t >= City64LinearCombination && t <= Murmur3SeedChaining
}

// ParseHashType parses the String form of a HashType.
func ParseHashType(s string) (HashType, error) {
	for t := City64LinearCombination; t <= Murmur3SeedChaining; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown hash type %q", s)
}

// Config is the hash configuration a Bloom filter was built with. Two filters
// can only share bit-transposed storage when their Configs are equal.
type Config struct {
	Type          HashType
	NumHashValues uint32
}

// MaxHashValues bounds NumHashValues.
const MaxHashValues = 64

// Validate returns an error if the configuration cannot be used.
func (c Config) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("invalid hash type %d", c.Type)
	}
	if c.NumHashValues == 0 || c.NumHashValues > MaxHashValues {
		return fmt.Errorf("hash value count %d out of range [1,%d]", c.NumHashValues, MaxHashValues)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("%s/%d", c.Type, c.NumHashValues)
}

// Provider maps a key to bit positions.
type Provider interface {
	// Positions appends numValues positions in [0, maxValue) derived from key
	// to dst and returns the extended slice. maxValue must be non-zero.
	Positions(key []byte, numValues, maxValue uint32, dst []uint32) []uint32
}
