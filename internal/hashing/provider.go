package hashing

import (
	"fmt"

	"github.com/go-faster/city"
	"github.com/spaolacci/murmur3"

	"github.com/rmacdonaldsmith/meshroute/pkg/hashing"
)

type family uint8

const (
	familyCity64 family = iota
	familyMurmur3
)

func (f family) String() string {
	if f == familyCity64 {
		return "city64"
	}
	return "murmur3"
}

type strategy uint8

const (
	strategyLinear strategy = iota
	strategyChain
)

// chainSeed starts every seed-chaining sequence.
const chainSeed = 0x9747b28c

// Provider derives Bloom filter positions for one family/strategy pair.
// The zero value is not usable; obtain providers with For.
type Provider struct {
	fam   family
	strat strategy
}

var providers = map[hashing.HashType]Provider{
	hashing.City64LinearCombination:  {fam: familyCity64, strat: strategyLinear},
	hashing.City64SeedChaining:       {fam: familyCity64, strat: strategyChain},
	hashing.Murmur3LinearCombination: {fam: familyMurmur3, strat: strategyLinear},
	hashing.Murmur3SeedChaining:      {fam: familyMurmur3, strat: strategyChain},
}

// For returns the provider for t.
func For(t hashing.HashType) (Provider, error) {
	p, ok := providers[t]
	if !ok {
		return Provider{}, fmt.Errorf("no hash provider for %s", t)
	}
	return p, nil
}

// MustFor is like For but panics on an unknown type. Intended for tests and
// package-level initialisation with constant types.
func MustFor(t hashing.HashType) Provider {
	p, err := For(t)
	if err != nil {
		panic(err)
	}
	return p
}

// Positions implements hashing.Provider.
func (p Provider) Positions(key []byte, numValues, maxValue uint32, dst []uint32) []uint32 {
	if maxValue == 0 || numValues == 0 {
		return dst
	}
	m := uint64(maxValue)
	switch p.strat {
	case strategyLinear:
		h1, h2 := p.pair(key)
		// An even or zero step can cycle through few residues.
		h2 |= 1
		for i := uint64(0); i < uint64(numValues); i++ {
			dst = append(dst, uint32((h1+i*h2)%m))
		}
	case strategyChain:
		seed := uint64(chainSeed)
		for i := uint32(0); i < numValues; i++ {
			seed = p.seeded(key, seed)
			dst = append(dst, uint32(seed%m))
		}
	}
	return dst
}

func (p Provider) pair(key []byte) (uint64, uint64) {
	if p.fam == familyCity64 {
		h := city.Hash64(key)
		return h & 0xffffffff, h >> 32
	}
	return murmur3.Sum128(key)
}

func (p Provider) seeded(key []byte, seed uint64) uint64 {
	if p.fam == familyCity64 {
		return city.Hash64WithSeed(key, seed)
	}
	h1, _ := murmur3.Sum128WithSeed(key, uint32(seed^seed>>32))
	return h1
}

func (p Provider) String() string {
	if p.strat == strategyLinear {
		return p.fam.String() + "-lc"
	}
	return p.fam.String() + "-chain"
}

var _ hashing.Provider = Provider{}
