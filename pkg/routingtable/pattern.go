package routingtable

import (
	"fmt"
	"sort"
	"strings"
)

// Pattern describes one wildcard subscription of a remote node without its
// literal text. The literal levels live only in the node's wildcard Bloom
// filter; Pattern tells Lookup how to rewrite a published topic into the
// normalized form that was hashed into that filter.
//
// Levels are numbered from 1. For "a/+/c" the pattern is
// {PlusLevels: [2], HashLevel: 0, Len: 3}; for "a/#" it is
// {HashLevel: 2, Len: 1}.
type Pattern struct {
	// ID is unique within one node's wildcard filter.
	ID uint64

	// PlusLevels lists the levels holding a single-level wildcard.
	PlusLevels []uint16

	// HashLevel is the level of a trailing multi-level wildcard, or 0.
	HashLevel uint16

	// Len is the number of levels before any trailing multi-level wildcard.
	Len uint16
}

// Validate checks the structural invariants of p.
func (p Pattern) Validate() error {
	if p.HashLevel != 0 && p.HashLevel != p.Len+1 {
		return fmt.Errorf("%w: hash level %d must be 0 or %d", ErrInvalidArgument, p.HashLevel, p.Len+1)
	}
	for i, lvl := range p.PlusLevels {
		if lvl == 0 || lvl > p.Len {
			return fmt.Errorf("%w: plus level %d outside [1,%d]", ErrInvalidArgument, lvl, p.Len)
		}
		if i > 0 && lvl <= p.PlusLevels[i-1] {
			return fmt.Errorf("%w: plus levels must be strictly ascending", ErrInvalidArgument)
		}
	}
	if p.Len == 0 && p.HashLevel == 0 {
		return fmt.Errorf("%w: empty pattern", ErrInvalidArgument)
	}
	return nil
}

// Clone returns a copy of p that shares no memory with it, with PlusLevels
// sorted.
func (p Pattern) Clone() Pattern {
	c := p
	c.PlusLevels = append([]uint16(nil), p.PlusLevels...)
	sort.Slice(c.PlusLevels, func(i, j int) bool { return c.PlusLevels[i] < c.PlusLevels[j] })
	return c
}

// ParsePattern builds the Pattern of an MQTT-style topic filter such as
// "sensors/+/temp" or "orders/#". The returned Pattern matches published
// topics whose normalized form equals filter, which is therefore the key a
// remote node hashes into its wildcard Bloom filter.
func ParsePattern(id uint64, filter string) (Pattern, error) {
	if filter == "" {
		return Pattern{}, fmt.Errorf("%w: empty topic filter", ErrInvalidArgument)
	}
	levels := strings.Split(filter, "/")
	p := Pattern{ID: id}
	for i, lvl := range levels {
		n := uint16(i + 1)
		switch {
		case lvl == "#":
			if i != len(levels)-1 {
				return Pattern{}, fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidArgument, filter)
			}
			p.HashLevel = n
		case lvl == "+":
			p.PlusLevels = append(p.PlusLevels, n)
			p.Len = n
		case strings.ContainsAny(lvl, "+#"):
			return Pattern{}, fmt.Errorf("%w: wildcard must occupy a whole level in %q", ErrInvalidArgument, filter)
		default:
			p.Len = n
		}
	}
	return p, p.Validate()
}

// IsWildcard reports whether filter contains a wildcard level.
func IsWildcard(filter string) bool {
	return strings.ContainsAny(filter, "+#")
}
