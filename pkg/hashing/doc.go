// Package hashing defines how a topic string is turned into Bloom filter bit
// positions.
//
// A Config names a hash family, a derivation strategy and the number of
// positions derived per key:
//   - City64LinearCombination / Murmur3LinearCombination compute one base hash
//     pair (h1, h2) and derive position i as (h1 + i*h2) mod m
//   - City64SeedChaining / Murmur3SeedChaining rehash the key, seeding each
//     round with the previous round's output
//
// Providers are pure functions of their inputs and safe for concurrent use.
// Concrete providers live in internal/hashing.
//
// Example usage:
//
//	var buf [16]uint32
//	positions := provider.Positions([]byte("orders/created"), cfg.NumHashValues, 8192, buf[:0])
package hashing
