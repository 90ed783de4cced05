package routingtable

import (
	"fmt"
	"testing"

	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

func newBenchLookupSet(b *testing.B, nodes int) *LookupSet {
	b.Helper()
	s, err := NewLookupSet(Config{})
	if err != nil {
		b.Fatalf("NewLookupSet failed: %v", err)
	}
	for i := 0; i < nodes; i++ {
		topics := []string{fmt.Sprintf("devices/%d/state", i), "broadcast"}
		if err := s.AddFilter(node(uint32(i)), buildFilter(cityLC2, 256, topics...), cityLC2, false); err != nil {
			b.Fatalf("AddFilter failed: %v", err)
		}
	}
	return s
}

// BenchmarkLookupSet_LookupExact measures a publish to a topic held by one
// node among many.
func BenchmarkLookupSet_LookupExact(b *testing.B) {
	for _, nodes := range []int{8, 64, 1024} {
		b.Run(fmt.Sprint(nodes), func(b *testing.B) {
			s := newBenchLookupSet(b, nodes)
			defer s.Close()
			topic := []byte("devices/3/state")
			out := make([]routingtable.NodeHandle, nodes)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := s.Lookup(topic, nil, out); err != nil {
					b.Fatalf("Lookup failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkLookupSet_LookupBroadcast measures a publish every node matches.
func BenchmarkLookupSet_LookupBroadcast(b *testing.B) {
	s := newBenchLookupSet(b, 1024)
	defer s.Close()
	topic := []byte("broadcast")
	out := make([]routingtable.NodeHandle, 1024)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n, err := s.Lookup(topic, nil, out)
		if err != nil || n != 1024 {
			b.Fatalf("Lookup returned %d, %v", n, err)
		}
	}
}

// BenchmarkLookupSet_LookupWildcard measures pattern normalization across
// wildcard filters.
func BenchmarkLookupSet_LookupWildcard(b *testing.B) {
	s, err := NewLookupSet(Config{})
	if err != nil {
		b.Fatalf("NewLookupSet failed: %v", err)
	}
	defer s.Close()
	const nodes = 256
	for i := 0; i < nodes; i++ {
		n := node(uint32(i))
		filter := fmt.Sprintf("devices/%d/+", i)
		p, err := routingtable.ParsePattern(1, filter)
		if err != nil {
			b.Fatal(err)
		}
		if err := s.AddFilter(n, buildFilter(cityLC2, 64, filter), cityLC2, true); err != nil {
			b.Fatalf("AddFilter failed: %v", err)
		}
		if err := s.AddPattern(n, p); err != nil {
			b.Fatalf("AddPattern failed: %v", err)
		}
	}
	topic := []byte("devices/17/temperature")
	out := make([]routingtable.NodeHandle, nodes)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Lookup(topic, nil, out); err != nil {
			b.Fatalf("Lookup failed: %v", err)
		}
	}
}

// BenchmarkLookupSet_AddFilter measures replacing filters in a populated set.
func BenchmarkLookupSet_AddFilter(b *testing.B) {
	s := newBenchLookupSet(b, 1024)
	defer s.Close()
	filters := make([][]byte, 16)
	for i := range filters {
		filters[i] = buildFilter(cityLC2, 256, fmt.Sprintf("topic/%d", i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.AddFilter(node(uint32(i%1024)), filters[i%len(filters)], cityLC2, false); err != nil {
			b.Fatalf("AddFilter failed: %v", err)
		}
	}
}

// BenchmarkLookupSet_MixedOperations interleaves lookups with churn.
func BenchmarkLookupSet_MixedOperations(b *testing.B) {
	s := newBenchLookupSet(b, 256)
	defer s.Close()
	out := make([]routingtable.NodeHandle, 512)
	filter := buildFilter(cityLC2, 256, "broadcast")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n := node(uint32(256 + i%256))
		// 70% lookup, 20% add, 10% delete
		switch i % 10 {
		case 0:
			s.DeleteNode(n)
		case 1, 2:
			s.AddFilter(n, filter, cityLC2, false)
		default:
			if _, err := s.Lookup([]byte("broadcast"), nil, out); err != nil {
				b.Fatalf("Lookup failed: %v", err)
			}
		}
	}
}
