// Package routingtable provides the contracts of the content-based routing
// index used by a mesh node to decide which remote nodes receive a published
// topic.
//
// Remote nodes summarise their subscriptions as Bloom filters that arrive
// through the membership layer:
//   - exact filters hold the hashes of non-wildcard topics
//   - wildcard filters hold the hashes of normalized wildcard patterns such as
//     "sensors/+/temp" or "orders/#", together with the Pattern descriptors
//     that tell the lookup how to normalize a published topic before testing it
//   - a route-all flag forces every topic to a node regardless of its filters
//
// RoutingTable is the single entry point. Mutations come from the membership
// layer; Lookup is called on the publish path for every outbound message and
// never allocates on the common path.
//
// Example usage:
//
//	node := routingtable.NodeHandle{Index: 3, EngineHandle: "node-3"}
//	cfg := hashing.Config{Type: hashing.City64LinearCombination, NumHashValues: 4}
//	if err := rt.AddFilter(node, filterBytes, cfg, false); err != nil {
//		return err
//	}
//
//	out := make([]routingtable.NodeHandle, 16)
//	n, err := rt.Lookup([]byte("orders/created"), nil, out)
//	if errors.Is(err, routingtable.ErrArrayTooSmall) {
//		// out[:n] is valid; grow out and look up again for the full set
//	}
//	for _, dest := range out[:n] {
//		forward(dest.EngineHandle, msg)
//	}
//
// Lookup results are probabilistic in one direction only: a node whose
// filters do not cover a topic is never returned, but a Bloom filter false
// positive can return a node that has no matching subscription.
package routingtable
