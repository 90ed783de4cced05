// Package membership defines the events through which the control layer
// tells a routing table about remote nodes.
//
// Every node in the mesh summarises its local subscriptions as two Bloom
// filters, one for exact topics and one for normalized wildcard patterns,
// and announces them to its peers. An Event carries one change to that
// state: a node joining or leaving, a whole filter, a sparse bit update, a
// wildcard pattern, or the route-all override.
//
// Events identify nodes by peer ID. Implementations of Handler map peer IDs
// to dense routing table indices.
//
// Example usage:
//
//	ev := membership.Event{
//		Kind:   membership.FilterSet,
//		PeerID: "node-2",
//		Hash:   hashing.Config{Type: hashing.City64LinearCombination, NumHashValues: 3},
//		Filter: filterBytes,
//	}
//	if err := handler.Apply(ctx, ev); err != nil {
//		return err
//	}
package membership
