// Package meshnode defines the contract of a meshroute node.
//
// A node owns a routing table holding one exact and one wildcard Bloom filter
// per peer. Local subscriptions are folded into this node's own filters, and
// every change is propagated to peers as membership events over the peer
// link:
//
//	node.Subscribe(ctx, "sensors/+/temp") // PatternAdd and a filter change
//	node.Subscribe(ctx, "alerts")         // FilterSet or FilterUpdate
//	peers, err := node.Route(ctx, "sensors/kitchen/temp")
//
// Route answers which nodes may be interested in a topic. Bloom filters admit
// false positives, so receivers still check their own subscriptions before
// delivering.
package meshnode
