// Package peerlink provides interfaces for exchanging routing state between
// mesh nodes.
//
// Each node announces changes to its own Bloom filters as membership events.
// A PeerLink delivers those events to every linked peer, where they are
// applied to the peer's routing table.
//
// Example usage:
//
//	if err := link.Connect(ctx, peer); err != nil {
//		return err
//	}
//
//	// Announce a new exact filter to every peer
//	ev := membership.Event{Kind: membership.FilterSet, PeerID: nodeID, Hash: cfg, Filter: filter}
//	if err := link.Broadcast(ctx, ev); err != nil {
//		log.Warn("broadcast incomplete", "error", err)
//	}
//
//	// Monitor peer health
//	if err := link.StartHeartbeats(ctx); err != nil {
//		return err
//	}
package peerlink
