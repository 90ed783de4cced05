package membership

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

// ErrRegistryFull is returned when every node index is in use.
var ErrRegistryFull = errors.New("node registry full")

// Registry assigns dense node indices to peer IDs. Released indices are
// reused, lowest first, so the routing table's per-index storage stays
// compact under churn.
type Registry struct {
	mu       sync.RWMutex
	maxNodes uint32
	byPeer   map[string]uint32
	peers    []string // index -> peer ID, "" when free
	free     []uint32 // sorted descending; the last entry is reused first
}

// NewRegistry creates a registry handing out indices below maxNodes.
func NewRegistry(maxNodes uint32) *Registry {
	return &Registry{
		maxNodes: maxNodes,
		byPeer:   make(map[string]uint32),
	}
}

// Assign returns the handle of peerID, allocating an index when the peer is
// new. created reports whether an index was allocated.
func (r *Registry) Assign(peerID string) (h routingtable.NodeHandle, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.byPeer[peerID]; ok {
		return handle(idx, peerID), false, nil
	}
	var idx uint32
	switch {
	case len(r.free) > 0:
		idx = r.free[len(r.free)-1]
		r.free = r.free[:len(r.free)-1]
		r.peers[idx] = peerID
	case uint32(len(r.peers)) < r.maxNodes:
		idx = uint32(len(r.peers))
		r.peers = append(r.peers, peerID)
	default:
		return routingtable.NodeHandle{}, false, fmt.Errorf("%w: %d peers", ErrRegistryFull, r.maxNodes)
	}
	r.byPeer[peerID] = idx
	return handle(idx, peerID), true, nil
}

// Lookup returns the handle of a known peer.
func (r *Registry) Lookup(peerID string) (routingtable.NodeHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byPeer[peerID]
	if !ok {
		return routingtable.NodeHandle{}, false
	}
	return handle(idx, peerID), true
}

// Release frees the index of peerID for reuse.
func (r *Registry) Release(peerID string) (routingtable.NodeHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byPeer[peerID]
	if !ok {
		return routingtable.NodeHandle{}, false
	}
	delete(r.byPeer, peerID)
	r.peers[idx] = ""
	i := sort.Search(len(r.free), func(i int) bool { return r.free[i] < idx })
	r.free = append(r.free, 0)
	copy(r.free[i+1:], r.free[i:])
	r.free[i] = idx
	return handle(idx, peerID), true
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPeer)
}

// Peers returns the registered peer IDs in sorted order.
func (r *Registry) Peers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]string, 0, len(r.byPeer))
	for id := range r.byPeer {
		peers = append(peers, id)
	}
	sort.Strings(peers)
	return peers
}

func handle(idx uint32, peerID string) routingtable.NodeHandle {
	return routingtable.NodeHandle{Index: idx, EngineHandle: peerID}
}
