package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/rmacdonaldsmith/meshroute/pkg/peerlink"
)

// StaticDiscovery implements Discovery using a static list of seed nodes.
// Each seed is either "id@address" or a bare address, which doubles as the
// peer ID.
type StaticDiscovery struct {
	seedNodes []string
	self      string
}

// staticPeerNode implements peerlink.PeerNode for static seed nodes
type staticPeerNode struct {
	id      string
	address string
}

func (p *staticPeerNode) ID() string      { return p.id }
func (p *staticPeerNode) Address() string { return p.address }

// NewStaticDiscovery creates a static discovery service. Seeds whose ID is
// self are skipped so a node can share its cluster's seed list.
func NewStaticDiscovery(seedNodes []string, self string) *StaticDiscovery {
	return &StaticDiscovery{
		seedNodes: seedNodes,
		self:      self,
	}
}

// ParseSeed splits a seed entry into peer ID and address.
func ParseSeed(seed string) (id, address string, err error) {
	seed = strings.TrimSpace(seed)
	id, address, found := strings.Cut(seed, "@")
	if !found {
		id, address = seed, seed
	}
	if id == "" || address == "" {
		return "", "", fmt.Errorf("invalid seed node %q: want id@address or address", seed)
	}
	return id, address, nil
}

// FindPeers returns peer nodes from the static seed node list, ordered as
// given and without duplicate IDs.
func (s *StaticDiscovery) FindPeers(ctx context.Context) ([]peerlink.PeerNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	peers := make([]peerlink.PeerNode, 0, len(s.seedNodes))
	seen := make(map[string]bool, len(s.seedNodes))
	for _, seed := range s.seedNodes {
		id, address, err := ParseSeed(seed)
		if err != nil {
			return nil, err
		}
		if id == s.self || seen[id] {
			continue
		}
		seen[id] = true
		peers = append(peers, &staticPeerNode{id: id, address: address})
	}
	return peers, nil
}
