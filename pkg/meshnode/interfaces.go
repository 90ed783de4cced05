package meshnode

import (
	"context"
	"errors"
	"io"

	"github.com/rmacdonaldsmith/meshroute/pkg/peerlink"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

// ErrClosed is returned by operations on a closed node.
var ErrClosed = errors.New("mesh node closed")

// MeshNode represents a single node in the mesh. It advertises its local
// subscriptions to peers as Bloom filters and routes published topics to the
// peers whose filters match.
type MeshNode interface {
	io.Closer

	// Start binds the peer listener, connects to discovered peers and begins
	// heartbeats.
	Start(ctx context.Context) error

	// Stop announces departure to peers and shuts down the peer services.
	Stop(ctx context.Context) error

	// Subscribe adds a local subscription to a topic or MQTT-style wildcard
	// filter and propagates the filter change to peers. Subscriptions are
	// reference counted.
	Subscribe(ctx context.Context, filter string) error

	// Unsubscribe drops one reference to a local subscription.
	Unsubscribe(ctx context.Context, filter string) error

	// Subscriptions returns the distinct local subscriptions.
	Subscriptions() []Subscription

	// Route returns the IDs of the nodes, this one included, whose filters
	// match topic. False positives are possible; false negatives are not.
	Route(ctx context.Context, topic string) ([]string, error)

	// NodeID returns this node's unique identifier in the mesh.
	NodeID() string

	// ConnectedPeers returns all currently connected peer nodes.
	ConnectedPeers() []peerlink.PeerNode

	// Health returns the overall health status of this mesh node.
	Health(ctx context.Context) (HealthStatus, error)

	// Stats returns routing table and peer statistics.
	Stats(ctx context.Context) (Stats, error)
}

// Subscription is one distinct local subscription.
type Subscription struct {
	Filter   string `json:"filter"`
	Wildcard bool   `json:"wildcard"`
	Refs     int    `json:"refs"`
}

// HealthStatus represents the overall health of a mesh node
type HealthStatus struct {
	// Healthy indicates if the node is functioning properly
	Healthy bool `json:"healthy"`

	// RoutingTableHealthy indicates if the routing table accepts lookups
	RoutingTableHealthy bool `json:"routingTableHealthy"`

	// PeerLinkHealthy indicates every connected peer answers heartbeats
	PeerLinkHealthy bool `json:"peerLinkHealthy"`

	// ConnectedPeers is the number of connected peer nodes
	ConnectedPeers int `json:"connectedPeers"`

	// HealthyPeers is the number of peers answering heartbeats
	HealthyPeers int `json:"healthyPeers"`

	// Subscriptions is the number of distinct local subscriptions
	Subscriptions int `json:"subscriptions"`

	// Message provides additional health information
	Message string `json:"message"`
}

// PeerStatus describes one connected peer.
type PeerStatus struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Health  string `json:"health"`
}

// Stats is a point-in-time view of a node's routing state.
type Stats struct {
	NodeID         string             `json:"nodeId"`
	Table          routingtable.Stats `json:"table"`
	Peers          []PeerStatus       `json:"peers"`
	Subscriptions  int                `json:"subscriptions"`
	EventsApplied  uint64             `json:"eventsApplied"`
	EventsRejected uint64             `json:"eventsRejected"`
}
