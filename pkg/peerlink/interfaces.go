package peerlink

import (
	"context"
	"errors"
	"io"

	"github.com/rmacdonaldsmith/meshroute/pkg/membership"
)

var (
	// ErrPeerNotConnected is returned when sending to a peer without a link.
	ErrPeerNotConnected = errors.New("peer not connected")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("peer link closed")
)

// PeerHealthState represents the health state of a peer
type PeerHealthState int

const (
	PeerHealthy PeerHealthState = iota
	PeerUnhealthy
	PeerDisconnected
)

func (s PeerHealthState) String() string {
	switch s {
	case PeerHealthy:
		return "Healthy"
	case PeerUnhealthy:
		return "Unhealthy"
	case PeerDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// PeerNode represents a remote mesh node in the cluster
type PeerNode interface {
	// ID returns unique identifier for this peer node
	ID() string

	// Address returns the network address of the peer node
	Address() string
}

// PeerLink carries membership events between mesh nodes.
type PeerLink interface {
	io.Closer

	// Connect opens a link to peer. Connecting an already linked peer is a
	// no-op.
	Connect(ctx context.Context, peer PeerNode) error

	// Disconnect closes the link to the peer with the given ID.
	Disconnect(ctx context.Context, peerID string) error

	// Send delivers ev to one peer and waits for it to be applied.
	Send(ctx context.Context, peerID string, ev membership.Event) error

	// Broadcast delivers ev to every linked peer. The returned error joins
	// the failures of individual peers.
	Broadcast(ctx context.Context, ev membership.Event) error

	// ConnectedPeers returns all currently linked peers.
	ConnectedPeers() []PeerNode

	// PeerHealth returns the last observed health of a peer.
	PeerHealth(peerID string) (PeerHealthState, error)

	// StartHeartbeats begins health monitoring of linked peers until ctx is
	// done or StopHeartbeats is called.
	StartHeartbeats(ctx context.Context) error

	// StopHeartbeats stops health monitoring.
	StopHeartbeats(ctx context.Context) error
}
