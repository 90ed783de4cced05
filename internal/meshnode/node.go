package meshnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/rmacdonaldsmith/meshroute/internal/discovery"
	"github.com/rmacdonaldsmith/meshroute/internal/membership"
	"github.com/rmacdonaldsmith/meshroute/internal/metrics"
	"github.com/rmacdonaldsmith/meshroute/internal/peerlink"
	"github.com/rmacdonaldsmith/meshroute/internal/routingtable"
	membershippkg "github.com/rmacdonaldsmith/meshroute/pkg/membership"
	"github.com/rmacdonaldsmith/meshroute/pkg/meshnode"
	peerlinkpkg "github.com/rmacdonaldsmith/meshroute/pkg/peerlink"
	routingtablepkg "github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

// ErrNodeClosed is returned by operations on a closed node.
var ErrNodeClosed = meshnode.ErrClosed

// Option customizes a GRPCMeshNode.
type Option func(*GRPCMeshNode)

// WithLogger sets the node's logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *GRPCMeshNode) { n.logger = l }
}

// WithMetrics sets the sink for routing and peer metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *GRPCMeshNode) { n.metrics = m }
}

// WithDiscovery replaces the static seed list.
func WithDiscovery(d discovery.Discovery) Option {
	return func(n *GRPCMeshNode) { n.discovery = d }
}

// WithListener serves peers on lis instead of listening on ListenAddress.
func WithListener(lis net.Listener) Option {
	return func(n *GRPCMeshNode) { n.lis = lis }
}

// WithDialOptions adds gRPC dial options for peer connections.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(n *GRPCMeshNode) { n.dialOpts = append(n.dialOpts, opts...) }
}

// GRPCMeshNode implements the meshnode.MeshNode interface.
// It orchestrates the routing table, membership, and PeerLink components.
type GRPCMeshNode struct {
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	dialOpts []grpc.DialOption

	// Core components
	table     *routingtable.LookupSet
	registry  *membership.Registry
	applier   *membership.Applier
	server    *peerlink.Server
	link      *peerlink.GRPCPeerLink
	discovery discovery.Discovery

	// mu guards the lifecycle state.
	mu       sync.Mutex
	lis      net.Listener
	serveErr chan error
	started  bool
	stopped  bool
	closed   bool

	// subMu serializes local subscription changes so peers see filter
	// events in order.
	subMu sync.Mutex
	local *localFilters
}

var _ meshnode.MeshNode = (*GRPCMeshNode)(nil)

// NewGRPCMeshNode creates a mesh node with the given configuration. Call
// Start to begin serving peers.
func NewGRPCMeshNode(config *Config, opts ...Option) (*GRPCMeshNode, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg := *config
	cfg.SetDefaults()

	n := &GRPCMeshNode{config: cfg, serveErr: make(chan error, 1)}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.metrics == nil {
		n.metrics = metrics.New(nil)
	}
	if n.discovery == nil {
		n.discovery = discovery.NewStaticDiscovery(cfg.SeedNodes, cfg.NodeID)
	}
	n.logger = n.logger.With("node_id", cfg.NodeID)

	rt := *cfg.RoutingTableConfig
	rt.Logger = n.logger
	rt.Metrics = n.metrics
	table, err := routingtable.NewLookupSet(rt)
	if err != nil {
		return nil, fmt.Errorf("failed to create RoutingTable: %w", err)
	}
	n.table = table
	n.registry = membership.NewRegistry(rt.MaxNodes)
	n.applier = membership.NewApplier(table, n.registry, n.logger)

	n.local, err = newLocalFilters(cfg.NodeID, cfg.Hash, cfg.MinFilterBytes, int(rt.MaxFilterBytes))
	if err != nil {
		table.Close()
		return nil, err
	}

	n.server, err = peerlink.NewServer(cfg.PeerLinkConfig, membershippkg.HandlerFunc(n.applyPeerEvent), n.logger)
	if err != nil {
		table.Close()
		return nil, fmt.Errorf("failed to create PeerLink server: %w", err)
	}
	n.link, err = peerlink.NewGRPCPeerLink(cfg.PeerLinkConfig, n.logger, n.dialOpts...)
	if err != nil {
		table.Close()
		return nil, fmt.Errorf("failed to create PeerLink: %w", err)
	}
	n.link.OnHealthChange(n.onPeerHealth)

	// The node routes to itself like any other member.
	if err := n.applier.Apply(context.Background(), membershippkg.Event{Kind: membershippkg.NodeJoin, PeerID: cfg.NodeID}); err != nil {
		table.Close()
		return nil, err
	}
	return n, nil
}

// Start binds the peer listener, connects to discovered peers and begins
// heartbeats. Unreachable peers are retried by the heartbeat loop.
func (n *GRPCMeshNode) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return fmt.Errorf("cannot start closed mesh node")
	}
	if n.started {
		n.mu.Unlock()
		return nil // Already started, idempotent
	}
	if n.stopped {
		n.mu.Unlock()
		return fmt.Errorf("cannot restart a stopped mesh node")
	}
	if n.lis == nil {
		lis, err := net.Listen("tcp", n.config.PeerLinkConfig.ListenAddress)
		if err != nil {
			n.mu.Unlock()
			return fmt.Errorf("listen for peers: %w", err)
		}
		n.lis = lis
	}
	lis := n.lis
	n.started = true
	n.mu.Unlock()

	go func() { n.serveErr <- n.server.Serve(lis) }()

	peers, err := n.discovery.FindPeers(ctx)
	if err != nil {
		return n.abortStart(fmt.Errorf("discover peers: %w", err))
	}
	for _, p := range peers {
		if err := n.link.Connect(ctx, p); err != nil {
			n.logger.Warn("failed to connect to peer", "peer_id", p.ID(), "address", p.Address(), "error", err)
		}
	}
	if err := n.link.StartHeartbeats(context.Background()); err != nil {
		return n.abortStart(fmt.Errorf("start heartbeats: %w", err))
	}
	n.logger.Info("mesh node started", "address", lis.Addr().String(), "peers", len(peers))
	return nil
}

// abortStart undoes a Start that failed after the peer server began serving.
// A gRPC server cannot serve twice, so the node ends up stopped.
func (n *GRPCMeshNode) abortStart(cause error) error {
	n.mu.Lock()
	n.started = false
	n.stopped = true
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := []error{cause}
	for _, p := range n.link.ConnectedPeers() {
		if err := n.link.Disconnect(ctx, p.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := n.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := <-n.serveErr; err != nil {
		errs = append(errs, err)
	}
	n.logger.Warn("mesh node failed to start", "error", cause)
	return errors.Join(errs...)
}

// Stop announces departure to peers and shuts down the peer services.
func (n *GRPCMeshNode) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil // Not started, idempotent
	}
	n.started = false
	n.stopped = true
	n.mu.Unlock()

	var errs []error
	if err := n.link.StopHeartbeats(ctx); err != nil {
		errs = append(errs, err)
	}

	n.subMu.Lock()
	leave := membershippkg.Event{Kind: membershippkg.NodeLeave, PeerID: n.config.NodeID}
	if err := n.link.Broadcast(ctx, leave); err != nil {
		n.logger.Warn("failed to announce departure", "error", err)
	}
	n.subMu.Unlock()

	if err := n.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := <-n.serveErr; err != nil {
		errs = append(errs, err)
	}
	n.logger.Info("mesh node stopped")
	return errors.Join(errs...)
}

// Close stops the node and releases all resources. It is safe to call more
// than once.
func (n *GRPCMeshNode) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopErr := n.Stop(ctx)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	return errors.Join(stopErr, n.link.Close(), n.table.Close())
}

func (n *GRPCMeshNode) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func (n *GRPCMeshNode) isStarted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

// applyPeerEvent is the peer server's handler.
func (n *GRPCMeshNode) applyPeerEvent(ctx context.Context, ev membershippkg.Event) error {
	err := n.applier.Apply(ctx, ev)
	n.metrics.PeerEvent(ev.Kind.String(), err)
	return err
}

// onPeerHealth sends the full local state to a peer that became reachable,
// covering changes it missed while it was down.
func (n *GRPCMeshNode) onPeerHealth(peerID string, state peerlinkpkg.PeerHealthState) {
	if state != peerlinkpkg.PeerHealthy || !n.isStarted() {
		return
	}
	n.subMu.Lock()
	defer n.subMu.Unlock()
	for _, ev := range n.local.snapshot() {
		if err := n.link.Send(context.Background(), peerID, ev); err != nil {
			n.logger.Warn("failed to sync peer", "peer_id", peerID, "kind", ev.Kind.String(), "error", err)
			return
		}
	}
	n.logger.Debug("synced local filters to peer", "peer_id", peerID)
}

// propagate applies local events to this node's table and broadcasts them.
// Broadcast failures are logged; unreachable peers resync on recovery.
func (n *GRPCMeshNode) propagate(ctx context.Context, events []membershippkg.Event) error {
	started := n.isStarted()
	for _, ev := range events {
		if err := n.applier.Apply(ctx, ev); err != nil {
			return fmt.Errorf("apply %s locally: %w", ev.Kind, err)
		}
		if !started {
			continue
		}
		if err := n.link.Broadcast(ctx, ev); err != nil {
			n.logger.Warn("failed to propagate filter change", "kind", ev.Kind.String(), "error", err)
		}
	}
	return nil
}

func (n *GRPCMeshNode) reportSubscriptions() {
	n.metrics.Subscriptions(routingtablepkg.ExactFilter, len(n.local.exact))
	n.metrics.Subscriptions(routingtablepkg.WildcardFilter, len(n.local.patterns))
}

// Subscribe adds a local subscription and propagates the filter change.
func (n *GRPCMeshNode) Subscribe(ctx context.Context, filter string) error {
	if n.isClosed() {
		return ErrNodeClosed
	}
	n.subMu.Lock()
	defer n.subMu.Unlock()

	events, err := n.local.subscribe(filter)
	if err != nil {
		return err
	}
	defer n.reportSubscriptions()
	return n.propagate(ctx, events)
}

// Unsubscribe drops one reference to a local subscription.
func (n *GRPCMeshNode) Unsubscribe(ctx context.Context, filter string) error {
	if n.isClosed() {
		return ErrNodeClosed
	}
	n.subMu.Lock()
	defer n.subMu.Unlock()

	events, err := n.local.unsubscribe(filter)
	if err != nil {
		return err
	}
	defer n.reportSubscriptions()
	return n.propagate(ctx, events)
}

// Subscriptions returns the distinct local subscriptions ordered by filter.
func (n *GRPCMeshNode) Subscriptions() []meshnode.Subscription {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	return n.local.list()
}

// Route returns the IDs of the nodes whose filters match topic. Lookup
// reports a full output buffer with ErrArrayTooSmall; Route keeps what was
// found, passes it back as already matched and retries with a larger buffer.
func (n *GRPCMeshNode) Route(ctx context.Context, topic string) ([]string, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: empty topic", routingtablepkg.ErrInvalidArgument)
	}
	var matched []routingtablepkg.NodeHandle
	size := 16
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := make([]routingtablepkg.NodeHandle, size)
		k, err := n.table.Lookup([]byte(topic), matched, out)
		matched = append(matched, out[:k]...)
		if errors.Is(err, routingtablepkg.ErrArrayTooSmall) {
			size *= 2
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	ids := make([]string, len(matched))
	for i, h := range matched {
		ids[i] = h.EngineHandle.(string)
	}
	return ids, nil
}

// NodeID returns this node's unique identifier in the mesh.
func (n *GRPCMeshNode) NodeID() string {
	return n.config.NodeID
}

// Addr returns the address peers connect to, or "" before Start.
func (n *GRPCMeshNode) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lis == nil {
		return ""
	}
	return n.lis.Addr().String()
}

// ConnectedPeers returns all currently connected peer nodes.
func (n *GRPCMeshNode) ConnectedPeers() []peerlinkpkg.PeerNode {
	return n.link.ConnectedPeers()
}

// Connect links to a peer outside of discovery.
func (n *GRPCMeshNode) Connect(ctx context.Context, peer peerlinkpkg.PeerNode) error {
	return n.link.Connect(ctx, peer)
}

// Health returns the overall health status of this mesh node.
func (n *GRPCMeshNode) Health(ctx context.Context) (meshnode.HealthStatus, error) {
	if err := ctx.Err(); err != nil {
		return meshnode.HealthStatus{}, err
	}
	n.mu.Lock()
	started, closed := n.started, n.closed
	n.mu.Unlock()

	peers := n.link.ConnectedPeers()
	healthy := 0
	for _, p := range peers {
		if state, err := n.link.PeerHealth(p.ID()); err == nil && state == peerlinkpkg.PeerHealthy {
			healthy++
		}
	}
	n.subMu.Lock()
	subs := len(n.local.exact) + len(n.local.patterns)
	n.subMu.Unlock()

	status := meshnode.HealthStatus{
		RoutingTableHealthy: !closed,
		PeerLinkHealthy:     healthy == len(peers),
		ConnectedPeers:      len(peers),
		HealthyPeers:        healthy,
		Subscriptions:       subs,
	}
	status.Healthy = started && status.RoutingTableHealthy
	switch {
	case closed:
		status.Message = "closed"
	case !started:
		status.Message = "not started"
	case !status.PeerLinkHealthy:
		status.Message = fmt.Sprintf("%d of %d peers unhealthy", len(peers)-healthy, len(peers))
	default:
		status.Message = "ok"
	}
	return status, nil
}

// Stats returns routing table and peer statistics.
func (n *GRPCMeshNode) Stats(ctx context.Context) (meshnode.Stats, error) {
	if err := ctx.Err(); err != nil {
		return meshnode.Stats{}, err
	}
	peers := n.link.ConnectedPeers()
	statuses := make([]meshnode.PeerStatus, 0, len(peers))
	for _, p := range peers {
		state, _ := n.link.PeerHealth(p.ID())
		statuses = append(statuses, meshnode.PeerStatus{ID: p.ID(), Address: p.Address(), Health: state.String()})
	}
	n.subMu.Lock()
	subs := len(n.local.exact) + len(n.local.patterns)
	n.subMu.Unlock()

	applied, rejected := n.server.Counts()
	return meshnode.Stats{
		NodeID:         n.config.NodeID,
		Table:          n.table.Stats(),
		Peers:          statuses,
		Subscriptions:  subs,
		EventsApplied:  applied,
		EventsRejected: rejected,
	}, nil
}
