package peerlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rmacdonaldsmith/meshroute/pkg/membership"
	"github.com/rmacdonaldsmith/meshroute/pkg/peerlink"
)

// HealthFunc observes peer health transitions.
type HealthFunc func(peerID string, state peerlink.PeerHealthState)

type peerConn struct {
	node   peerlink.PeerNode
	conn   *grpc.ClientConn
	health peerlink.PeerHealthState
	missed int
}

// GRPCPeerLink implements the PeerLink interface over the FilterSync gRPC
// service.
type GRPCPeerLink struct {
	config   Config
	logger   *slog.Logger
	dialOpts []grpc.DialOption

	mu       sync.RWMutex
	peers    map[string]*peerConn
	onHealth HealthFunc
	closed   bool

	hbMu     sync.Mutex
	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

var _ peerlink.PeerLink = (*GRPCPeerLink)(nil)

// NewGRPCPeerLink creates a new GRPCPeerLink with the given configuration.
// Extra dial options are appended to the ones derived from config.
func NewGRPCPeerLink(config *Config, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCPeerLink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Make a copy and set defaults
	cfg := *config
	cfg.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	creds := insecure.NewCredentials()
	if cfg.TLS != nil {
		creds = credentials.NewTLS(cfg.TLS)
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(wireCodec{}),
			grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
			grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
		),
	}

	return &GRPCPeerLink{
		config:   cfg,
		logger:   logger.With("component", "peerlink", "node_id", cfg.NodeID),
		dialOpts: append(dialOpts, opts...),
		peers:    make(map[string]*peerConn),
	}, nil
}

// OnHealthChange registers fn to be called whenever a peer's health changes.
func (g *GRPCPeerLink) OnHealthChange(fn HealthFunc) {
	g.mu.Lock()
	g.onHealth = fn
	g.mu.Unlock()
}

// Connect opens a link to peer and probes it once. An unreachable peer stays
// linked as unhealthy so heartbeats can recover it.
func (g *GRPCPeerLink) Connect(ctx context.Context, peer peerlink.PeerNode) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return peerlink.ErrClosed
	}
	if _, ok := g.peers[peer.ID()]; ok {
		g.mu.Unlock()
		return nil
	}
	conn, err := grpc.NewClient(peer.Address(), g.dialOpts...)
	if err != nil {
		g.mu.Unlock()
		return fmt.Errorf("connect to peer %s at %s: %w", peer.ID(), peer.Address(), err)
	}
	g.peers[peer.ID()] = &peerConn{node: peer, conn: conn, health: peerlink.PeerUnhealthy}
	g.mu.Unlock()

	g.logger.Info("connected to peer", "peer_id", peer.ID(), "address", peer.Address())
	g.probe(ctx, peer.ID())
	return nil
}

// Disconnect closes the connection to the specified peer node
func (g *GRPCPeerLink) Disconnect(_ context.Context, peerID string) error {
	g.mu.Lock()
	pc, ok := g.peers[peerID]
	if ok {
		delete(g.peers, peerID)
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", peerlink.ErrPeerNotConnected, peerID)
	}
	g.logger.Info("disconnected from peer", "peer_id", peerID)
	return pc.conn.Close()
}

func (g *GRPCPeerLink) conn(peerID string) (*grpc.ClientConn, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return nil, peerlink.ErrClosed
	}
	pc, ok := g.peers[peerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", peerlink.ErrPeerNotConnected, peerID)
	}
	return pc.conn, nil
}

func (g *GRPCPeerLink) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.config.SendTimeout)
}

// Send delivers ev to one peer and waits for it to be applied.
func (g *GRPCPeerLink) Send(ctx context.Context, peerID string, ev membership.Event) error {
	conn, err := g.conn(peerID)
	if err != nil {
		return err
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := conn.Invoke(ctx, applyMethod, &envelope{Origin: g.config.NodeID, Event: ev}, new(ack)); err != nil {
		return fmt.Errorf("send %s to %s: %w", ev.Kind, peerID, err)
	}
	return nil
}

// Broadcast delivers ev to every linked peer with bounded concurrency.
func (g *GRPCPeerLink) Broadcast(ctx context.Context, ev membership.Event) error {
	peers := g.ConnectedPeers()
	if len(peers) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		eg   errgroup.Group
	)
	eg.SetLimit(g.config.BroadcastConcurrency)
	for _, p := range peers {
		id := p.ID()
		eg.Go(func() error {
			if err := g.Send(ctx, id, ev); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

// ConnectedPeers returns linked peers ordered by ID.
func (g *GRPCPeerLink) ConnectedPeers() []peerlink.PeerNode {
	g.mu.RLock()
	peers := make([]peerlink.PeerNode, 0, len(g.peers))
	for _, pc := range g.peers {
		peers = append(peers, pc.node)
	}
	g.mu.RUnlock()
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID() < peers[j].ID() })
	return peers
}

// PeerHealth returns the last observed health of a peer.
func (g *GRPCPeerLink) PeerHealth(peerID string) (peerlink.PeerHealthState, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	pc, ok := g.peers[peerID]
	if !ok {
		return peerlink.PeerDisconnected, fmt.Errorf("%w: %s", peerlink.ErrPeerNotConnected, peerID)
	}
	return pc.health, nil
}

// probe pings one peer and records the outcome.
func (g *GRPCPeerLink) probe(ctx context.Context, peerID string) {
	conn, err := g.conn(peerID)
	if err != nil {
		return
	}
	callCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	reply := new(heartbeat)
	err = conn.Invoke(callCtx, pingMethod, &heartbeat{NodeID: g.config.NodeID, SentUnixNano: time.Now().UnixNano()}, reply)
	if err != nil && ctx.Err() != nil {
		return
	}

	g.mu.Lock()
	pc, ok := g.peers[peerID]
	if !ok {
		g.mu.Unlock()
		return
	}
	prev := pc.health
	if err == nil {
		pc.missed = 0
		pc.health = peerlink.PeerHealthy
	} else {
		pc.missed++
		if pc.missed >= g.config.MaxMissedHeartbeats {
			pc.health = peerlink.PeerDisconnected
		} else {
			pc.health = peerlink.PeerUnhealthy
		}
	}
	next, missed, fn := pc.health, pc.missed, g.onHealth
	g.mu.Unlock()

	if prev == next {
		return
	}
	if err != nil {
		g.logger.Warn("peer health degraded", "peer_id", peerID, "state", next.String(), "missed", missed, "error", err)
	} else {
		rtt := time.Duration(time.Now().UnixNano() - reply.SentUnixNano)
		g.logger.Info("peer healthy", "peer_id", peerID, "rtt", rtt)
	}
	if fn != nil {
		fn(peerID, next)
	}
}

// StartHeartbeats pings every linked peer each HeartbeatInterval until ctx
// is done or StopHeartbeats is called.
func (g *GRPCPeerLink) StartHeartbeats(ctx context.Context) error {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		return peerlink.ErrClosed
	}

	g.hbMu.Lock()
	defer g.hbMu.Unlock()
	if g.hbCancel != nil {
		return errors.New("heartbeats already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	g.hbCancel, g.hbDone = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(g.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, p := range g.ConnectedPeers() {
					g.probe(ctx, p.ID())
				}
			}
		}
	}()
	return nil
}

// StopHeartbeats stops health monitoring and waits for the loop to exit.
func (g *GRPCPeerLink) StopHeartbeats(ctx context.Context) error {
	g.hbMu.Lock()
	cancel, done := g.hbCancel, g.hbDone
	g.hbCancel, g.hbDone = nil, nil
	g.hbMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops heartbeats and closes every peer connection. It is safe to
// call more than once.
func (g *GRPCPeerLink) Close() error {
	_ = g.StopHeartbeats(context.Background())

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	peers := g.peers
	g.peers = make(map[string]*peerConn)
	g.mu.Unlock()

	var errs []error
	for id, pc := range peers {
		if err := pc.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close peer %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
