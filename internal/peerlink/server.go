package peerlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"github.com/rmacdonaldsmith/meshroute/pkg/membership"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

// Server receives membership events from peers and hands them to a
// membership.Handler.
type Server struct {
	config  Config
	handler membership.Handler
	logger  *slog.Logger
	grpc    *grpc.Server

	mu  sync.Mutex
	lis net.Listener

	applied  atomic.Uint64
	rejected atomic.Uint64
}

// NewServer creates a FilterSync server. Extra options are appended to the
// ones derived from config.
func NewServer(config *Config, handler membership.Handler, logger *slog.Logger, opts ...grpc.ServerOption) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	cfg := *config
	cfg.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	serverOpts := []grpc.ServerOption{
		grpc.ForceServerCodec(wireCodec{}),
		grpc.MaxRecvMsgSize(cfg.MaxMessageSize),
		grpc.MaxSendMsgSize(cfg.MaxMessageSize),
	}
	if cfg.TLS != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(cfg.TLS)))
	}
	serverOpts = append(serverOpts, opts...)

	s := &Server{
		config:  cfg,
		handler: handler,
		logger:  logger.With("component", "peerlink", "node_id", cfg.NodeID),
		grpc:    grpc.NewServer(serverOpts...),
	}
	s.grpc.RegisterService(&filterSyncServiceDesc, s)
	return s, nil
}

// Serve accepts peer connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	s.logger.Info("peer link listening", "address", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve peer link: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(lis)
}

// Addr returns the listening address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Stop drains in-flight calls, forcing the server closed when ctx ends first.
func (s *Server) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
		return ctx.Err()
	}
}

// Counts returns the number of events applied and rejected so far.
func (s *Server) Counts() (applied, rejected uint64) {
	return s.applied.Load(), s.rejected.Load()
}

func (s *Server) apply(ctx context.Context, in *envelope) (*ack, error) {
	// A peer echoing our own state back must not install it as remote.
	if in.Event.PeerID == s.config.NodeID {
		return &ack{}, nil
	}
	if err := s.handler.Apply(ctx, in.Event); err != nil {
		s.rejected.Add(1)
		s.logger.Debug("rejected peer event",
			"origin", in.Origin, "peer_id", in.Event.PeerID, "kind", in.Event.Kind.String(), "error", err)
		return nil, statusError(err)
	}
	s.applied.Add(1)
	return &ack{Applied: true}, nil
}

func (s *Server) ping(_ context.Context, in *heartbeat) (*heartbeat, error) {
	return &heartbeat{NodeID: s.config.NodeID, SentUnixNano: in.SentUnixNano}, nil
}

// statusError maps routing and membership errors onto gRPC status codes.
func statusError(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, membership.ErrInvalidEvent), errors.Is(err, routingtable.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, membership.ErrUnknownPeer), errors.Is(err, routingtable.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, routingtable.ErrNodeInactive):
		code = codes.FailedPrecondition
	case errors.Is(err, routingtable.ErrAllocate):
		code = codes.ResourceExhausted
	case errors.Is(err, routingtable.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
