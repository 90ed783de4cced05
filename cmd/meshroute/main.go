package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/meshroute/internal/httpapi"
	"github.com/rmacdonaldsmith/meshroute/internal/meshnode"
	"github.com/rmacdonaldsmith/meshroute/internal/metrics"
	"github.com/rmacdonaldsmith/meshroute/internal/peerlink"
	"github.com/rmacdonaldsmith/meshroute/internal/routingtable"
	"github.com/rmacdonaldsmith/meshroute/pkg/hashing"
)

const (
	// Application info
	appName    = "meshroute"
	appVersion = "0.1.0"

	shutdownTimeout = 30 * time.Second
)

// options holds parsed command-line flags
type options struct {
	nodeID            string
	peerListen        string
	httpListen        string
	seeds             string
	hashType          string
	numHashes         uint
	minFilterBytes    int
	maxNodes          uint
	maxFilterBytes    uint
	heartbeatInterval time.Duration
	tlsCert           string
	tlsKey            string
	tlsCA             string
	jwtSecret         string
	noAuth            bool
	logLevel          string
	logFormat         string
	showVersion       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

// parseFlags parses args into options
func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.nodeID, "node-id", getDefaultNodeID(), "Unique node identifier")
	fs.StringVar(&opts.peerListen, "peer-listen", ":7946", "Listen address for peer connections")
	fs.StringVar(&opts.httpListen, "http-listen", ":8080", "Listen address for the HTTP API (empty disables it)")
	fs.StringVar(&opts.seeds, "seeds", "", "Comma-separated peers to connect to, as id@host:port")
	fs.StringVar(&opts.hashType, "hash", meshnode.DefaultHash.Type.String(), "Hash family for local filters")
	fs.UintVar(&opts.numHashes, "num-hashes", uint(meshnode.DefaultHash.NumHashValues), "Hash values per key for local filters")
	fs.IntVar(&opts.minFilterBytes, "min-filter-bytes", 0, "Smallest local filter in bytes (0 uses the default)")
	fs.UintVar(&opts.maxNodes, "max-nodes", 0, "Maximum nodes in the routing table (0 uses the default)")
	fs.UintVar(&opts.maxFilterBytes, "max-filter-bytes", 0, "Largest accepted filter in bytes (0 uses the default)")
	fs.DurationVar(&opts.heartbeatInterval, "heartbeat", 0, "Peer heartbeat interval (0 uses the default)")
	fs.StringVar(&opts.tlsCert, "tls-cert", "", "PEM certificate for peer TLS")
	fs.StringVar(&opts.tlsKey, "tls-key", "", "PEM key for peer TLS")
	fs.StringVar(&opts.tlsCA, "tls-ca", "", "PEM CA bundle used to verify peers")
	fs.StringVar(&opts.jwtSecret, "jwt-secret", os.Getenv("MESHROUTE_JWT_SECRET"), "Secret signing HTTP API tokens")
	fs.BoolVar(&opts.noAuth, "no-auth", false, "Disable authentication on non-admin HTTP endpoints")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// newLogger builds the process logger from flags
func newLogger(opts *options, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch opts.logFormat {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", opts.logFormat)
	}
}

// buildConfig turns flags into a validated mesh node configuration
func buildConfig(opts *options) (*meshnode.Config, error) {
	hashType, err := hashing.ParseHashType(opts.hashType)
	if err != nil {
		return nil, err
	}
	tlsConfig, err := loadTLS(opts.tlsCert, opts.tlsKey, opts.tlsCA)
	if err != nil {
		return nil, err
	}

	peerLinkConfig := &peerlink.Config{
		NodeID:            opts.nodeID,
		ListenAddress:     opts.peerListen,
		HeartbeatInterval: opts.heartbeatInterval,
		TLS:               tlsConfig,
	}
	peerLinkConfig.SetDefaults()

	config := meshnode.NewConfig(opts.nodeID, opts.peerListen).
		WithSeedNodes(splitList(opts.seeds)...).
		WithHash(hashing.Config{Type: hashType, NumHashValues: uint32(opts.numHashes)}).
		WithRoutingTableConfig(&routingtable.Config{
			MaxNodes:       uint32(opts.maxNodes),
			MaxFilterBytes: uint32(opts.maxFilterBytes),
		}).
		WithPeerLinkConfig(peerLinkConfig)
	config.MinFilterBytes = opts.minFilterBytes

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// loadTLS builds a mutual TLS configuration. Without a certificate peers
// talk in plaintext.
func loadTLS(certFile, keyFile, caFile string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" && caFile == "" {
		return nil, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, errors.New("tls-cert and tls-key must be set together")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read TLS CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", caFile)
		}
		config.RootCAs = pool
		config.ClientCAs = pool
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return config, nil
}

// run starts the node and HTTP API and blocks until ctx is done or either
// fails. ready, when set, receives the bound addresses.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, ready func(peer, http string)) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "%s v%s\n", appName, appVersion)
		return nil
	}

	logger, err := newLogger(opts, stderr)
	if err != nil {
		return err
	}
	config, err := buildConfig(opts)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	logger.Info("starting", "app", appName, "version", appVersion, "node_id", config.NodeID,
		"peer_listen", opts.peerListen, "http_listen", opts.httpListen, "seeds", len(config.SeedNodes))

	node, err := meshnode.NewGRPCMeshNode(config,
		meshnode.WithLogger(logger),
		meshnode.WithMetrics(metrics.New(reg)),
	)
	if err != nil {
		return fmt.Errorf("create mesh node: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn("error closing node", "error", err)
		}
	}()

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("start mesh node: %w", err)
	}

	var (
		api     *httpapi.Server
		httpLis net.Listener
	)
	if opts.httpListen != "" {
		httpLis, err = net.Listen("tcp", opts.httpListen)
		if err != nil {
			return fmt.Errorf("listen for HTTP: %w", err)
		}
		api = httpapi.NewServer(node, httpapi.Config{
			Addr:      opts.httpListen,
			SecretKey: opts.jwtSecret,
			NoAuth:    opts.noAuth,
			Gatherer:  reg,
		}, logger)
	}

	if ready != nil {
		httpAddr := ""
		if httpLis != nil {
			httpAddr = httpLis.Addr().String()
		}
		ready(node.Addr(), httpAddr)
	}

	g, gctx := errgroup.WithContext(ctx)
	if api != nil {
		g.Go(func() error { return api.Serve(httpLis) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if api != nil {
			errs = append(errs, api.Stop(shutdownCtx))
		}
		errs = append(errs, node.Stop(shutdownCtx))
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped", "node_id", config.NodeID)
	return nil
}

// getDefaultNodeID generates a default node ID based on hostname
func getDefaultNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "meshroute-node-1"
	}
	return fmt.Sprintf("meshroute-%s", hostname)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
