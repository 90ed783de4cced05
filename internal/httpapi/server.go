package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmacdonaldsmith/meshroute/pkg/meshnode"
)

// Server represents the HTTP API server
type Server struct {
	node       meshnode.MeshNode
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	gatherer   prometheus.Gatherer
	server     *http.Server
	logger     *slog.Logger
}

// Config holds server configuration
type Config struct {
	// Addr is the listen address, e.g. ":8080"
	Addr string
	// SecretKey signs issued tokens
	SecretKey string
	// TokenTTL is the lifetime of issued tokens; zero uses DefaultTokenTTL
	TokenTTL time.Duration
	// NoAuth bypasses authentication on non-admin endpoints
	NoAuth bool
	// Gatherer is exposed at /metrics when set
	Gatherer prometheus.Gatherer
}

// defaultSecretKey is used when no secret is configured. Only suitable for
// local development.
const defaultSecretKey = "meshroute-dev-secret-key-change-me"

// NewServer creates a new HTTP API server
func NewServer(node meshnode.MeshNode, config Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "httpapi")

	secretKey := config.SecretKey
	if secretKey == "" {
		logger.Warn("no JWT secret configured, using the development default")
		secretKey = defaultSecretKey
	}
	if config.NoAuth {
		logger.Warn("authentication disabled for non-admin endpoints")
	}

	jwtAuth := NewJWTAuth(secretKey, config.TokenTTL)
	s := &Server{
		node:       node,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(node, jwtAuth, logger),
		middleware: NewMiddleware(jwtAuth, config.NoAuth, logger),
		gatherer:   config.Gatherer,
		logger:     logger,
	}

	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return s
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	s.logger.Info("http api listening", "addr", s.server.Addr)
	return ignoreClosed(s.server.ListenAndServe())
}

// Serve serves on an existing listener until Stop
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("http api listening", "addr", lis.Addr().String())
	return ignoreClosed(s.server.Serve(lis))
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Apply global middleware
	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}

	// Authentication endpoints (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))

	// Subscription and routing endpoints (auth required)
	mux.Handle("/api/v1/subscriptions", withMiddleware(s.middleware.AuthRequired(s.handleSubscriptions)))
	mux.Handle("/api/v1/routes", withMiddleware(s.middleware.AuthRequired(s.methods(http.MethodGet, s.handlers.Route))))

	// Admin endpoints (admin auth required)
	mux.Handle("/api/v1/admin/stats", withMiddleware(s.middleware.AdminRequired(s.methods(http.MethodGet, s.handlers.AdminGetStats))))
	mux.Handle("/api/v1/admin/peers", withMiddleware(s.middleware.AdminRequired(s.methods(http.MethodGet, s.handlers.AdminListPeers))))

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(s.methods(http.MethodGet, s.handlers.Health)))

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Root endpoint with API info
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// methods rejects requests whose method is not allowed
func (s *Server) methods(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// handleSubscriptions routes subscription requests based on HTTP method
func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handlers.ListSubscriptions(w, r)
	case http.MethodPost:
		s.handlers.CreateSubscription(w, r)
	case http.MethodDelete:
		s.handlers.DeleteSubscription(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service":     "meshroute HTTP API",
		"nodeId":      s.node.NodeID(),
		"description": "Bloom filter topic routing across a mesh of nodes",
		"endpoints": map[string]interface{}{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"subscriptions": map[string]string{
				"list":   "GET /api/v1/subscriptions",
				"create": "POST /api/v1/subscriptions",
				"delete": "DELETE /api/v1/subscriptions?filter={filter}",
			},
			"routes": "GET /api/v1/routes?topic={topic}",
			"admin": map[string]string{
				"stats": "GET /api/v1/admin/stats",
				"peers": "GET /api/v1/admin/peers",
			},
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}
