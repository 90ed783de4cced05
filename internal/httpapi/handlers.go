package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/rmacdonaldsmith/meshroute/pkg/meshnode"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Handlers contains HTTP request handlers
type Handlers struct {
	node    meshnode.MeshNode
	jwtAuth *JWTAuth
	logger  *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(node meshnode.MeshNode, jwtAuth *JWTAuth, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		node:    node,
		jwtAuth: jwtAuth,
		logger:  logger,
	}
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AuthRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validateAuthRequest(&req); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Client IDs are not verified; "admin" is granted admin access.
	isAdmin := req.ClientID == "admin"

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		h.logger.Error("generate token", "client_id", req.ClientID, "error", err)
		h.writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Subscription endpoints

// CreateSubscription handles POST /api/v1/subscriptions
func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Filter == "" {
		h.writeError(w, "filter is required", http.StatusBadRequest)
		return
	}

	if err := h.node.Subscribe(r.Context(), req.Filter); err != nil {
		h.writeNodeError(w, r, "subscribe", err)
		return
	}
	h.logger.Info("subscribed", "filter", req.Filter, "client_id", GetClientID(r))

	h.writeJSON(w, h.subscription(req.Filter), http.StatusCreated)
}

// ListSubscriptions handles GET /api/v1/subscriptions
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := h.node.Subscriptions()
	if subs == nil {
		subs = []meshnode.Subscription{}
	}
	h.writeJSON(w, SubscriptionsListResponse{Subscriptions: subs}, http.StatusOK)
}

// DeleteSubscription handles DELETE /api/v1/subscriptions?filter={filter}.
// The filter may also be given as a JSON body.
func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	if filter == "" && r.ContentLength != 0 {
		var req SubscriptionRequest
		if err := h.decodeJSON(r, &req); err != nil {
			h.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = req.Filter
	}
	if filter == "" {
		h.writeError(w, "filter is required", http.StatusBadRequest)
		return
	}

	if err := h.node.Unsubscribe(r.Context(), filter); err != nil {
		h.writeNodeError(w, r, "unsubscribe", err)
		return
	}
	h.logger.Info("unsubscribed", "filter", filter, "client_id", GetClientID(r))

	h.writeJSON(w, h.subscription(filter), http.StatusOK)
}

// Route endpoints

// Route handles GET /api/v1/routes?topic={topic}
func (h *Handlers) Route(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		h.writeError(w, "topic is required", http.StatusBadRequest)
		return
	}

	nodes, err := h.node.Route(r.Context(), topic)
	if err != nil {
		h.writeNodeError(w, r, "route", err)
		return
	}
	if nodes == nil {
		nodes = []string{}
	}
	h.writeJSON(w, RouteResponse{Topic: topic, Nodes: nodes, Count: len(nodes)}, http.StatusOK)
}

// Admin endpoints

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	stats, err := h.node.Stats(r.Context())
	if err != nil {
		h.writeNodeError(w, r, "stats", err)
		return
	}
	if stats.Peers == nil {
		stats.Peers = []meshnode.PeerStatus{}
	}
	h.writeJSON(w, stats, http.StatusOK)
}

// AdminListPeers handles GET /api/v1/admin/peers
func (h *Handlers) AdminListPeers(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	stats, err := h.node.Stats(r.Context())
	if err != nil {
		h.writeNodeError(w, r, "peers", err)
		return
	}
	peers := stats.Peers
	if peers == nil {
		peers = []meshnode.PeerStatus{}
	}
	h.writeJSON(w, AdminPeersResponse{Peers: peers}, http.StatusOK)
}

// requireAdmin rejects requests that did not pass through AdminRequired.
func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !IsAdmin(r) {
		h.writeError(w, "Admin privileges required", http.StatusForbidden)
		return false
	}
	h.logger.Debug("admin request", "path", r.URL.Path,
		"client_id", GetClientID(r), "request_id", GetRequestID(r))
	return true
}

// Health endpoint

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.node.Health(r.Context())
	if err != nil {
		h.writeError(w, "Failed to get health status", http.StatusInternalServerError)
		return
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSON(w, health, statusCode)
}

// Helper methods

// subscription looks up the current state of filter. Refs is zero once the
// last reference is gone.
func (h *Handlers) subscription(filter string) SubscriptionResponse {
	for _, s := range h.node.Subscriptions() {
		if s.Filter == filter {
			return SubscriptionResponse(s)
		}
	}
	return SubscriptionResponse{Filter: filter}
}

// writeNodeError maps a mesh node error onto an HTTP status.
func (h *Handlers) writeNodeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", "error", err,
			"client_id", GetClientID(r), "request_id", GetRequestID(r))
	}
	h.writeError(w, err.Error(), code)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, routingtable.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, routingtable.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, meshnode.ErrClosed), errors.Is(err, routingtable.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, routingtable.ErrAllocate):
		return http.StatusInsufficientStorage
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes an error response as JSON
func (h *Handlers) writeError(w http.ResponseWriter, message string, statusCode int) {
	writeError(w, message, statusCode)
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	writeJSON(w, data, statusCode)
}

// decodeJSON validates the content type and decodes a bounded request body.
func (h *Handlers) decodeJSON(r *http.Request, v interface{}) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.New("Content-Type must be application/json")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func (h *Handlers) validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return fmt.Errorf("clientId must be at least 2 characters")
	}
	return nil
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
