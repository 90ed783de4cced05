package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/meshroute/pkg/meshnode"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SubscriptionRequest adds or removes one reference to a topic filter.
type SubscriptionRequest struct {
	Filter string `json:"filter"`
}

// SubscriptionResponse reports a subscription after a change
type SubscriptionResponse struct {
	Filter   string `json:"filter"`
	Wildcard bool   `json:"wildcard"`
	Refs     int    `json:"refs"`
}

// SubscriptionsListResponse represents a list of subscriptions
type SubscriptionsListResponse struct {
	Subscriptions []meshnode.Subscription `json:"subscriptions"`
}

// RouteResponse lists the nodes a topic would be forwarded to
type RouteResponse struct {
	Topic string   `json:"topic"`
	Nodes []string `json:"nodes"`
	Count int      `json:"count"`
}

// AdminStatsResponse represents node statistics
type AdminStatsResponse = meshnode.Stats

// AdminPeersResponse represents admin view of connected peers
type AdminPeersResponse struct {
	Peers []meshnode.PeerStatus `json:"peers"`
}

// HealthResponse represents health check response
type HealthResponse = meshnode.HealthStatus

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
