package httpclient

import (
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/meshroute/pkg/meshnode"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the meshroute HTTP API (e.g., "http://localhost:8080")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Token is a previously issued token; Authenticate replaces it
	Token string

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxRetries for GET requests that fail before a response arrives
	MaxRetries int
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SubscriptionRequest adds or removes one reference to a topic filter
type SubscriptionRequest struct {
	Filter string `json:"filter"`
}

// SubscriptionResponse reports a subscription after a change
type SubscriptionResponse = meshnode.Subscription

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

// APIError is returned for responses with an error status
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
