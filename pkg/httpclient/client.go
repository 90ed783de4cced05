package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNotAuthenticated is returned by calls that need a token before one is set
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// retryBackoff is the delay before the first retry; it doubles per attempt
const retryBackoff = 100 * time.Millisecond

// Client provides HTTP client for the meshroute API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new meshroute HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		token:      config.Token,
		baseURL:    baseURL,
	}, nil
}

// Authenticate authenticates with the server and stores the token
func (c *Client) Authenticate(ctx context.Context) (*AuthResponse, error) {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", nil, authReq, &authResp, false); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return &authResp, nil
}

// Subscribe adds one reference to a local subscription on the node
func (c *Client) Subscribe(ctx context.Context, filter string) (*SubscriptionResponse, error) {
	var resp SubscriptionResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/subscriptions", nil, SubscriptionRequest{Filter: filter}, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &resp, nil
}

// Unsubscribe drops one reference to a local subscription on the node
func (c *Client) Unsubscribe(ctx context.Context, filter string) (*SubscriptionResponse, error) {
	query := url.Values{"filter": []string{filter}}
	var resp SubscriptionResponse
	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/subscriptions", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return &resp, nil
}

// ListSubscriptions returns the node's local subscriptions
func (c *Client) ListSubscriptions(ctx context.Context) (*SubscriptionsListResponse, error) {
	var resp SubscriptionsListResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/subscriptions", nil, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return &resp, nil
}

// Route returns the nodes whose filters match topic
func (c *Client) Route(ctx context.Context, topic string) (*RouteResponse, error) {
	query := url.Values{"topic": []string{topic}}
	var resp RouteResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/routes", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to route %q: %w", topic, err)
	}
	return &resp, nil
}

// GetHealth returns the health status of the node. An unhealthy node still
// yields its status.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, nil, &resp, false)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		return &resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// Admin Methods (require admin token)

// AdminGetStats returns routing statistics (admin only)
func (c *Client) AdminGetStats(ctx context.Context) (*AdminStatsResponse, error) {
	var resp AdminStatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/stats", nil, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// AdminListPeers returns the node's connected peers (admin only)
func (c *Client) AdminListPeers(ctx context.Context) (*AdminPeersResponse, error) {
	var resp AdminPeersResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/peers", nil, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}
	return &resp, nil
}

// doRequest performs an HTTP request with optional authentication. GET
// requests are retried when no response arrives. Error responses still
// decode into respBody when their body matches it.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, reqBody, respBody interface{}, requireAuth bool) error {
	if requireAuth && c.token == "" {
		return ErrNotAuthenticated
	}

	u := &url.URL{Path: path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var jsonBody []byte
	if reqBody != nil {
		var err error
		if jsonBody, err = json.Marshal(reqBody); err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += c.config.MaxRetries
	}

	var (
		resp *http.Response
		err  error
	)
	backoff := retryBackoff
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, method, fullURL.String(), bytes.NewReader(jsonBody))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if requireAuth {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err = c.httpClient.Do(req)
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(bodyBytes))}
		var errResp ErrorResponse
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Message != "" {
			apiErr.Message = errResp.Message
		}
		if respBody != nil {
			_ = json.Unmarshal(bodyBytes, respBody)
		}
		return apiErr
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// IsAuthenticated returns whether the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}
