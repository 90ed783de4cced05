package peerlink

import (
	"crypto/tls"
	"errors"
	"time"
)

// Config holds configuration for PeerLink component
type Config struct {
	NodeID        string
	ListenAddress string

	// MaxMessageSize bounds a single encoded event. Whole filters travel in
	// one message, so it must exceed the largest filter.
	MaxMessageSize int

	// SendTimeout bounds one Send when the caller's context has no deadline.
	SendTimeout time.Duration

	HeartbeatInterval time.Duration

	// MaxMissedHeartbeats is the number of consecutive failed heartbeats
	// after which a peer is reported disconnected.
	MaxMissedHeartbeats int

	// BroadcastConcurrency bounds the peers sent to in parallel.
	BroadcastConcurrency int

	// TLS enables transport security on both the server and client side.
	// Nil means plaintext.
	TLS *tls.Config
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node ID cannot be empty")
	}
	if c.ListenAddress == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.MaxMessageSize < 0 {
		return errors.New("max message size cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4 * 1024 * 1024 // 4MB
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.MaxMissedHeartbeats <= 0 {
		c.MaxMissedHeartbeats = 3
	}
	if c.BroadcastConcurrency <= 0 {
		c.BroadcastConcurrency = 8
	}
}
