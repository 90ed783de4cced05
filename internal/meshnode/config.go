package meshnode

import (
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/meshroute/internal/peerlink"
	"github.com/rmacdonaldsmith/meshroute/internal/routingtable"
	"github.com/rmacdonaldsmith/meshroute/pkg/hashing"
)

var (
	// ErrEmptyNodeID is returned when node ID is empty
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrInvalidListenAddress is returned when listen address is invalid
	ErrInvalidListenAddress = errors.New("listen address cannot be empty")
)

// DefaultHash is the hash configuration of locally built filters.
var DefaultHash = hashing.Config{Type: hashing.Murmur3LinearCombination, NumHashValues: 4}

// Config represents configuration for a MeshNode
type Config struct {
	// NodeID uniquely identifies this mesh node
	NodeID string

	// ListenAddress is the address peers connect to.
	// Format: "host:port" (e.g., "localhost:7946")
	ListenAddress string

	// SeedNodes lists peers as "id@address" or bare addresses.
	SeedNodes []string

	// Hash configures the filters advertising local subscriptions.
	Hash hashing.Config

	// MinFilterBytes is the smallest local filter. Filters grow in powers of
	// two with the number of subscriptions.
	MinFilterBytes int

	// RoutingTable configuration - nil uses the routing table defaults
	RoutingTableConfig *routingtable.Config

	// PeerLink configuration - nil derives one from NodeID and ListenAddress
	PeerLinkConfig *peerlink.Config
}

// NewConfig creates a new MeshNode configuration with safe defaults
func NewConfig(nodeID, listenAddress string) *Config {
	return &Config{
		NodeID:        nodeID,
		ListenAddress: listenAddress,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.ListenAddress == "" {
		return ErrInvalidListenAddress
	}
	if c.Hash != (hashing.Config{}) {
		if err := c.Hash.Validate(); err != nil {
			return fmt.Errorf("invalid hash config: %w", err)
		}
	}
	if c.MinFilterBytes < 0 {
		return errors.New("min filter bytes cannot be negative")
	}

	if c.RoutingTableConfig != nil {
		rt := *c.RoutingTableConfig
		rt.SetDefaults()
		if err := rt.Validate(); err != nil {
			return fmt.Errorf("invalid RoutingTable config: %w", err)
		}
		if uint32(c.MinFilterBytes) > rt.MaxFilterBytes {
			return errors.New("min filter bytes exceed the routing table's max filter bytes")
		}
	}

	// Validate PeerLink config if provided
	if c.PeerLinkConfig != nil {
		if err := c.PeerLinkConfig.Validate(); err != nil {
			return fmt.Errorf("invalid PeerLink config: %w", err)
		}
		if c.PeerLinkConfig.NodeID != c.NodeID {
			return fmt.Errorf("PeerLink node ID %q differs from node ID %q", c.PeerLinkConfig.NodeID, c.NodeID)
		}
	}

	return nil
}

// SetDefaults fills unset fields. Component configs are copied so the
// caller's values are never modified.
func (c *Config) SetDefaults() {
	if c.Hash == (hashing.Config{}) {
		c.Hash = DefaultHash
	}
	if c.MinFilterBytes == 0 {
		c.MinFilterBytes = 64
	}

	rt := routingtable.Config{}
	if c.RoutingTableConfig != nil {
		rt = *c.RoutingTableConfig
	}
	rt.SetDefaults()
	c.RoutingTableConfig = &rt

	pl := peerlink.Config{NodeID: c.NodeID, ListenAddress: c.ListenAddress}
	if c.PeerLinkConfig != nil {
		pl = *c.PeerLinkConfig
	}
	pl.SetDefaults()
	c.PeerLinkConfig = &pl
}

// WithSeedNodes sets the peers to connect to at start
func (c *Config) WithSeedNodes(seeds ...string) *Config {
	c.SeedNodes = seeds
	return c
}

// WithHash sets the hash configuration of local filters
func (c *Config) WithHash(hash hashing.Config) *Config {
	c.Hash = hash
	return c
}

// WithRoutingTableConfig sets the RoutingTable configuration
func (c *Config) WithRoutingTableConfig(config *routingtable.Config) *Config {
	c.RoutingTableConfig = config
	return c
}

// WithPeerLinkConfig sets the PeerLink configuration
func (c *Config) WithPeerLinkConfig(config *peerlink.Config) *Config {
	c.PeerLinkConfig = config
	return c
}
