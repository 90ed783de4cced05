package routingtable

import (
	"errors"
	"log/slog"

	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

// Config holds configuration for a LookupSet. The size limits bound the
// storage the set may allocate; growth beyond a limit fails with
// routingtable.ErrAllocate instead of exhausting memory.
type Config struct {
	// MaxNodes bounds node indices; indices must be below it.
	MaxNodes uint32

	// MaxFilterBytes bounds the length of a single filter.
	MaxFilterBytes uint32

	// MaxSetBytes bounds the bit-transposed storage of one exact filter set.
	MaxSetBytes uint64

	// InitialFilters sizes a new exact filter set.
	InitialFilters uint32

	// InitialFilterBytes is the minimum filter length of a new exact set.
	InitialFilterBytes uint32

	Logger  *slog.Logger
	Metrics routingtable.Metrics
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.MaxNodes == 0 {
		return errors.New("max nodes must be positive")
	}
	if c.MaxFilterBytes == 0 {
		return errors.New("max filter bytes must be positive")
	}
	if c.MaxSetBytes == 0 {
		return errors.New("max set bytes must be positive")
	}
	if c.InitialFilterBytes > c.MaxFilterBytes {
		return errors.New("initial filter bytes exceed max filter bytes")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.MaxNodes == 0 {
		c.MaxNodes = 1 << 16
	}
	if c.MaxFilterBytes == 0 {
		c.MaxFilterBytes = 1 << 20 // 8 Mbit
	}
	if c.MaxSetBytes == 0 {
		c.MaxSetBytes = 256 << 20
	}
	if c.InitialFilters == 0 {
		c.InitialFilters = 64
	}
	if c.InitialFilterBytes == 0 {
		c.InitialFilterBytes = min(128, c.MaxFilterBytes)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = routingtable.NopMetrics{}
	}
}
