package peerlink

import (
	"testing"
	"time"
)

// TestConfig_Validation tests our config validation logic
func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				NodeID:        "test-node",
				ListenAddress: "localhost:9090",
			},
			wantErr: false,
		},
		{
			name: "empty node ID",
			config: &Config{
				NodeID:        "",
				ListenAddress: "localhost:9090",
			},
			wantErr: true,
		},
		{
			name: "empty listen address",
			config: &Config{
				NodeID:        "test-node",
				ListenAddress: "",
			},
			wantErr: true,
		},
		{
			name: "negative message size",
			config: &Config{
				NodeID:         "test-node",
				ListenAddress:  "localhost:9090",
				MaxMessageSize: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestConfig_SetDefaults tests that config provides sensible defaults
func TestConfig_SetDefaults(t *testing.T) {
	config := &Config{
		NodeID:        "test-node",
		ListenAddress: "localhost:9090",
	}
	config.SetDefaults()

	if config.MaxMessageSize != 4*1024*1024 {
		t.Errorf("Expected MaxMessageSize default of 4MB, got %d", config.MaxMessageSize)
	}
	if config.SendTimeout != 5*time.Second {
		t.Errorf("Expected SendTimeout default of 5s, got %v", config.SendTimeout)
	}
	if config.HeartbeatInterval != 5*time.Second {
		t.Errorf("Expected HeartbeatInterval default of 5s, got %v", config.HeartbeatInterval)
	}
	if config.MaxMissedHeartbeats != 3 {
		t.Errorf("Expected MaxMissedHeartbeats default of 3, got %d", config.MaxMissedHeartbeats)
	}
	if config.BroadcastConcurrency != 8 {
		t.Errorf("Expected BroadcastConcurrency default of 8, got %d", config.BroadcastConcurrency)
	}
}

// TestConfig_SetDefaults_PreservesExistingValues tests that non-zero values are preserved
func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	config := &Config{
		NodeID:               "test-node",
		ListenAddress:        "localhost:9090",
		SendTimeout:          2 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		MaxMessageSize:       2048,
		MaxMissedHeartbeats:  5,
		BroadcastConcurrency: 2,
	}
	config.SetDefaults()

	if config.SendTimeout != 2*time.Second {
		t.Errorf("Expected existing SendTimeout (2s) to be preserved, got %v", config.SendTimeout)
	}
	if config.HeartbeatInterval != 10*time.Second {
		t.Errorf("Expected existing HeartbeatInterval (10s) to be preserved, got %v", config.HeartbeatInterval)
	}
	if config.MaxMessageSize != 2048 {
		t.Errorf("Expected existing MaxMessageSize (2048) to be preserved, got %d", config.MaxMessageSize)
	}
	if config.MaxMissedHeartbeats != 5 {
		t.Errorf("Expected existing MaxMissedHeartbeats (5) to be preserved, got %d", config.MaxMissedHeartbeats)
	}
	if config.BroadcastConcurrency != 2 {
		t.Errorf("Expected existing BroadcastConcurrency (2) to be preserved, got %d", config.BroadcastConcurrency)
	}
}
