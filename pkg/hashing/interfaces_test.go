package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{Type: City64LinearCombination, NumHashValues: 3}, false},
		{"zero type", Config{NumHashValues: 3}, true},
		{"zero values", Config{Type: Murmur3SeedChaining}, true},
		{"too many values", Config{Type: Murmur3SeedChaining, NumHashValues: MaxHashValues + 1}, true},
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

func TestParseHashType(t *testing.T) {
	for ht := City64LinearCombination; ht <= Murmur3SeedChaining; ht++ {
		got, err := ParseHashType(ht.String())
		assert.NoError(t, err)
		assert.Equal(t, ht, got)
	}
	_, err := ParseHashType("sha1")
	assert.Error(t, err)
}
