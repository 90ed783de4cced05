package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	ihashing "github.com/rmacdonaldsmith/meshroute/internal/hashing"
	"github.com/rmacdonaldsmith/meshroute/pkg/hashing"
)

func newHashCommand() *cobra.Command {
	var (
		hashType    string
		numHashes   uint32
		filterBytes int
		check       []string
	)

	cmd := &cobra.Command{
		Use:   "hash <key>...",
		Short: "Build a Bloom filter locally and show bit positions",
		Long: `Compute the bit positions of each key and the resulting filter without
contacting a node. Use --check to test topics against the filter.

Example:
  meshroute-cli hash --hash murmur3-lc --num-hashes 4 --filter-bytes 16 alerts orders/17 --check alerts`,
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{offlineAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := hashing.ParseHashType(hashType)
			if err != nil {
				return err
			}
			config := hashing.Config{Type: t, NumHashValues: numHashes}
			if err := config.Validate(); err != nil {
				return err
			}
			if filterBytes <= 0 {
				return fmt.Errorf("filter-bytes must be positive, got %d", filterBytes)
			}
			provider, err := ihashing.For(t)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bits := uint32(filterBytes) * 8
			for _, key := range args {
				positions := provider.Positions([]byte(key), numHashes, bits, nil)
				fmt.Fprintf(out, "%s: %v\n", key, positions)
			}

			filter := provider.BuildFilter(numHashes, filterBytes, args...)
			fmt.Fprintf(out, "filter (%s, %d bytes): %s\n", config, filterBytes, hex.EncodeToString(filter))

			for _, topic := range check {
				result := "no"
				if provider.HasKey(filter, numHashes, []byte(topic)) {
					result = "maybe"
				}
				fmt.Fprintf(out, "contains %s: %s\n", topic, result)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&hashType, "hash", "murmur3-lc", "Hash family")
	cmd.Flags().Uint32Var(&numHashes, "num-hashes", 4, "Hash values per key")
	cmd.Flags().IntVar(&filterBytes, "filter-bytes", 64, "Filter size in bytes")
	cmd.Flags().StringSliceVar(&check, "check", nil, "Topics to test against the filter")

	return cmd
}
