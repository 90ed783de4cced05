package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check node health",
		Long:  "Check the health status of the meshroute node",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Healthy {
		fmt.Fprintln(out, "Node is healthy")
	} else {
		fmt.Fprintln(out, "Node is not healthy")
	}
	fmt.Fprintf(out, "RoutingTable: %t\n", health.RoutingTableHealthy)
	fmt.Fprintf(out, "PeerLink: %t\n", health.PeerLinkHealthy)
	fmt.Fprintf(out, "Connected Peers: %d (%d healthy)\n", health.ConnectedPeers, health.HealthyPeers)
	fmt.Fprintf(out, "Subscriptions: %d\n", health.Subscriptions)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}
	return nil
}
