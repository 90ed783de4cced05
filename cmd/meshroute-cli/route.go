package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRouteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "route <topic>",
		Short: "Show which nodes a topic would be forwarded to",
		Long: `Look up a published topic in the node's routing table. The result may
include false positives but never misses a subscribed node.`,
		Args: cobra.ExactArgs(1),
		RunE: runRoute,
	}
}

func runRoute(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	resp, err := client.Route(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if resp.Count == 0 {
		fmt.Fprintf(out, "No nodes match %s\n", resp.Topic)
		return nil
	}
	fmt.Fprintf(out, "%s routes to %d node(s):\n", resp.Topic, resp.Count)
	for _, node := range resp.Nodes {
		fmt.Fprintf(out, "  %s\n", node)
	}
	return nil
}
