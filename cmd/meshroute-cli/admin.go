package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (requires admin privileges)",
		Long:  "Administrative commands for monitoring a meshroute node",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show routing table statistics",
		RunE:  runAdminStats,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "peers",
		Short: "List connected peers",
		RunE:  runAdminPeers,
	})

	return cmd
}

func runAdminStats(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	stats, err := client.AdminGetStats(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Node: %s\n", stats.NodeID)
	fmt.Fprintf(out, "Active Nodes: %d\n", stats.Table.ActiveNodes)
	fmt.Fprintf(out, "Route-All Nodes: %d\n", stats.Table.RouteAllNodes)
	fmt.Fprintf(out, "Exact Filters: %d in %d set(s)\n", stats.Table.ExactFilters, len(stats.Table.ExactSets))
	classes := make([]string, 0, len(stats.Table.ExactSets))
	for class := range stats.Table.ExactSets {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		fmt.Fprintf(out, "  %s: %d\n", class, stats.Table.ExactSets[class])
	}
	fmt.Fprintf(out, "Wildcard Filters: %d (%d patterns)\n", stats.Table.WildcardFilters, stats.Table.Patterns)
	fmt.Fprintf(out, "Filter Storage: %d bytes\n", stats.Table.StorageBytes)
	fmt.Fprintf(out, "Local Subscriptions: %d\n", stats.Subscriptions)
	fmt.Fprintf(out, "Peer Events: %d applied, %d rejected\n", stats.EventsApplied, stats.EventsRejected)
	return nil
}

func runAdminPeers(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	resp, err := client.AdminListPeers(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Peers) == 0 {
		fmt.Fprintln(out, "No peers connected")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDRESS\tHEALTH")
	for _, p := range resp.Peers {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Address, p.Health)
	}
	return w.Flush()
}
