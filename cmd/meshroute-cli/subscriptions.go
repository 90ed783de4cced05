package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

func newSubscriptionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "List the node's subscriptions",
		RunE:    runListSubscriptions,
	}
}

func runListSubscriptions(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	resp, err := client.ListSubscriptions(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Subscriptions) == 0 {
		fmt.Fprintln(out, "No subscriptions")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILTER\tKIND\tREFS")
	for _, s := range resp.Subscriptions {
		fmt.Fprintf(w, "%s\t%s\t%d\n", s.Filter, routingtable.KindOf(s.Wildcard), s.Refs)
	}
	return w.Flush()
}
