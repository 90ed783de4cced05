package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

func newSubscribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <filter>",
		Short: "Subscribe the node to a topic filter",
		Long: `Add a subscription to a topic or MQTT-style wildcard filter. The node
advertises it to its peers. Subscriptions are reference counted.

Examples:
  meshroute-cli subscribe sensors/kitchen/temp
  meshroute-cli subscribe 'sensors/+/temp'
  meshroute-cli subscribe 'logs/#'`,
		Args: cobra.ExactArgs(1),
		RunE: runSubscribe,
	}
}

func newUnsubscribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unsubscribe <filter>",
		Short: "Drop one reference to a subscription",
		Args:  cobra.ExactArgs(1),
		RunE:  runUnsubscribe,
	}
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	sub, err := client.Subscribe(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Subscribed to %s (%s, %d reference(s))\n", sub.Filter, routingtable.KindOf(sub.Wildcard), sub.Refs)
	return nil
}

func runUnsubscribe(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	sub, err := client.Unsubscribe(ctx, args[0])
	if err != nil {
		return err
	}
	if sub.Refs == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Unsubscribed from %s\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Dropped a reference to %s, %d remaining\n", args[0], sub.Refs)
	}
	return nil
}
