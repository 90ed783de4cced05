package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with a meshroute node",
		Long: `Authenticate with the node using your client ID.
This will generate a JWT token that can be used for subsequent requests.`,
		RunE: runAuth,
	}
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Authenticating with server %s as client %s...\n", serverURL, clientID)

	resp, err := client.Authenticate(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Authentication successful, token expires %s\n", resp.ExpiresAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Token: %s\n", resp.Token)
	fmt.Fprintf(out, "\nSave the token for future use:\n")
	fmt.Fprintf(out, "  export MESHROUTE_TOKEN=\"%s\"\n", resp.Token)
	return nil
}
