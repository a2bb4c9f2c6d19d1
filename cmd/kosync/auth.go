package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Verify the configured credentials against the server",
	Long: `Check that the configured username and password are accepted by the
sync server. The password is hashed client-side; only the digest is
sent. Exits non-zero if authentication fails for any reason, including
an unreachable server.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, cleanup := mustEngine()
		defer cleanup()

		if !eng.TestAuth(context.Background()) {
			fmt.Fprintln(os.Stderr, "Authentication FAILED")
			os.Exit(1)
		}
		fmt.Println("Authentication OK")
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
}
