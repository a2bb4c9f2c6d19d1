package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <file>",
	Short: "Fetch the remote progress record for a document",
	Long: `Fetch the server's progress record for the given document, merged
with locally cached metadata (last pushed position and time), and print
it as JSON. Prints a notice and exits zero when the server has no
record.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, cleanup := mustEngine()
		defer cleanup()

		rec, err := eng.Fetch(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if rec == nil {
			fmt.Println("No remote progress.")
			return
		}

		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to render record: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	},
}

var putCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Push the current position for a document",
	Long: `Push the given position unconditionally (no debounce gate). A push
that fails for a non-authentication reason is queued for a later
'kosync flush'.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		position, _ := cmd.Flags().GetInt64("position")
		total, _ := cmd.Flags().GetInt64("total")

		eng, cleanup := mustEngine()
		defer cleanup()

		ok, err := eng.DebouncedPush(context.Background(), args[0], position, total, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "Push failed; %d record(s) queued for retry\n", eng.QueuedRetries())
			os.Exit(1)
		}
		fmt.Printf("Pushed position %d/%d\n", position, total)
	},
}

func init() {
	putCmd.Flags().Int64("position", 0, "current reading position")
	putCmd.Flags().Int64("total", 0, "total document length")
	_ = putCmd.MarkFlagRequired("position")
	_ = putCmd.MarkFlagRequired("total")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
}
