package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	ksync "github.com/example/kosync/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync <file>",
	Short: "Resolve the current position against the server",
	Long: `Reconcile the local position with the server's record and print the
position to display:

  1. With no remote record, the local position is pushed and kept.
  2. With a remote record meaningfully ahead (beyond the configured
     threshold), the remote position is adopted without pushing.
  3. Otherwise the local position is reaffirmed with a push.

The resolved position is printed on stdout; the outcome goes to stderr.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		position, _ := cmd.Flags().GetInt64("position")
		total, _ := cmd.Flags().GetInt64("total")

		eng, cleanup := mustEngine()
		defer cleanup()

		res, err := eng.Resolve(context.Background(), args[0], position, total)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		switch res.Outcome {
		case ksync.OutcomeAdoptedRemote:
			fmt.Fprintf(os.Stderr, "Adopted remote position (was %d)\n", position)
		case ksync.OutcomeNoRemote:
			fmt.Fprintln(os.Stderr, "No remote record; pushed local position")
		default:
			fmt.Fprintf(os.Stderr, "Kept local position (%s)\n", res.Outcome)
		}
		fmt.Println(res.Position)
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Retry queued failed pushes once",
	Long: `Attempt each queued failed push exactly once, in order. Pushes that
fail again stay queued. Note the queue is in-memory: it only holds
records from the current process, so this is mainly useful at the end
of a 'kosync watch' session (which drains automatically) or for
embedding callers.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, cleanup := mustEngine()
		defer cleanup()

		flushed, remaining, err := eng.FlushRetries(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Flushed %d record(s), %d still pending\n", flushed, remaining)
	},
}

func init() {
	syncCmd.Flags().Int64("position", 0, "current reading position")
	syncCmd.Flags().Int64("total", 0, "total document length")
	_ = syncCmd.MarkFlagRequired("position")
	_ = syncCmd.MarkFlagRequired("total")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(flushCmd)
}
