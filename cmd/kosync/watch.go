package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/kosync/internal/transport"
	"github.com/example/kosync/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-file>",
	Short: "Watch a reader session file and push progress continuously",
	Long: `Watch a session file written by a reader application and push each
position change through the debounce gate.

The session file is a small JSON document the reader rewrites as you
read:

  {"path": "/books/novel.epub", "position": 132, "total": 420}

Pushes are debounced: a rewrite is only sent when the debounce interval
has elapsed since the last push and the position advanced by at least
the configured minimum. On shutdown (Ctrl+C) any queued failed pushes
are retried once.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, cleanup := mustEngine()
		defer cleanup()

		sw, err := watcher.New(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := sw.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start watcher: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Watching %s\n", args[0])
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop

			case session, ok := <-sw.Sessions():
				if !ok {
					break loop
				}
				pushed, err := eng.DebouncedPush(ctx, session.Path, session.Position, session.Total, false)
				if errors.Is(err, transport.ErrAuth) {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					_ = sw.Stop()
					os.Exit(1)
				}
				if pushed {
					fmt.Printf("Pushed %s position %d/%d\n", session.Path, session.Position, session.Total)
				}

			case err, ok := <-sw.Errors():
				if ok && err != nil {
					fmt.Fprintf(os.Stderr, "Warning: watch error: %v\n", err)
				}
			}
		}

		fmt.Println("\nShutting down...")
		if err := sw.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}

		if eng.QueuedRetries() > 0 {
			flushed, remaining, err := eng.FlushRetries(context.Background())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: retry flush aborted: %v\n", err)
			} else {
				fmt.Printf("Retried queued pushes: %d sent, %d dropped with the process\n", flushed, remaining)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
