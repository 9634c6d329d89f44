// Command coordinatord runs the off-chain escrow coordinator: the event
// tailer, expiry sweeper, and ops HTTP surface. It never exposes the
// business-facing HTTP API (matching, receipt submission) — that surface is
// out of this spec's scope.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "coordinatord",
		Short: "Off-chain coordinator for the peer-to-peer fiat on-ramp escrow",
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newMatchCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
