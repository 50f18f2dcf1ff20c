// Package main is the stockd server CLI.
//
// stockd is the US stock assistant backend: a workflow orchestrator with a
// resilient market-data fabric, real-time price delivery over WebSocket, and
// session-backed authentication.
//
// Start the server:
//
//	stockd serve --config stockd.yaml
//
// Configuration can also be provided entirely through environment variables
// (DATABASE_URL, REDIS_URL, JWT_SECRET_KEY, ...).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "stockd",
		Short: "US stock assistant backend",
		Long:  "stockd runs the workflow orchestrator, real-time price hub, and market-data fabric of the US stock assistant.",
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stockd %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
