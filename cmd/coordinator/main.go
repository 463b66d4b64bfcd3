// Command coordinator runs the proof-of-work lease server.
//
//	coordinator serve  --listen 127.0.0.1:22900 --admin 127.0.0.1:22901
//	coordinator status --admin 127.0.0.1:22901
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coordinator",
		Short:         "Distributed proof-of-work lease coordinator",
		Long:          "The coordinator partitions the search space into work units and leases them to workers over TCP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	return root
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
