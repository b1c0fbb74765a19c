// Command octopus is a host-resident metrics collector supervisor: it
// discovers collector scripts under a directory tree, runs them on
// declared schedules, ingests their stdout, de-duplicates, and forwards
// to configured sinks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set by ldflags at build time.
var version = "dev"

var flagConfig string

func main() {
	rootCmd := &cobra.Command{
		Use:   "octopus",
		Short: "host-resident metrics collector supervisor",
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to octopus.yaml (default: $OCTOPUS_BASE_DIR/octopus.yaml)")

	rootCmd.AddCommand(newRunCmd(), newStatusCmd(), newInstallUnitCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print octopus version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("octopus %s\n", version)
		},
	}
}
