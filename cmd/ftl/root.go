package main

import (
	goflag "flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgTarget  string
	cfgBacking string
)

var rootCmd = &cobra.Command{
	Use:   "ftl",
	Short: "Hint-driven flash translation layer simulator",
	Long: `ftl runs a log-structured flash translation layer over a simulated
NAND device: pooled blocks, append-point placement, out-of-place writes
with background garbage collection, and host hints steering placement.

Commands:
  run      Drive a synthetic workload through the engine
  status   Show the configured target layout
  hint     Decode and validate a binary hint payload`,
	Version: "0.1.0-dev",
}

// Execute runs the root command and exits with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// glog registers its -v and -logtostderr flags on the standard set.
	rootCmd.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
	rootCmd.PersistentFlags().StringVar(&cfgTarget, "target", "", "override target type (default, swap, latency, pack)")
	rootCmd.PersistentFlags().StringVar(&cfgBacking, "backing", "", "back the device with a file instead of memory")
}
