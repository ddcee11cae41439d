package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Real-time telemetry aggregation over a shared stream",
	Long: `pulse keeps one authenticated connection to a telemetry stream, merges
per-entity metric frames into snapshots and rolling series, and serves the
latest state and fleet averages over HTTP.

Examples:
  pulse run --config pulse.yaml
  pulse run --entity web-1 --entity web-2
  PULSE_STREAM_TOKEN=secret pulse run`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
