package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calyptra/arbor/internal/cli"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the persisted event log",
	Long: `Reads the NDJSON event log and prints matching events, oldest first.
With --follow the command keeps tailing appends until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		var opts cli.LogsOptions
		opts.Path, _ = cmd.Flags().GetString("event-log")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Follow, _ = cmd.Flags().GetBool("follow")
		opts.Since, _ = cmd.Flags().GetString("since")
		opts.Types, _ = cmd.Flags().GetString("type")
		opts.Run, _ = cmd.Flags().GetString("run")
		opts.Limit, _ = cmd.Flags().GetInt("limit")

		if err := cli.ShowLogs(opts); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().String("event-log", "", "NDJSON event log path (default .arbor/events.ndjson)")
	logsCmd.Flags().BoolP("follow", "f", false, "Keep tailing new appends")
	logsCmd.Flags().Bool("json", false, "Print raw NDJSON instead of formatted lines")
	logsCmd.Flags().String("since", "", "Lower bound: a duration (10m) or an RFC3339 timestamp")
	logsCmd.Flags().String("type", "", "Comma-separated event types to keep")
	logsCmd.Flags().String("run", "", "Keep only events stamped with this run ID")
	logsCmd.Flags().Int("limit", 0, "Keep the most recent N events (0 = all)")
}
