package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calyptra/arbor/internal/cli"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Execute a plan file",
	Long: `Loads a YAML or JSON plan, resolves its task graph into batches, and
executes it, streaming lifecycle events to stdout.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		opts := runOptions(cmd)
		opts.PlanPath = args[0]
		opts.Context, _ = cmd.Flags().GetString("context")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Quiet, _ = cmd.Flags().GetBool("quiet")

		if err := cli.RunPlan(opts); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRuntimeFlags(runCmd)

	runCmd.Flags().String("context", "", "Initial run context values as a JSON object")
	runCmd.Flags().Bool("json", false, "Emit the event feed as NDJSON (no banner, no summary)")
	runCmd.Flags().BoolP("quiet", "q", false, "Suppress the banner and summary")
}
