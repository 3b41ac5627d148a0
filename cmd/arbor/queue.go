package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/calyptra/arbor/internal/cli"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the durable plan queue",
	Long: `The queue holds validated plans in a flock-guarded state file until a
worker leases them. Failed plans are retried up to the attempt cap, then
parked on the dead list.`,
}

var queueAddCmd = &cobra.Command{
	Use:   "add <plan-file>",
	Short: "Enqueue a plan for a worker",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := cli.EnqueuePlan(queueOptions(cmd), args[0]); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var queueWorkCmd = &cobra.Command{
	Use:   "work",
	Short: "Lease and execute queued plans",
	Long: `Runs a worker loop: dequeue, execute, ack on success or nack on failure.
The loop polls until a signal arrives, or until the queue is empty with --drain.`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := queueOptions(cmd)
		opts.RunOptions = runOptions(cmd)
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Poll, _ = cmd.Flags().GetDuration("poll")
		opts.Drain, _ = cmd.Flags().GetBool("drain")

		if err := cli.RunWorker(opts); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue occupancy",
	Run: func(cmd *cobra.Command, args []string) {
		showDead, _ := cmd.Flags().GetBool("dead")
		if err := cli.QueueStatus(queueOptions(cmd), showDead); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func queueOptions(cmd *cobra.Command) cli.QueueOptions {
	var opts cli.QueueOptions
	opts.QueuePath, _ = cmd.Flags().GetString("queue")
	opts.MaxAttempts, _ = cmd.Flags().GetInt("max-attempts")
	return opts
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueAddCmd, queueWorkCmd, queueStatusCmd)

	queueCmd.PersistentFlags().String("queue", ".arbor/queue.json", "Queue state file")
	queueCmd.PersistentFlags().Int("max-attempts", 0, "Deliveries per item before the dead list (0 = default)")

	addRuntimeFlags(queueWorkCmd)
	queueWorkCmd.Flags().Bool("json", false, "Emit the event feed as NDJSON")
	queueWorkCmd.Flags().Duration("poll", 2*time.Second, "How often an idle worker re-checks the queue")
	queueWorkCmd.Flags().Bool("drain", false, "Exit once the queue is empty")

	queueStatusCmd.Flags().Bool("dead", false, "List the dead items")
}
