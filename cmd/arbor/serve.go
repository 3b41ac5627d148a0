package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calyptra/arbor/internal/cli"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP dashboard and API",
	Long: `Starts the arbor server: a JSON API for executing plans and querying
events, a live websocket event stream, Swagger UI, and prometheus metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := cli.ServeOptions{RunOptions: runOptions(cmd)}
		opts.Addr, _ = cmd.Flags().GetString("addr")
		opts.RunLimit, _ = cmd.Flags().GetInt("run-limit")

		if err := cli.Serve(opts); err != nil {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addRuntimeFlags(serveCmd)

	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to listen on")
	serveCmd.Flags().Int("run-limit", 0, "Cap retained run snapshots (0 = default)")
}
