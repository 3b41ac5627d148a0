package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calyptra/arbor/internal/cli"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the built-in executor plugins",
	Long:  `Prints every registered plugin with its version and the step kinds it serves.`,
	Run: func(cmd *cobra.Command, args []string) {
		var opts cli.RunOptions
		opts.Debug, _ = cmd.Flags().GetBool("debug")
		opts.CommandsPath, _ = cmd.Flags().GetString("commands")
		opts.UnsafeInline, _ = cmd.Flags().GetBool("unsafe-inline")

		if err := cli.ListPlugins(opts); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)

	pluginsCmd.Flags().String("commands", "arbor.commands.yaml", "Shell plugin allow-list file")
	pluginsCmd.Flags().Bool("unsafe-inline", false, "Let plan params supply shell command lines directly")
}
