package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calyptra/arbor/internal/presentation/graph"
	"github.com/calyptra/arbor/pkg/planfile"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <plan-file>",
	Short: "Export the plan graph visualization",
	Long:  `Inspects the plan and outputs a Mermaid diagram (graph TD) representing the task dependencies.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		plan, err := planfile.Load(args[0])
		if err != nil {
			fmt.Printf("Error loading plan: %v\n", err)
			os.Exit(1)
		}

		// Generate and print Mermaid graph. A freshly loaded plan has no
		// recorded statuses, so the overlay is nil and nodes stay unstyled.
		output := graph.GenerateMermaid(plan, graph.StatusOverlay(plan))
		fmt.Print(output)
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
