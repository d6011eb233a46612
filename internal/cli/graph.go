package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/provisr-io/provisr/internal/engine"
	"github.com/provisr-io/provisr/internal/eval"
)

var graphCmd = &cobra.Command{
	Use:   "graph [program]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  provisr graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveProgram(args)
	if err != nil {
		return err
	}

	evaluator := eval.NewEvaluator(wd)
	prog, err := evaluator.LoadProgram(cmd.Context(), entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load program: %w", err)
	}

	graph, err := engine.BuildGraph(prog)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	// Output DOT format
	fmt.Println("digraph provisr {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, addr := range graph.CreationOrder() {
		fmt.Printf("  %q;\n", addr)
	}
	fmt.Println()

	for _, addr := range graph.CreationOrder() {
		for _, dep := range graph.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}

	fmt.Println("}")
	return nil
}
