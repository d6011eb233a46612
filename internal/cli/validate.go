package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/provisr-io/provisr/internal/engine"
	"github.com/provisr-io/provisr/internal/eval"
)

var validateProperties map[string]string

var validateCmd = &cobra.Command{
	Use:   "validate [program]",
	Short: "Validate the program without creating anything",
	Long: `Evaluates the program and builds its dependency graph, rejecting
duplicate resources, dangling references, and dependency cycles.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringToStringVarP(&validateProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveProgram(args)
	if err != nil {
		return err
	}

	fmt.Printf("Checking %s... ", entryPoint)
	evaluator := eval.NewEvaluator(wd)
	prog, err := evaluator.LoadProgram(cmd.Context(), entryPoint, validateProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}

	graph, err := engine.BuildGraph(prog)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Printf("\nProgram is valid: %d resources, %d outputs.\n",
		len(graph.CreationOrder()), len(graph.Outputs()))
	return nil
}
