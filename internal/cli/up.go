package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/provisr-io/provisr/internal/engine"
	"github.com/provisr-io/provisr/internal/eval"
	"github.com/provisr-io/provisr/internal/provider"
	"github.com/provisr-io/provisr/internal/state"
)

var (
	upProperties    map[string]string
	upParallelism   int
	upRetries       int
	upCreateTimeout time.Duration
	upReportPath    string
	upAutoApprove   bool
)

var upCmd = &cobra.Command{
	Use:   "up [program]",
	Short: "Provision all declared resources",
	Long: `Loads the program, builds the dependency graph, and creates every
resource in dependency order. Independent resources are created in
parallel; transient failures are retried with exponential backoff.

The run report, including every resource outcome and materialized
output, is written to .provisr/report.json (or the backend named by
PROVISR_REPORT_BACKEND). The exit status is non-zero unless every
resource was created and every output resolved.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().StringToStringVarP(&upProperties, "prop", "D", nil, "Set external properties (format: key=value)")
	upCmd.Flags().IntVar(&upParallelism, "parallelism", 0, "Maximum concurrent resource creations (0 = default)")
	upCmd.Flags().IntVar(&upRetries, "retries", engine.DefaultRetryMax, "Retry budget per resource for transient failures")
	upCmd.Flags().DurationVar(&upCreateTimeout, "create-timeout", 0, "Timeout for a single create attempt (0 = default)")
	upCmd.Flags().StringVar(&upReportPath, "report", "", "Run report path (default .provisr/report.json)")
	upCmd.Flags().BoolVar(&upAutoApprove, "auto-approve", false, "Skip interactive approval before creating resources")
}

func runUp(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveProgram(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	reportPath := upReportPath
	if reportPath == "" {
		reportPath = filepath.Join(wd, state.DefaultReportPath)
	}
	backend, err := state.BackendFromEnv(reportPath)
	if err != nil {
		return err
	}

	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	fmt.Print("Loading program... ")
	evaluator := eval.NewEvaluator(wd)
	prog, err := evaluator.LoadProgram(ctx, entryPoint, upProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load program: %w", err)
	}
	fmt.Println("OK")

	graph, err := engine.BuildGraph(prog)
	if err != nil {
		return fmt.Errorf("invalid program: %w", err)
	}

	registry := provider.NewRegistry()
	eng := engine.NewEngine(registry)
	eng.Parallelism = upParallelism
	if upCreateTimeout > 0 {
		eng.CreateTimeout = upCreateTimeout
	}
	if upRetries != engine.DefaultRetryMax {
		policy := engine.DefaultRetryPolicy()
		policy.MaxRetries = upRetries
		eng.Retry = policy
	}

	order := graph.CreationOrder()
	if !upAutoApprove {
		fmt.Printf("\nPlan: %d resources to create:\n", len(order))
		for _, addr := range order {
			fmt.Printf("  %s+%s %s\n", colorGreen, colorReset, addr)
		}
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Run cancelled.")
			return nil
		}
	}

	fmt.Printf("\nCreating %d resources...\n", len(order))

	run, runErr := eng.ExecuteWithCallback(ctx, graph, renderEvent)
	if run == nil {
		return runErr
	}

	report := engine.Report(graph, run)
	if err := backend.Write(ctx, report); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}

	created, failed := 0, 0
	for _, res := range report.Resources {
		if res.State == "created" {
			created++
		} else {
			failed++
		}
	}
	fmt.Printf("\nRun complete: %d created, %d failed.\n", created, failed)

	if len(report.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for name, out := range report.Outputs {
			if out.Error != "" {
				fmt.Printf("  %s = <blocked: %s>\n", name, out.Error)
				continue
			}
			fmt.Printf("  %s = %s\n", name, formatValue(out.Value))
		}
	}

	if runErr != nil {
		return fmt.Errorf("run finished with failures: %w", runErr)
	}
	if !report.Succeeded() {
		return fmt.Errorf("run finished but some outputs could not be resolved")
	}
	return nil
}
