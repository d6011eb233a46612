package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/provisr-io/provisr/internal/state"
)

var outputsJSON bool

var outputsCmd = &cobra.Command{
	Use:   "outputs [name]",
	Short: "Show output values from the last run",
	Long: `Reads output values from the last run report.

If no name is given, all outputs are displayed. If a name is given,
only that output's value is printed. Outputs that were blocked by a
failed resource show the failure chain instead of a value.`,
	RunE: runOutputs,
}

func init() {
	outputsCmd.Flags().BoolVar(&outputsJSON, "json", false, "Output in JSON format")
}

func runOutputs(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveProgram(nil)
	if err != nil {
		return err
	}

	backend, err := state.BackendFromEnv(filepath.Join(wd, state.DefaultReportPath))
	if err != nil {
		return err
	}

	report, err := backend.Read(cmd.Context())
	if err != nil {
		return err
	}

	if len(args) > 0 {
		name := args[0]
		out, ok := report.Outputs[name]
		if !ok {
			return fmt.Errorf("output %q not found", name)
		}
		if out.Error != "" {
			return fmt.Errorf("output %q was blocked: %s", name, out.Error)
		}
		if outputsJSON {
			data, _ := json.Marshal(out.Value)
			fmt.Println(string(data))
		} else {
			fmt.Println(out.Value)
		}
		return nil
	}

	if len(report.Outputs) == 0 {
		fmt.Println("No outputs defined.")
		return nil
	}

	if outputsJSON {
		data, _ := json.MarshalIndent(report.Outputs, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	for name, out := range report.Outputs {
		if out.Error != "" {
			fmt.Printf("%s = <blocked: %s>\n", name, out.Error)
			continue
		}
		fmt.Printf("%s = %s\n", name, formatValue(out.Value))
	}
	return nil
}
