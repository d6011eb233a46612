package cli

import (
	"github.com/spf13/cobra"

	"github.com/provisr-io/provisr/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "provisr",
	Short: "Dependency-aware cloud provisioning",
	Long: `Provisr provisions cloud resources from a declared dependency graph.

Resources reference each other's not-yet-known outputs; the engine orders
creation from those references, runs independent branches in parallel,
retries transient failures, and reports every output's final value or the
failure chain that blocked it.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(outputsCmd)
	rootCmd.AddCommand(versionCmd)
}
