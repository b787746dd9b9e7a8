// Package cli implements the bollard CLI commands.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "bollard",
	Short: "Provision declared resource graphs with least-privilege access bindings",
	Long: `bollard applies declarative resource graphs: it parses a declaration
file, orders resources and role grants by their dependencies, and
provisions them through Azure Resource Manager with deterministic,
idempotent role assignments.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	viper.SetEnvPrefix("BOLLARD")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newApplyCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// newLogger builds the CLI logger. Logs go to stderr so stdout stays
// reserved for report output.
func newLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		config = zap.NewDevelopmentConfig()
		config.OutputPaths = []string{"stderr"}
	}
	return config.Build()
}
