// Command basset trains and evaluates the Basset chromatin
// accessibility model on Basset-style HDF5 datasets.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logger  *zap.SugaredLogger
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "basset",
		Short: "Train and evaluate the Basset genomic CNN",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var zl *zap.Logger
			var err error
			if verbose {
				zl, err = zap.NewDevelopment()
			} else {
				zl, err = zap.NewProduction()
			}
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			logger = zl.Sugar()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Sync()
			}
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newTrainCmd())
	root.AddCommand(newEvaluateCmd())
	root.AddCommand(newMotifsCmd())
	root.AddCommand(newSimulateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
