package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-basset/metrics"
)

func newSimulateCmd() *cobra.Command {
	var (
		n       int
		seed    int64
		plotDir string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Sanity-check the AUC computation with simulated classifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng := rand.New(rand.NewSource(seed))

			yTrue, scores := metrics.SimulateUninformative(n, rng)
			dumbAUC, err := metrics.AUC(yTrue, scores)
			if err != nil {
				return err
			}
			fmt.Printf("uninformative classifier AUC: %.4f (expect ~0.5)\n", dumbAUC)

			if plotDir != "" {
				points, err := metrics.ROCCurve(yTrue, scores)
				if err != nil {
					return err
				}
				if err := metrics.SaveROCPlot(points, "uninformative classifier", plotDir+"/roc-uninformative.png"); err != nil {
					return err
				}
			}

			yTrue, scores = metrics.SimulateSeparable(n, rng)
			smartAUC, err := metrics.AUC(yTrue, scores)
			if err != nil {
				return err
			}
			fmt.Printf("separable classifier AUC:     %.4f (expect ~1.0)\n", smartAUC)

			if plotDir != "" {
				points, err := metrics.ROCCurve(yTrue, scores)
				if err != nil {
					return err
				}
				if err := metrics.SaveROCPlot(points, "separable classifier", plotDir+"/roc-separable.png"); err != nil {
					return err
				}
				logger.Infow("ROC curves saved", "dir", plotDir)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "samples", 1000, "number of simulated samples")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	cmd.Flags().StringVar(&plotDir, "plots", "", "directory to write ROC curve images into")
	return cmd
}
