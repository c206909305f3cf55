package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-basset/basset"
	"github.com/tsawler/go-basset/checkpoints"
	"github.com/tsawler/go-basset/dataset"
	"github.com/tsawler/go-basset/metrics"
	"github.com/tsawler/go-basset/tensor"
	"github.com/tsawler/go-basset/training"
)

func newEvaluateCmd() *cobra.Command {
	var (
		dataPath  string
		ckptPath  string
		format    string
		split     string
		batchSize int
		plotPath  string
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a trained model on a dataset split",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := dataset.Open(dataPath, dataset.Split(split))
			if err != nil {
				return err
			}
			defer data.Close()

			model, err := basset.New()
			if err != nil {
				return err
			}
			f, err := checkpointFormat(format)
			if err != nil {
				return err
			}
			saver, err := checkpoints.NewSaver(f)
			if err != nil {
				return err
			}
			ckpt, err := saver.Load(ckptPath)
			if err != nil {
				return err
			}
			if err := ckpt.Apply(model); err != nil {
				return err
			}
			logger.Infow("checkpoint restored", "path", ckptPath, "epoch", ckpt.TrainingState.Epoch)

			loader, err := training.NewDataLoader(data, batchSize, false, nil)
			if err != nil {
				return err
			}
			criterion := training.NewBCEWithLogitsLoss()
			score, totalLoss, err := training.ValidLoop(model, loader, tensor.CPU, nil, criterion)
			if err != nil {
				return err
			}
			logger.Infow("evaluation complete",
				"split", split,
				"mean_batch_auc", score,
				"loss", totalLoss/float64(loader.NumSamples()),
			)

			yTrue, scores, err := training.Predict(model, loader, tensor.CPU)
			if err != nil {
				return err
			}
			auc, err := metrics.AUC(yTrue, scores)
			if err != nil {
				return err
			}
			fmt.Printf("%s AUC: %.4f\n", split, auc)

			if plotPath != "" {
				points, err := metrics.ROCCurve(yTrue, scores)
				if err != nil {
					return err
				}
				if err := metrics.SaveROCPlot(points, fmt.Sprintf("Basset %s split", split), plotPath); err != nil {
					return err
				}
				logger.Infow("ROC curve saved", "path", plotPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "path to the Basset HDF5 file")
	cmd.Flags().StringVarP(&ckptPath, "checkpoint", "c", "", "checkpoint to evaluate")
	cmd.Flags().StringVar(&format, "format", "json", "checkpoint format: json or onnx")
	cmd.Flags().StringVar(&split, "split", "test", "dataset split: train, valid or test")
	cmd.Flags().IntVar(&batchSize, "batch-size", 64, "mini-batch size")
	cmd.Flags().StringVar(&plotPath, "plot", "", "write an ROC curve image to this path")
	cmd.MarkFlagRequired("data")
	cmd.MarkFlagRequired("checkpoint")
	return cmd
}
