package main

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tsawler/go-basset/basset"
	"github.com/tsawler/go-basset/checkpoints"
	"github.com/tsawler/go-basset/dataset"
	"github.com/tsawler/go-basset/nn"
	"github.com/tsawler/go-basset/tensor"
	"github.com/tsawler/go-basset/training"
)

type trainOptions struct {
	dataPath  string
	outPath   string
	format    string
	epochs    int
	batchSize int
	lr        float64
	momentum  float64
	seed      int64
	lrStep    int
	lrGamma   float64
	patience  int
	earlyStop bool
}

func newTrainCmd() *cobra.Command {
	opts := &trainOptions{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the model on the train split and validate each epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(opts)
		},
	}
	cmd.Flags().StringVarP(&opts.dataPath, "data", "d", "", "path to the Basset HDF5 file")
	cmd.Flags().StringVarP(&opts.outPath, "out", "o", "basset-checkpoint.json", "checkpoint output path")
	cmd.Flags().StringVar(&opts.format, "format", "json", "checkpoint format: json or onnx")
	cmd.Flags().IntVar(&opts.epochs, "epochs", 5, "number of training epochs")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 64, "mini-batch size")
	cmd.Flags().Float64Var(&opts.lr, "lr", 0.05, "learning rate")
	cmd.Flags().Float64Var(&opts.momentum, "momentum", 0.9, "SGD momentum")
	cmd.Flags().Int64Var(&opts.seed, "seed", 42, "random seed")
	cmd.Flags().IntVar(&opts.lrStep, "lr-step", 0, "decay the learning rate every N epochs (0 disables)")
	cmd.Flags().Float64Var(&opts.lrGamma, "lr-gamma", 0.5, "learning rate decay factor")
	cmd.Flags().BoolVar(&opts.earlyStop, "early-stop", false, "stop when validation AUC stops improving")
	cmd.Flags().IntVar(&opts.patience, "patience", 3, "epochs without improvement before stopping")
	cmd.MarkFlagRequired("data")
	return cmd
}

func checkpointFormat(name string) (checkpoints.Format, error) {
	switch name {
	case "json":
		return checkpoints.FormatJSON, nil
	case "onnx":
		return checkpoints.FormatONNX, nil
	default:
		return 0, errors.Errorf("unknown checkpoint format %q (want json or onnx)", name)
	}
}

func runTrain(opts *trainOptions) error {
	nn.SetRandomSeed(opts.seed)

	trainData, err := dataset.Open(opts.dataPath, dataset.Train)
	if err != nil {
		return err
	}
	defer trainData.Close()
	validData, err := dataset.Open(opts.dataPath, dataset.Valid)
	if err != nil {
		return err
	}
	defer validData.Close()
	logger.Infow("datasets loaded",
		"train_samples", trainData.Len(),
		"valid_samples", validData.Len(),
		"seq_len", trainData.SeqLen(),
		"targets", trainData.NumTargets(),
	)

	model, err := basset.New()
	if err != nil {
		return err
	}
	optimizer, err := training.NewSGD(model.Parameters(), training.SGDConfig{
		LR:       opts.lr,
		Momentum: opts.momentum,
	})
	if err != nil {
		return err
	}
	criterion := training.NewBCEWithLogitsLoss()

	rng := rand.New(rand.NewSource(opts.seed))
	trainLoader, err := training.NewDataLoader(trainData, opts.batchSize, true, rng)
	if err != nil {
		return err
	}
	validLoader, err := training.NewDataLoader(validData, opts.batchSize, false, nil)
	if err != nil {
		return err
	}

	trainer, err := training.NewTrainer(model, optimizer, criterion, training.Config{
		Epochs:        opts.epochs,
		Device:        tensor.CPU,
		EarlyStopping: opts.earlyStop,
		Patience:      opts.patience,
		Verbose:       true,
	})
	if err != nil {
		return err
	}
	if opts.lrStep > 0 {
		sched, err := training.NewStepLR(optimizer, opts.lrStep, opts.lrGamma)
		if err != nil {
			return err
		}
		trainer.WithScheduler(sched)
	}

	result, err := trainer.Train(trainLoader, validLoader)
	if err != nil {
		return err
	}
	for _, em := range result.Epochs {
		logger.Infow("epoch complete",
			"epoch", em.Epoch,
			"train_auc", em.TrainAUC,
			"train_loss", em.TrainLoss,
			"valid_auc", em.ValidAUC,
			"valid_loss", em.ValidLoss,
			"lr", em.LearningRate,
			"duration", em.Duration,
		)
	}
	logger.Infow("training finished",
		"best_epoch", result.BestEpoch,
		"best_valid_auc", result.BestValidAUC,
		"mean_valid_auc", result.MeanValidAUC,
		"std_valid_auc", result.StdValidAUC,
		"early_stopped", result.Stopped,
	)

	format, err := checkpointFormat(opts.format)
	if err != nil {
		return err
	}
	saver, err := checkpoints.NewSaver(format)
	if err != nil {
		return err
	}
	ckpt := checkpoints.FromModel(model, checkpoints.TrainingState{
		Epoch:        len(result.Epochs),
		BestValidAUC: result.BestValidAUC,
		LearningRate: optimizer.GetLR(),
	}, "trained with the basset CLI")
	if err := saver.Save(ckpt, opts.outPath); err != nil {
		return err
	}
	logger.Infow("checkpoint saved", "path", opts.outPath, "format", format.String())
	return nil
}
