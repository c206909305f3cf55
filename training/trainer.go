package training

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/tsawler/go-basset/nn"
	"github.com/tsawler/go-basset/tensor"
)

// Config controls a Trainer run.
type Config struct {
	Epochs        int
	Device        tensor.DeviceType
	EarlyStopping bool
	Patience      int
	Verbose       bool
}

// EpochMetrics records one epoch's outcomes. Losses are per-sample
// averages.
type EpochMetrics struct {
	Epoch        int
	TrainAUC     float64
	TrainLoss    float64
	ValidAUC     float64
	ValidLoss    float64
	LearningRate float64
	Duration     time.Duration
}

// Result summarizes a completed training run.
type Result struct {
	Epochs       []EpochMetrics
	BestEpoch    int
	BestValidAUC float64
	MeanValidAUC float64
	StdValidAUC  float64
	Stopped      bool
}

// Trainer drives repeated TrainLoop/ValidLoop passes with optional
// learning rate scheduling and early stopping on validation AUC.
type Trainer struct {
	model     nn.Module
	optimizer Optimizer
	criterion Loss
	scheduler *StepLR
	config    Config
	out       io.Writer
}

func NewTrainer(model nn.Module, optimizer Optimizer, criterion Loss, config Config) (*Trainer, error) {
	if config.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", config.Epochs)
	}
	if config.EarlyStopping && config.Patience <= 0 {
		return nil, fmt.Errorf("early stopping requires a positive patience")
	}
	return &Trainer{
		model:     model,
		optimizer: optimizer,
		criterion: criterion,
		config:    config,
		out:       os.Stdout,
	}, nil
}

// WithScheduler attaches a learning rate scheduler stepped after every
// epoch.
func (t *Trainer) WithScheduler(scheduler *StepLR) *Trainer {
	t.scheduler = scheduler
	return t
}

// SetOutput redirects progress output, mainly for tests.
func (t *Trainer) SetOutput(w io.Writer) { t.out = w }

// Train runs the configured number of epochs. validLoader may be nil,
// in which case validation metrics stay zero and early stopping is
// unavailable.
func (t *Trainer) Train(trainLoader, validLoader *DataLoader) (*Result, error) {
	if t.config.EarlyStopping && validLoader == nil {
		return nil, fmt.Errorf("early stopping requires a validation loader")
	}
	result := &Result{BestEpoch: -1}
	sinceBest := 0

	var bar *ProgressBar
	if t.config.Verbose {
		bar = NewProgressBar("epochs", t.config.Epochs)
		bar.SetWriter(t.out)
	}

	var validAUCs []float64
	for epoch := 1; epoch <= t.config.Epochs; epoch++ {
		start := time.Now()
		trainAUC, trainLoss, err := TrainLoop(t.model, trainLoader, t.config.Device, t.optimizer, t.criterion)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		em := EpochMetrics{
			Epoch:        epoch,
			TrainAUC:     trainAUC,
			TrainLoss:    trainLoss / float64(trainLoader.NumSamples()),
			LearningRate: t.optimizer.GetLR(),
		}

		if validLoader != nil {
			validAUC, validLoss, err := ValidLoop(t.model, validLoader, t.config.Device, t.optimizer, t.criterion)
			if err != nil {
				return nil, fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			em.ValidAUC = validAUC
			em.ValidLoss = validLoss / float64(validLoader.NumSamples())
			validAUCs = append(validAUCs, validAUC)

			if validAUC > result.BestValidAUC || result.BestEpoch < 0 {
				result.BestValidAUC = validAUC
				result.BestEpoch = epoch
				sinceBest = 0
			} else {
				sinceBest++
			}
		}

		em.Duration = time.Since(start)
		result.Epochs = append(result.Epochs, em)

		if t.scheduler != nil {
			t.scheduler.Step()
		}
		if bar != nil {
			bar.Update(epoch, map[string]float64{
				"train_auc":  em.TrainAUC,
				"train_loss": em.TrainLoss,
				"valid_auc":  em.ValidAUC,
			})
		}
		if t.config.EarlyStopping && sinceBest >= t.config.Patience {
			result.Stopped = true
			break
		}
	}
	if bar != nil {
		fmt.Fprintln(t.out)
	}

	if len(validAUCs) > 0 {
		mean, err := stats.Mean(validAUCs)
		if err != nil {
			return nil, err
		}
		result.MeanValidAUC = mean
		if len(validAUCs) > 1 {
			std, err := stats.StandardDeviation(validAUCs)
			if err != nil {
				return nil, err
			}
			result.StdValidAUC = std
		}
	}
	return result, nil
}
