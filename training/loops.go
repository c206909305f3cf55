package training

import (
	"fmt"

	"github.com/tsawler/go-basset/metrics"
	"github.com/tsawler/go-basset/nn"
	"github.com/tsawler/go-basset/tensor"
)

// TrainLoop runs one training pass over the loader: forward, loss,
// backward and an optimizer step per batch. It returns the AUC score
// averaged over batches and the total loss, where each batch
// contributes its mean loss multiplied by the batch size. The total is
// not divided by the sample count; callers that want a per-sample loss
// divide by loader.NumSamples themselves.
func TrainLoop(model nn.Module, loader *DataLoader, device tensor.DeviceType, optimizer Optimizer, criterion Loss) (score, loss float64, err error) {
	model.Train()
	return runEpoch(model, loader, device, optimizer, criterion, true)
}

// ValidLoop runs one evaluation pass over the loader with the same
// accumulation rules as TrainLoop but no parameter updates. The
// optimizer is accepted for call-site symmetry and never consulted.
func ValidLoop(model nn.Module, loader *DataLoader, device tensor.DeviceType, optimizer Optimizer, criterion Loss) (score, loss float64, err error) {
	model.Eval()
	return runEpoch(model, loader, device, nil, criterion, false)
}

func runEpoch(model nn.Module, loader *DataLoader, device tensor.DeviceType, optimizer Optimizer, criterion Loss, train bool) (float64, float64, error) {
	loader.Reset()
	totalScore := 0.0
	totalLoss := 0.0
	batches := 0
	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return 0, 0, err
		}
		data, err := batch.Data.ToDevice(device)
		if err != nil {
			return 0, 0, err
		}
		labels, err := batch.Labels.ToDevice(device)
		if err != nil {
			return 0, 0, err
		}

		if train {
			optimizer.ZeroGrad()
		}
		logits, err := model.Forward(data)
		if err != nil {
			return 0, 0, fmt.Errorf("forward pass on batch %d: %w", batches, err)
		}
		lossValue, err := criterion.Forward(logits, labels)
		if err != nil {
			return 0, 0, err
		}
		if train {
			grad, err := criterion.Backward(logits, labels)
			if err != nil {
				return 0, 0, err
			}
			if err := logits.BackwardWith(grad); err != nil {
				return 0, 0, fmt.Errorf("backward pass on batch %d: %w", batches, err)
			}
			if err := optimizer.Step(); err != nil {
				return 0, 0, err
			}
		}

		auc, err := batchAUC(logits, labels)
		if err != nil {
			return 0, 0, err
		}
		totalScore += auc
		totalLoss += lossValue * float64(batch.Size)
		batches++
	}
	if batches == 0 {
		return 0, 0, fmt.Errorf("data loader produced no batches")
	}
	return totalScore / float64(batches), totalLoss, nil
}

// Predict runs the model over the loader in eval mode and returns the
// flattened 0/1 targets with their sigmoid scores, for whole-split ROC
// analysis.
func Predict(model nn.Module, loader *DataLoader, device tensor.DeviceType) (yTrue []int, scores []float64, err error) {
	model.Eval()
	loader.Reset()
	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return nil, nil, err
		}
		data, err := batch.Data.ToDevice(device)
		if err != nil {
			return nil, nil, err
		}
		logits, err := model.Forward(data)
		if err != nil {
			return nil, nil, err
		}
		probs, err := tensor.Sigmoid(logits)
		if err != nil {
			return nil, nil, err
		}
		pd, err := probs.Float32Data()
		if err != nil {
			return nil, nil, err
		}
		ld, err := batch.Labels.Float32Data()
		if err != nil {
			return nil, nil, err
		}
		if len(pd) != len(ld) {
			return nil, nil, fmt.Errorf("prediction shape %v does not match label shape %v", logits.Shape, batch.Labels.Shape)
		}
		for i := range pd {
			label := 0
			if ld[i] > 0.5 {
				label = 1
			}
			yTrue = append(yTrue, label)
			scores = append(scores, float64(pd[i]))
		}
	}
	return yTrue, scores, nil
}

// batchAUC flattens a batch of logits and 0/1 float targets and scores
// the sigmoid probabilities against the targets.
func batchAUC(logits, labels *tensor.Tensor) (float64, error) {
	probs, err := tensor.Sigmoid(logits)
	if err != nil {
		return 0, err
	}
	pd, err := probs.Float32Data()
	if err != nil {
		return 0, err
	}
	ld, err := labels.Float32Data()
	if err != nil {
		return 0, err
	}
	if len(pd) != len(ld) {
		return 0, fmt.Errorf("prediction shape %v does not match label shape %v", logits.Shape, labels.Shape)
	}
	yTrue := make([]int, len(ld))
	scores := make([]float64, len(pd))
	for i := range ld {
		if ld[i] > 0.5 {
			yTrue[i] = 1
		}
		scores[i] = float64(pd[i])
	}
	return metrics.AUC(yTrue, scores)
}
