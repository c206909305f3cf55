package nn

import (
	"fmt"

	"github.com/tsawler/go-basset/tensor"
)

// BatchNorm normalizes activations per feature. During training it
// uses batch statistics and updates the running mean and variance;
// during evaluation it normalizes with the running statistics.
type BatchNorm struct {
	gamma       *tensor.Tensor
	beta        *tensor.Tensor
	runningMean *tensor.Tensor
	runningVar  *tensor.Tensor

	numFeatures int
	inputDims   int
	eps         float64
	momentum    float64
	training    bool
}

func newBatchNorm(numFeatures, inputDims int) (*BatchNorm, error) {
	if numFeatures <= 0 {
		return nil, fmt.Errorf("numFeatures must be positive, got %d", numFeatures)
	}
	gamma, err := tensor.Ones([]int{numFeatures})
	if err != nil {
		return nil, err
	}
	beta, err := tensor.Zeros([]int{numFeatures})
	if err != nil {
		return nil, err
	}
	runningMean, err := tensor.Zeros([]int{numFeatures})
	if err != nil {
		return nil, err
	}
	runningVar, err := tensor.Ones([]int{numFeatures})
	if err != nil {
		return nil, err
	}
	gamma.SetRequiresGrad(true)
	beta.SetRequiresGrad(true)
	return &BatchNorm{
		gamma:       gamma,
		beta:        beta,
		runningMean: runningMean,
		runningVar:  runningVar,
		numFeatures: numFeatures,
		inputDims:   inputDims,
		eps:         1e-5,
		momentum:    0.1,
		training:    true,
	}, nil
}

// NewBatchNorm1D normalizes [batch, features] activations per feature.
func NewBatchNorm1D(numFeatures int) (*BatchNorm, error) {
	return newBatchNorm(numFeatures, 2)
}

// NewBatchNorm2D normalizes [batch, channels, h, w] activations per
// channel.
func NewBatchNorm2D(numChannels int) (*BatchNorm, error) {
	return newBatchNorm(numChannels, 4)
}

func (b *BatchNorm) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != b.inputDims {
		return nil, fmt.Errorf("batch norm expects %d-D input, got %v", b.inputDims, input.Shape)
	}
	if input.Shape[1] != b.numFeatures {
		return nil, fmt.Errorf("input has %d features, layer has %d", input.Shape[1], b.numFeatures)
	}
	if !b.training {
		return tensor.BatchNormInference(input, b.gamma, b.beta, b.runningMean, b.runningVar, b.eps)
	}
	out, batchMean, batchVar, err := tensor.BatchNormAutograd(input, b.gamma, b.beta, b.eps)
	if err != nil {
		return nil, err
	}
	if err := b.updateRunningStats(batchMean, batchVar, input); err != nil {
		return nil, err
	}
	return out, nil
}

// updateRunningStats applies the exponential moving average update.
// The running variance uses the unbiased estimate.
func (b *BatchNorm) updateRunningStats(batchMean, batchVar, input *tensor.Tensor) error {
	count := input.NumElems / b.numFeatures
	correction := float32(1)
	if count > 1 {
		correction = float32(count) / float32(count-1)
	}
	meanData, err := batchMean.Float32Data()
	if err != nil {
		return err
	}
	varData, err := batchVar.Float32Data()
	if err != nil {
		return err
	}
	rm := b.runningMean.Data.([]float32)
	rv := b.runningVar.Data.([]float32)
	m := float32(b.momentum)
	for f := 0; f < b.numFeatures; f++ {
		rm[f] = (1-m)*rm[f] + m*meanData[f]
		rv[f] = (1-m)*rv[f] + m*varData[f]*correction
	}
	return nil
}

func (b *BatchNorm) Parameters() []*tensor.Tensor { return []*tensor.Tensor{b.gamma, b.beta} }
func (b *BatchNorm) Train()                       { b.training = true }
func (b *BatchNorm) Eval()                        { b.training = false }
func (b *BatchNorm) IsTraining() bool             { return b.training }

// Gamma exposes the scale parameter.
func (b *BatchNorm) Gamma() *tensor.Tensor { return b.gamma }

// Beta exposes the shift parameter.
func (b *BatchNorm) Beta() *tensor.Tensor { return b.beta }

// RunningMean exposes the running mean buffer.
func (b *BatchNorm) RunningMean() *tensor.Tensor { return b.runningMean }

// RunningVar exposes the running variance buffer.
func (b *BatchNorm) RunningVar() *tensor.Tensor { return b.runningVar }
