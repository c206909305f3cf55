// Package basset defines the Basset convolutional architecture for
// predicting chromatin accessibility across cell types from one-hot
// encoded DNA sequence.
package basset

import (
	"fmt"

	"github.com/tsawler/go-basset/nn"
	"github.com/tsawler/go-basset/tensor"
)

const (
	// SeqLen is the fixed input sequence length in base pairs.
	SeqLen = 600
	// NumBases is the one-hot alphabet size (A, C, G, T).
	NumBases = 4
	// NumCellTypes is the number of accessibility labels predicted
	// per sequence.
	NumCellTypes = 164
	// DropoutRate is applied after both fully connected stages.
	DropoutRate = 0.3

	conv1Filters = 300
	conv1Height  = 19
	conv2Filters = 200
	conv2Height  = 11
	conv3Filters = 200
	conv3Height  = 7
	hiddenUnits  = 1000
	// flattenedSize is conv3Filters * 13: three pools of (3,1), (4,1)
	// and (4,1) reduce 600 positions to 13.
	flattenedSize = 2600
)

// Model is the Basset network: three convolution / batch norm / ReLU /
// max-pool stages over the sequence axis, two fully connected stages
// with batch norm, ReLU and dropout, and a final linear projection to
// per-cell-type logits. No output activation is applied; callers take
// the sigmoid themselves.
type Model struct {
	conv1 *nn.Conv2D
	bn1   *nn.BatchNorm
	pool1 *nn.MaxPool2D
	conv2 *nn.Conv2D
	bn2   *nn.BatchNorm
	pool2 *nn.MaxPool2D
	conv3 *nn.Conv2D
	bn3   *nn.BatchNorm
	pool3 *nn.MaxPool2D

	fc1  *nn.Linear
	bn4  *nn.BatchNorm
	fc2  *nn.Linear
	bn5  *nn.BatchNorm
	fc3  *nn.Linear
	drop *nn.Dropout
	relu *nn.ReLU
	flat *nn.Flatten

	training bool
}

// New builds a Basset model with freshly initialized parameters.
func New() (*Model, error) {
	m := &Model{training: true}
	var err error
	if m.conv1, err = nn.NewConv2D(1, conv1Filters, conv1Height, NumBases, conv1Height/2, 0); err != nil {
		return nil, err
	}
	if m.bn1, err = nn.NewBatchNorm2D(conv1Filters); err != nil {
		return nil, err
	}
	m.pool1 = nn.NewMaxPool2D(3, 1)
	if m.conv2, err = nn.NewConv2D(conv1Filters, conv2Filters, conv2Height, 1, conv2Height/2, 0); err != nil {
		return nil, err
	}
	if m.bn2, err = nn.NewBatchNorm2D(conv2Filters); err != nil {
		return nil, err
	}
	m.pool2 = nn.NewMaxPool2D(4, 1)
	if m.conv3, err = nn.NewConv2D(conv2Filters, conv3Filters, conv3Height, 1, conv3Height/2+1, 0); err != nil {
		return nil, err
	}
	if m.bn3, err = nn.NewBatchNorm2D(conv3Filters); err != nil {
		return nil, err
	}
	m.pool3 = nn.NewMaxPool2D(4, 1)

	if m.fc1, err = nn.NewLinear(flattenedSize, hiddenUnits); err != nil {
		return nil, err
	}
	if m.bn4, err = nn.NewBatchNorm1D(hiddenUnits); err != nil {
		return nil, err
	}
	if m.fc2, err = nn.NewLinear(hiddenUnits, hiddenUnits); err != nil {
		return nil, err
	}
	if m.bn5, err = nn.NewBatchNorm1D(hiddenUnits); err != nil {
		return nil, err
	}
	if m.fc3, err = nn.NewLinear(hiddenUnits, NumCellTypes); err != nil {
		return nil, err
	}
	if m.drop, err = nn.NewDropout(DropoutRate); err != nil {
		return nil, err
	}
	m.relu = nn.NewReLU()
	m.flat = nn.NewFlatten()
	return m, nil
}

// Forward maps [n, 1, SeqLen, NumBases] one-hot sequences to
// [n, NumCellTypes] logits.
func (m *Model) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 || input.Shape[1] != 1 || input.Shape[2] != SeqLen || input.Shape[3] != NumBases {
		return nil, fmt.Errorf("expected input [n 1 %d %d], got %v", SeqLen, NumBases, input.Shape)
	}
	x, err := m.convStage(input, m.conv1, m.bn1, m.pool1)
	if err != nil {
		return nil, fmt.Errorf("conv stage 1: %w", err)
	}
	if x, err = m.convStage(x, m.conv2, m.bn2, m.pool2); err != nil {
		return nil, fmt.Errorf("conv stage 2: %w", err)
	}
	if x, err = m.convStage(x, m.conv3, m.bn3, m.pool3); err != nil {
		return nil, fmt.Errorf("conv stage 3: %w", err)
	}
	if x, err = m.flat.Forward(x); err != nil {
		return nil, err
	}
	if x, err = m.fcStage(x, m.fc1, m.bn4); err != nil {
		return nil, fmt.Errorf("fc stage 1: %w", err)
	}
	if x, err = m.fcStage(x, m.fc2, m.bn5); err != nil {
		return nil, fmt.Errorf("fc stage 2: %w", err)
	}
	return m.fc3.Forward(x)
}

func (m *Model) convStage(x *tensor.Tensor, conv *nn.Conv2D, bn *nn.BatchNorm, pool *nn.MaxPool2D) (*tensor.Tensor, error) {
	x, err := conv.Forward(x)
	if err != nil {
		return nil, err
	}
	if x, err = bn.Forward(x); err != nil {
		return nil, err
	}
	if x, err = m.relu.Forward(x); err != nil {
		return nil, err
	}
	return pool.Forward(x)
}

func (m *Model) fcStage(x *tensor.Tensor, fc *nn.Linear, bn *nn.BatchNorm) (*tensor.Tensor, error) {
	x, err := fc.Forward(x)
	if err != nil {
		return nil, err
	}
	if x, err = bn.Forward(x); err != nil {
		return nil, err
	}
	if x, err = m.relu.Forward(x); err != nil {
		return nil, err
	}
	return m.drop.Forward(x)
}

func (m *Model) modules() []nn.Module {
	return []nn.Module{
		m.conv1, m.bn1, m.pool1,
		m.conv2, m.bn2, m.pool2,
		m.conv3, m.bn3, m.pool3,
		m.fc1, m.bn4, m.fc2, m.bn5, m.fc3,
		m.drop, m.relu, m.flat,
	}
}

func (m *Model) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, mod := range m.modules() {
		params = append(params, mod.Parameters()...)
	}
	return params
}

func (m *Model) Train() {
	m.training = true
	for _, mod := range m.modules() {
		mod.Train()
	}
}

func (m *Model) Eval() {
	m.training = false
	for _, mod := range m.modules() {
		mod.Eval()
	}
}

func (m *Model) IsTraining() bool { return m.training }

// NamedParameters lists every trainable tensor with a stable name for
// checkpointing, in deterministic order.
func (m *Model) NamedParameters() []nn.NamedParam {
	return []nn.NamedParam{
		{Name: "conv1.weight", Tensor: m.conv1.Weight()},
		{Name: "conv1.bias", Tensor: m.conv1.Bias()},
		{Name: "bn1.weight", Tensor: m.bn1.Gamma()},
		{Name: "bn1.bias", Tensor: m.bn1.Beta()},
		{Name: "conv2.weight", Tensor: m.conv2.Weight()},
		{Name: "conv2.bias", Tensor: m.conv2.Bias()},
		{Name: "bn2.weight", Tensor: m.bn2.Gamma()},
		{Name: "bn2.bias", Tensor: m.bn2.Beta()},
		{Name: "conv3.weight", Tensor: m.conv3.Weight()},
		{Name: "conv3.bias", Tensor: m.conv3.Bias()},
		{Name: "bn3.weight", Tensor: m.bn3.Gamma()},
		{Name: "bn3.bias", Tensor: m.bn3.Beta()},
		{Name: "fc1.weight", Tensor: m.fc1.Weight()},
		{Name: "fc1.bias", Tensor: m.fc1.Bias()},
		{Name: "bn4.weight", Tensor: m.bn4.Gamma()},
		{Name: "bn4.bias", Tensor: m.bn4.Beta()},
		{Name: "fc2.weight", Tensor: m.fc2.Weight()},
		{Name: "fc2.bias", Tensor: m.fc2.Bias()},
		{Name: "bn5.weight", Tensor: m.bn5.Gamma()},
		{Name: "bn5.bias", Tensor: m.bn5.Beta()},
		{Name: "fc3.weight", Tensor: m.fc3.Weight()},
		{Name: "fc3.bias", Tensor: m.fc3.Bias()},
	}
}

// NamedBuffers lists the batch norm running statistics, which are part
// of a checkpoint but receive no gradients.
func (m *Model) NamedBuffers() []nn.NamedParam {
	return []nn.NamedParam{
		{Name: "bn1.running_mean", Tensor: m.bn1.RunningMean()},
		{Name: "bn1.running_var", Tensor: m.bn1.RunningVar()},
		{Name: "bn2.running_mean", Tensor: m.bn2.RunningMean()},
		{Name: "bn2.running_var", Tensor: m.bn2.RunningVar()},
		{Name: "bn3.running_mean", Tensor: m.bn3.RunningMean()},
		{Name: "bn3.running_var", Tensor: m.bn3.RunningVar()},
		{Name: "bn4.running_mean", Tensor: m.bn4.RunningMean()},
		{Name: "bn4.running_var", Tensor: m.bn4.RunningVar()},
		{Name: "bn5.running_mean", Tensor: m.bn5.RunningMean()},
		{Name: "bn5.running_var", Tensor: m.bn5.RunningVar()},
	}
}

// Conv1Weight exposes the first-layer kernels, shaped
// [conv1Filters, 1, conv1Height, NumBases], for motif analysis.
func (m *Model) Conv1Weight() *tensor.Tensor { return m.conv1.Weight() }

// NumFilters returns the first-layer filter count.
func (m *Model) NumFilters() int { return conv1Filters }

// FilterHeight returns the first-layer kernel height in base pairs.
func (m *Model) FilterHeight() int { return conv1Height }
