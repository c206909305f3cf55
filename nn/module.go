// Package nn provides neural network layers built on the tensor
// package's autograd operations.
package nn

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/tsawler/go-basset/tensor"
)

// globalRng seeds parameter initialization and dropout masks. Call
// SetRandomSeed before building models for reproducible runs.
var globalRng = rand.New(rand.NewSource(time.Now().UnixNano()))

// SetRandomSeed makes initialization and dropout deterministic.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module is a trainable component with a forward pass and a
// train/eval mode switch.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
}

// NamedParam pairs a parameter tensor with a stable name for
// checkpointing.
type NamedParam struct {
	Name   string
	Tensor *tensor.Tensor
}

// Linear is a fully connected layer: output = input x weight + bias.
type Linear struct {
	weight   *tensor.Tensor // [inFeatures, outFeatures]
	bias     *tensor.Tensor // [outFeatures]
	training bool
}

// NewLinear creates a fully connected layer with Xavier-initialized
// weights and zero bias.
func NewLinear(inFeatures, outFeatures int) (*Linear, error) {
	weight, err := tensor.XavierUniform([]int{inFeatures, outFeatures}, inFeatures, outFeatures, globalRng)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize linear weight: %w", err)
	}
	bias, err := tensor.Zeros([]int{outFeatures})
	if err != nil {
		return nil, err
	}
	weight.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)
	return &Linear{weight: weight, bias: bias, training: true}, nil
}

func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("linear layer expects 2-D input, got %v", input.Shape)
	}
	if input.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("input features %d do not match layer features %d", input.Shape[1], l.weight.Shape[0])
	}
	out, err := tensor.MatMulAutograd(input, l.weight)
	if err != nil {
		return nil, err
	}
	return tensor.AddAutograd(out, l.bias)
}

func (l *Linear) Parameters() []*tensor.Tensor { return []*tensor.Tensor{l.weight, l.bias} }
func (l *Linear) Train()                       { l.training = true }
func (l *Linear) Eval()                        { l.training = false }
func (l *Linear) IsTraining() bool             { return l.training }

// Weight exposes the weight tensor, shaped [inFeatures, outFeatures].
func (l *Linear) Weight() *tensor.Tensor { return l.weight }

// Bias exposes the bias tensor.
func (l *Linear) Bias() *tensor.Tensor { return l.bias }

// ReLU applies max(0, x) elementwise.
type ReLU struct {
	training bool
}

func NewReLU() *ReLU { return &ReLU{training: true} }

func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ReLUAutograd(input)
}

func (r *ReLU) Parameters() []*tensor.Tensor { return nil }
func (r *ReLU) Train()                       { r.training = true }
func (r *ReLU) Eval()                        { r.training = false }
func (r *ReLU) IsTraining() bool             { return r.training }

// Flatten collapses everything after the batch dimension.
type Flatten struct {
	training bool
}

func NewFlatten() *Flatten { return &Flatten{training: true} }

func (f *Flatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, fmt.Errorf("flatten expects at least 2-D input, got %v", input.Shape)
	}
	return tensor.ReshapeAutograd(input, []int{input.Shape[0], -1})
}

func (f *Flatten) Parameters() []*tensor.Tensor { return nil }
func (f *Flatten) Train()                       { f.training = true }
func (f *Flatten) Eval()                        { f.training = false }
func (f *Flatten) IsTraining() bool             { return f.training }

// Dropout zeroes activations with probability p during training and is
// the identity in eval mode.
type Dropout struct {
	p        float64
	training bool
}

func NewDropout(p float64) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %g", p)
	}
	return &Dropout{p: p, training: true}, nil
}

func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.p == 0 {
		return input, nil
	}
	return tensor.DropoutAutograd(input, d.p, globalRng)
}

func (d *Dropout) Parameters() []*tensor.Tensor { return nil }
func (d *Dropout) Train()                       { d.training = true }
func (d *Dropout) Eval()                        { d.training = false }
func (d *Dropout) IsTraining() bool             { return d.training }

// Sequential chains modules in order.
type Sequential struct {
	layers   []Module
	training bool
}

func NewSequential(layers ...Module) *Sequential {
	return &Sequential{layers: layers, training: true}
}

func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	var err error
	for i, layer := range s.layers {
		if out, err = layer.Forward(out); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return out, nil
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, layer := range s.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

func (s *Sequential) Train() {
	s.training = true
	for _, layer := range s.layers {
		layer.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, layer := range s.layers {
		layer.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }

// Layers exposes the contained modules in order.
func (s *Sequential) Layers() []Module { return s.layers }
