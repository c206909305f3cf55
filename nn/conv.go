package nn

import (
	"fmt"

	"github.com/tsawler/go-basset/tensor"
)

// Conv2D is a 2-D convolution layer with stride 1 and zero padding.
// Weights are shaped [outChannels, inChannels, kernelH, kernelW].
type Conv2D struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	padH     int
	padW     int
	training bool
}

// NewConv2D creates a convolution layer with Xavier-initialized
// weights and zero bias.
func NewConv2D(inChannels, outChannels, kernelH, kernelW, padH, padW int) (*Conv2D, error) {
	if inChannels <= 0 || outChannels <= 0 {
		return nil, fmt.Errorf("channel counts must be positive, got %d and %d", inChannels, outChannels)
	}
	fanIn := inChannels * kernelH * kernelW
	fanOut := outChannels * kernelH * kernelW
	weight, err := tensor.XavierUniform([]int{outChannels, inChannels, kernelH, kernelW}, fanIn, fanOut, globalRng)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize conv weight: %w", err)
	}
	bias, err := tensor.Zeros([]int{outChannels})
	if err != nil {
		return nil, err
	}
	weight.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)
	return &Conv2D{weight: weight, bias: bias, padH: padH, padW: padW, training: true}, nil
}

func (c *Conv2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Conv2DAutograd(input, c.weight, c.bias, 1, 1, c.padH, c.padW)
}

func (c *Conv2D) Parameters() []*tensor.Tensor { return []*tensor.Tensor{c.weight, c.bias} }
func (c *Conv2D) Train()                       { c.training = true }
func (c *Conv2D) Eval()                        { c.training = false }
func (c *Conv2D) IsTraining() bool             { return c.training }

// Weight exposes the kernel tensor.
func (c *Conv2D) Weight() *tensor.Tensor { return c.weight }

// Bias exposes the bias tensor.
func (c *Conv2D) Bias() *tensor.Tensor { return c.bias }

// MaxPool2D applies non-overlapping max pooling; the stride equals the
// kernel size.
type MaxPool2D struct {
	kernelH  int
	kernelW  int
	training bool
}

func NewMaxPool2D(kernelH, kernelW int) *MaxPool2D {
	return &MaxPool2D{kernelH: kernelH, kernelW: kernelW, training: true}
}

func (m *MaxPool2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.MaxPool2DAutograd(input, m.kernelH, m.kernelW)
}

func (m *MaxPool2D) Parameters() []*tensor.Tensor { return nil }
func (m *MaxPool2D) Train()                       { m.training = true }
func (m *MaxPool2D) Eval()                        { m.training = false }
func (m *MaxPool2D) IsTraining() bool             { return m.training }
