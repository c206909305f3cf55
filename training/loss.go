package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-basset/tensor"
)

// Loss computes a scalar loss and its gradient with respect to the
// predictions. Backward returns the gradient tensor to seed the
// model's backward pass with.
type Loss interface {
	Forward(predictions, targets *tensor.Tensor) (float64, error)
	Backward(predictions, targets *tensor.Tensor) (*tensor.Tensor, error)
}

func lossOperands(predictions, targets *tensor.Tensor) ([]float32, []float32, error) {
	p, err := predictions.Float32Data()
	if err != nil {
		return nil, nil, err
	}
	t, err := targets.Float32Data()
	if err != nil {
		return nil, nil, err
	}
	if len(p) != len(t) {
		return nil, nil, fmt.Errorf("prediction shape %v does not match target shape %v", predictions.Shape, targets.Shape)
	}
	return p, t, nil
}

// BCEWithLogitsLoss is binary cross-entropy on raw logits, averaged
// over every element. The forward pass uses the stable formulation
// max(x, 0) - x*y + log(1 + exp(-|x|)).
type BCEWithLogitsLoss struct{}

func NewBCEWithLogitsLoss() *BCEWithLogitsLoss { return &BCEWithLogitsLoss{} }

func (l *BCEWithLogitsLoss) Forward(predictions, targets *tensor.Tensor) (float64, error) {
	p, t, err := lossOperands(predictions, targets)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for i := range p {
		x := float64(p[i])
		y := float64(t[i])
		total += math.Max(x, 0) - x*y + math.Log1p(math.Exp(-math.Abs(x)))
	}
	return total / float64(len(p)), nil
}

func (l *BCEWithLogitsLoss) Backward(predictions, targets *tensor.Tensor) (*tensor.Tensor, error) {
	p, t, err := lossOperands(predictions, targets)
	if err != nil {
		return nil, err
	}
	grad, err := tensor.New(predictions.Shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	gd := grad.Data.([]float32)
	n := float64(len(p))
	for i := range p {
		sigma := 1 / (1 + math.Exp(-float64(p[i])))
		gd[i] = float32((sigma - float64(t[i])) / n)
	}
	return grad, nil
}

// MSELoss is mean squared error over every element.
type MSELoss struct{}

func NewMSELoss() *MSELoss { return &MSELoss{} }

func (l *MSELoss) Forward(predictions, targets *tensor.Tensor) (float64, error) {
	p, t, err := lossOperands(predictions, targets)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for i := range p {
		d := float64(p[i]) - float64(t[i])
		total += d * d
	}
	return total / float64(len(p)), nil
}

func (l *MSELoss) Backward(predictions, targets *tensor.Tensor) (*tensor.Tensor, error) {
	p, t, err := lossOperands(predictions, targets)
	if err != nil {
		return nil, err
	}
	grad, err := tensor.New(predictions.Shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	gd := grad.Data.([]float32)
	n := float32(len(p))
	for i := range p {
		gd[i] = 2 * (p[i] - t[i]) / n
	}
	return grad, nil
}
