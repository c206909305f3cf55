package tensor

import (
	"fmt"
	"math/rand"
)

// Backward seeds the gradient of a single-element tensor with 1 and
// propagates it through the graph that produced it.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("Backward requires a single-element tensor, shape is %v; use BackwardWith", t.Shape)
	}
	seed, err := Ones(t.Shape)
	if err != nil {
		return err
	}
	return t.BackwardWith(seed)
}

// BackwardWith propagates an explicit output gradient through the
// graph, accumulating gradients on every leaf tensor that requires
// them. Gradients from multiple uses of the same tensor are summed.
func (t *Tensor) BackwardWith(grad *Tensor) error {
	if grad == nil {
		return fmt.Errorf("output gradient is nil")
	}
	if !sameShape(grad.Shape, t.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", grad.Shape, t.Shape)
	}
	order := topoOrder(t)
	grads := map[*Tensor]*Tensor{t: grad}
	for _, node := range order {
		g := grads[node]
		if g == nil {
			continue
		}
		if node.creator == nil {
			if node.requiresGrad {
				if err := node.accumulateGrad(g); err != nil {
					return err
				}
			}
			continue
		}
		inputGrads, err := node.creator.Backward(g)
		if err != nil {
			return err
		}
		inputs := node.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
		}
		for i, in := range inputs {
			if in == nil || inputGrads[i] == nil {
				continue
			}
			if existing := grads[in]; existing != nil {
				sum, err := Add(existing, inputGrads[i])
				if err != nil {
					return err
				}
				grads[in] = sum
			} else {
				grads[in] = inputGrads[i]
			}
		}
	}
	return nil
}

func (t *Tensor) accumulateGrad(g *Tensor) error {
	if t.grad == nil {
		clone, err := g.Clone()
		if err != nil {
			return err
		}
		t.grad = clone
		return nil
	}
	sum, err := Add(t.grad, g)
	if err != nil {
		return err
	}
	t.grad = sum
	return nil
}

// topoOrder returns every tensor reachable from root through creator
// edges, ordered so that each tensor precedes all of its inputs.
func topoOrder(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(*Tensor)
	visit = func(n *Tensor) {
		if n == nil || visited[n] {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, n)
	}
	visit(root)
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// addOp: out = a + b with broadcasting.
type addOp struct {
	a, b *Tensor
}

func (op *addOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *addOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	var da, db *Tensor
	var err error
	if op.a.requiresGrad {
		if da, err = reduceToShape(gradOutput, op.a.Shape); err != nil {
			return nil, err
		}
	}
	if op.b.requiresGrad {
		if db, err = reduceToShape(gradOutput, op.b.Shape); err != nil {
			return nil, err
		}
	}
	return []*Tensor{da, db}, nil
}

// AddAutograd is Add with gradient tracking.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Add(a, b)
	if err != nil {
		return nil, err
	}
	if anyRequiresGrad(a, b) {
		out.setCreator(&addOp{a: a, b: b})
	}
	return out, nil
}

// mulOp: out = a * b elementwise with broadcasting.
type mulOp struct {
	a, b *Tensor
}

func (op *mulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *mulOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	var da, db *Tensor
	if op.a.requiresGrad {
		prod, err := Mul(gradOutput, op.b)
		if err != nil {
			return nil, err
		}
		if da, err = reduceToShape(prod, op.a.Shape); err != nil {
			return nil, err
		}
	}
	if op.b.requiresGrad {
		prod, err := Mul(gradOutput, op.a)
		if err != nil {
			return nil, err
		}
		if db, err = reduceToShape(prod, op.b.Shape); err != nil {
			return nil, err
		}
	}
	return []*Tensor{da, db}, nil
}

// MulAutograd is elementwise Mul with gradient tracking.
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	if anyRequiresGrad(a, b) {
		out.setCreator(&mulOp{a: a, b: b})
	}
	return out, nil
}

// matMulOp: out = a x b for 2-D operands.
type matMulOp struct {
	a, b *Tensor
}

func (op *matMulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *matMulOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	m, k := op.a.Shape[0], op.a.Shape[1]
	n := op.b.Shape[1]
	gd, err := gradOutput.Float32Data()
	if err != nil {
		return nil, err
	}
	ad := op.a.Data.([]float32)
	bd := op.b.Data.([]float32)

	var da, db *Tensor
	if op.a.requiresGrad {
		// dA = dOut x bᵀ
		da, err = New([]int{m, k}, Float32, CPU)
		if err != nil {
			return nil, err
		}
		matmulTransBF32(gd, bd, da.Data.([]float32), m, n, k)
	}
	if op.b.requiresGrad {
		// dB = aᵀ x dOut
		db, err = New([]int{k, n}, Float32, CPU)
		if err != nil {
			return nil, err
		}
		matmulTransAF32(ad, gd, db.Data.([]float32), k, m, n)
	}
	return []*Tensor{da, db}, nil
}

// MatMulAutograd is MatMul with gradient tracking.
func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	if anyRequiresGrad(a, b) {
		out.setCreator(&matMulOp{a: a, b: b})
	}
	return out, nil
}

// reluOp masks the gradient where the input was non-positive.
type reluOp struct {
	input *Tensor
}

func (op *reluOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *reluOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	if !op.input.requiresGrad {
		return []*Tensor{nil}, nil
	}
	gd, err := gradOutput.Float32Data()
	if err != nil {
		return nil, err
	}
	xd := op.input.Data.([]float32)
	dx, err := New(op.input.Shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	dd := dx.Data.([]float32)
	for i := range xd {
		if xd[i] > 0 {
			dd[i] = gd[i]
		}
	}
	return []*Tensor{dx}, nil
}

// ReLUAutograd is ReLU with gradient tracking.
func ReLUAutograd(t *Tensor) (*Tensor, error) {
	out, err := ReLU(t)
	if err != nil {
		return nil, err
	}
	if t.requiresGrad {
		out.setCreator(&reluOp{input: t})
	}
	return out, nil
}

// sigmoidOp reuses the saved output: d/dx sigmoid = out * (1 - out).
type sigmoidOp struct {
	input  *Tensor
	output *Tensor
}

func (op *sigmoidOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *sigmoidOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	if !op.input.requiresGrad {
		return []*Tensor{nil}, nil
	}
	gd, err := gradOutput.Float32Data()
	if err != nil {
		return nil, err
	}
	yd := op.output.Data.([]float32)
	dx, err := New(op.input.Shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	dd := dx.Data.([]float32)
	for i := range yd {
		dd[i] = gd[i] * yd[i] * (1 - yd[i])
	}
	return []*Tensor{dx}, nil
}

// SigmoidAutograd is Sigmoid with gradient tracking.
func SigmoidAutograd(t *Tensor) (*Tensor, error) {
	out, err := Sigmoid(t)
	if err != nil {
		return nil, err
	}
	if t.requiresGrad {
		out.setCreator(&sigmoidOp{input: t, output: out})
	}
	return out, nil
}

// reshapeOp routes the gradient back into the original shape.
type reshapeOp struct {
	input *Tensor
}

func (op *reshapeOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *reshapeOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	if !op.input.requiresGrad {
		return []*Tensor{nil}, nil
	}
	dx, err := gradOutput.Reshape(op.input.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{dx}, nil
}

// ReshapeAutograd is Reshape with gradient tracking.
func ReshapeAutograd(t *Tensor, shape []int) (*Tensor, error) {
	out, err := t.Reshape(shape)
	if err != nil {
		return nil, err
	}
	if t.requiresGrad {
		out.setCreator(&reshapeOp{input: t})
	}
	return out, nil
}

// dropoutOp scales surviving elements by 1/(1-p) during the forward
// pass so no rescaling is needed at inference time.
type dropoutOp struct {
	input *Tensor
	mask  []float32
}

func (op *dropoutOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *dropoutOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	if !op.input.requiresGrad {
		return []*Tensor{nil}, nil
	}
	gd, err := gradOutput.Float32Data()
	if err != nil {
		return nil, err
	}
	dx, err := New(op.input.Shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	dd := dx.Data.([]float32)
	for i := range gd {
		dd[i] = gd[i] * op.mask[i]
	}
	return []*Tensor{dx}, nil
}

// DropoutAutograd zeroes each element independently with probability p
// and scales the survivors by 1/(1-p).
func DropoutAutograd(t *Tensor, p float64, rng *rand.Rand) (*Tensor, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %g", p)
	}
	data, err := t.Float32Data()
	if err != nil {
		return nil, err
	}
	out, err := New(t.Shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	od := out.Data.([]float32)
	mask := make([]float32, len(data))
	scale := float32(1 / (1 - p))
	for i := range data {
		if rng.Float64() >= p {
			mask[i] = scale
			od[i] = data[i] * scale
		}
	}
	if t.requiresGrad {
		out.setCreator(&dropoutOp{input: t, mask: mask})
	}
	return out, nil
}
