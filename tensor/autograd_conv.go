package tensor

import (
	"fmt"
)

// conv2dOp implements cross-correlation via im2col: patches are
// unfolded into columns and multiplied by the flattened weight matrix.
// The columns are kept for the backward pass.
type conv2dOp struct {
	input  *Tensor
	weight *Tensor
	bias   *Tensor
	cols   *Tensor

	strideH, strideW int
	padH, padW       int
	outH, outW       int
}

func (op *conv2dOp) Inputs() []*Tensor {
	if op.bias == nil {
		return []*Tensor{op.input, op.weight}
	}
	return []*Tensor{op.input, op.weight, op.bias}
}

func (op *conv2dOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	n := op.input.Shape[0]
	h, w := op.input.Shape[2], op.input.Shape[3]
	outC := op.weight.Shape[0]
	kh, kw := op.weight.Shape[2], op.weight.Shape[3]
	patch := op.weight.Shape[1] * kh * kw
	l := op.outH * op.outW

	gd, err := gradOutput.Float32Data()
	if err != nil {
		return nil, err
	}
	colsData := op.cols.Data.([]float32)
	wd := op.weight.Data.([]float32)

	var dInput, dWeight, dBias *Tensor

	if op.weight.requiresGrad {
		dWeight, err = New(op.weight.Shape, Float32, CPU)
		if err != nil {
			return nil, err
		}
		dwd := dWeight.Data.([]float32)
		for b := 0; b < n; b++ {
			// dW += dOut_b x cols_bᵀ
			matmulTransBF32(gd[b*outC*l:(b+1)*outC*l], colsData[b*patch*l:(b+1)*patch*l], dwd, outC, l, patch)
		}
	}

	if op.bias != nil && op.bias.requiresGrad {
		dBias, err = New(op.bias.Shape, Float32, CPU)
		if err != nil {
			return nil, err
		}
		dbd := dBias.Data.([]float32)
		for b := 0; b < n; b++ {
			for oc := 0; oc < outC; oc++ {
				row := gd[(b*outC+oc)*l : (b*outC+oc+1)*l]
				sum := float32(0)
				for _, v := range row {
					sum += v
				}
				dbd[oc] += sum
			}
		}
	}

	if op.input.requiresGrad {
		dCols, err := New(op.cols.Shape, Float32, CPU)
		if err != nil {
			return nil, err
		}
		dcd := dCols.Data.([]float32)
		for b := 0; b < n; b++ {
			// dCols_b = weightᵀ x dOut_b
			matmulTransAF32(wd, gd[b*outC*l:(b+1)*outC*l], dcd[b*patch*l:(b+1)*patch*l], patch, outC, l)
		}
		dInput, err = Fold(dCols, h, w, kh, kw, op.strideH, op.strideW, op.padH, op.padW)
		if err != nil {
			return nil, err
		}
	}

	grads := []*Tensor{dInput, dWeight}
	if op.bias != nil {
		grads = append(grads, dBias)
	}
	return grads, nil
}

// Conv2DAutograd applies a 2-D cross-correlation of weight
// [outC, inC, kh, kw] over input [n, inC, h, w] with the given stride
// and zero padding. bias may be nil; otherwise it is a [outC] tensor
// added to every output position.
func Conv2DAutograd(input, weight, bias *Tensor, strideH, strideW, padH, padW int) (*Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("conv2d input must be 4-D, got %v", input.Shape)
	}
	if len(weight.Shape) != 4 {
		return nil, fmt.Errorf("conv2d weight must be 4-D, got %v", weight.Shape)
	}
	if input.Shape[1] != weight.Shape[1] {
		return nil, fmt.Errorf("input channels %d do not match weight channels %d", input.Shape[1], weight.Shape[1])
	}
	outC := weight.Shape[0]
	kh, kw := weight.Shape[2], weight.Shape[3]
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != outC) {
		return nil, fmt.Errorf("bias shape %v does not match %d output channels", bias.Shape, outC)
	}

	cols, err := Unfold(input, kh, kw, strideH, strideW, padH, padW)
	if err != nil {
		return nil, err
	}
	n := input.Shape[0]
	patch := cols.Shape[1]
	l := cols.Shape[2]
	outH := convOutputSize(input.Shape[2], kh, strideH, padH)
	outW := convOutputSize(input.Shape[3], kw, strideW, padW)

	out, err := New([]int{n, outC, outH, outW}, Float32, CPU)
	if err != nil {
		return nil, err
	}
	od := out.Data.([]float32)
	colsData := cols.Data.([]float32)
	wd := weight.Data.([]float32)
	for b := 0; b < n; b++ {
		matmulF32(wd, colsData[b*patch*l:(b+1)*patch*l], od[b*outC*l:(b+1)*outC*l], outC, patch, l)
	}
	if bias != nil {
		bd := bias.Data.([]float32)
		for b := 0; b < n; b++ {
			for oc := 0; oc < outC; oc++ {
				row := od[(b*outC+oc)*l : (b*outC+oc+1)*l]
				for i := range row {
					row[i] += bd[oc]
				}
			}
		}
	}

	if anyRequiresGrad(input, weight, bias) {
		out.setCreator(&conv2dOp{
			input: input, weight: weight, bias: bias, cols: cols,
			strideH: strideH, strideW: strideW, padH: padH, padW: padW,
			outH: outH, outW: outW,
		})
	}
	return out, nil
}

// maxPool2dOp remembers, for every output element, the flat input
// index that won the max; the gradient is scattered back there.
type maxPool2dOp struct {
	input  *Tensor
	argmax []int
}

func (op *maxPool2dOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *maxPool2dOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
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
	for i, src := range op.argmax {
		dd[src] += gd[i]
	}
	return []*Tensor{dx}, nil
}

// MaxPool2DAutograd applies non-overlapping max pooling with kernel
// (kh, kw) and stride equal to the kernel.
func MaxPool2DAutograd(input *Tensor, kernelH, kernelW int) (*Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("maxpool input must be 4-D, got %v", input.Shape)
	}
	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	if kernelH <= 0 || kernelW <= 0 {
		return nil, fmt.Errorf("pool kernel must be positive, got (%d,%d)", kernelH, kernelW)
	}
	if h < kernelH || w < kernelW {
		return nil, fmt.Errorf("pool kernel (%d,%d) does not fit input %v", kernelH, kernelW, input.Shape)
	}
	outH := h / kernelH
	outW := w / kernelW

	data, err := input.Float32Data()
	if err != nil {
		return nil, err
	}
	out, err := New([]int{n, c, outH, outW}, Float32, CPU)
	if err != nil {
		return nil, err
	}
	od := out.Data.([]float32)
	argmax := make([]int, out.NumElems)

	oi := 0
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			plane := (b*c + ch) * h * w
			for ph := 0; ph < outH; ph++ {
				for pw := 0; pw < outW; pw++ {
					best := plane + ph*kernelH*w + pw*kernelW
					bestVal := data[best]
					for i := 0; i < kernelH; i++ {
						for j := 0; j < kernelW; j++ {
							idx := plane + (ph*kernelH+i)*w + pw*kernelW + j
							if data[idx] > bestVal {
								bestVal = data[idx]
								best = idx
							}
						}
					}
					od[oi] = bestVal
					argmax[oi] = best
					oi++
				}
			}
		}
	}

	if input.requiresGrad {
		out.setCreator(&maxPool2dOp{input: input, argmax: argmax})
	}
	return out, nil
}
