package tensor

import (
	"fmt"
	"math"
)

// batchNormOp normalizes over the batch (and any spatial dimensions)
// per feature. xhat and invStd from the forward pass are saved because
// the backward formula needs both.
type batchNormOp struct {
	input  *Tensor
	gamma  *Tensor
	beta   *Tensor
	xhat   []float32
	invStd []float32
}

func (op *batchNormOp) Inputs() []*Tensor { return []*Tensor{op.input, op.gamma, op.beta} }

func (op *batchNormOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	gd, err := gradOutput.Float32Data()
	if err != nil {
		return nil, err
	}
	n := op.input.Shape[0]
	c := op.input.Shape[1]
	spatial := op.input.NumElems / (n * c)
	m := float64(n * spatial)

	dGamma := make([]float64, c)
	dBeta := make([]float64, c)
	for b := 0; b < n; b++ {
		for f := 0; f < c; f++ {
			base := (b*c + f) * spatial
			for s := 0; s < spatial; s++ {
				g := float64(gd[base+s])
				dGamma[f] += g * float64(op.xhat[base+s])
				dBeta[f] += g
			}
		}
	}

	var dgT, dbT, dxT *Tensor
	if op.gamma.requiresGrad {
		dgT, err = New(op.gamma.Shape, Float32, CPU)
		if err != nil {
			return nil, err
		}
		dg := dgT.Data.([]float32)
		for f := 0; f < c; f++ {
			dg[f] = float32(dGamma[f])
		}
	}
	if op.beta.requiresGrad {
		dbT, err = New(op.beta.Shape, Float32, CPU)
		if err != nil {
			return nil, err
		}
		db := dbT.Data.([]float32)
		for f := 0; f < c; f++ {
			db[f] = float32(dBeta[f])
		}
	}

	if op.input.requiresGrad {
		// dx = gamma * invStd * (g - mean(g) - xhat * mean(g * xhat))
		gammaData := op.gamma.Data.([]float32)
		dxT, err = New(op.input.Shape, Float32, CPU)
		if err != nil {
			return nil, err
		}
		dx := dxT.Data.([]float32)
		for b := 0; b < n; b++ {
			for f := 0; f < c; f++ {
				base := (b*c + f) * spatial
				scale := float64(gammaData[f]) * float64(op.invStd[f])
				meanG := dBeta[f] / m
				meanGX := dGamma[f] / m
				for s := 0; s < spatial; s++ {
					i := base + s
					dx[i] = float32(scale * (float64(gd[i]) - meanG - float64(op.xhat[i])*meanGX))
				}
			}
		}
	}
	return []*Tensor{dxT, dgT, dbT}, nil
}

// BatchNormAutograd normalizes input per feature (dimension 1) using
// batch statistics, then applies the affine transform gamma*xhat+beta.
// It returns the output along with the biased batch mean and variance
// so callers can maintain running statistics. Input must have at least
// two dimensions and more than one element per feature.
func BatchNormAutograd(input, gamma, beta *Tensor, eps float64) (*Tensor, *Tensor, *Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, nil, nil, fmt.Errorf("batch norm input must be at least 2-D, got %v", input.Shape)
	}
	n := input.Shape[0]
	c := input.Shape[1]
	spatial := input.NumElems / (n * c)
	if n*spatial < 2 {
		return nil, nil, nil, fmt.Errorf("batch norm needs more than one element per feature, input %v", input.Shape)
	}
	if len(gamma.Shape) != 1 || gamma.Shape[0] != c || len(beta.Shape) != 1 || beta.Shape[0] != c {
		return nil, nil, nil, fmt.Errorf("gamma/beta must be [%d] tensors, got %v and %v", c, gamma.Shape, beta.Shape)
	}
	data, err := input.Float32Data()
	if err != nil {
		return nil, nil, nil, err
	}
	m := float64(n * spatial)

	means := make([]float64, c)
	vars := make([]float64, c)
	for b := 0; b < n; b++ {
		for f := 0; f < c; f++ {
			base := (b*c + f) * spatial
			for s := 0; s < spatial; s++ {
				means[f] += float64(data[base+s])
			}
		}
	}
	for f := 0; f < c; f++ {
		means[f] /= m
	}
	for b := 0; b < n; b++ {
		for f := 0; f < c; f++ {
			base := (b*c + f) * spatial
			for s := 0; s < spatial; s++ {
				d := float64(data[base+s]) - means[f]
				vars[f] += d * d
			}
		}
	}
	for f := 0; f < c; f++ {
		vars[f] /= m
	}

	invStd := make([]float32, c)
	for f := 0; f < c; f++ {
		invStd[f] = float32(1 / math.Sqrt(vars[f]+eps))
	}

	out, err := New(input.Shape, Float32, CPU)
	if err != nil {
		return nil, nil, nil, err
	}
	od := out.Data.([]float32)
	xhat := make([]float32, input.NumElems)
	gammaData := gamma.Data.([]float32)
	betaData := beta.Data.([]float32)
	for b := 0; b < n; b++ {
		for f := 0; f < c; f++ {
			base := (b*c + f) * spatial
			for s := 0; s < spatial; s++ {
				i := base + s
				xh := (data[i] - float32(means[f])) * invStd[f]
				xhat[i] = xh
				od[i] = gammaData[f]*xh + betaData[f]
			}
		}
	}

	meanT, err := New([]int{c}, Float32, CPU)
	if err != nil {
		return nil, nil, nil, err
	}
	varT, err := New([]int{c}, Float32, CPU)
	if err != nil {
		return nil, nil, nil, err
	}
	md := meanT.Data.([]float32)
	vd := varT.Data.([]float32)
	for f := 0; f < c; f++ {
		md[f] = float32(means[f])
		vd[f] = float32(vars[f])
	}

	if anyRequiresGrad(input, gamma, beta) {
		out.setCreator(&batchNormOp{input: input, gamma: gamma, beta: beta, xhat: xhat, invStd: invStd})
	}
	return out, meanT, varT, nil
}

// BatchNormInference normalizes input with fixed statistics instead of
// batch statistics. No gradient graph is built.
func BatchNormInference(input, gamma, beta, mean, variance *Tensor, eps float64) (*Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, fmt.Errorf("batch norm input must be at least 2-D, got %v", input.Shape)
	}
	n := input.Shape[0]
	c := input.Shape[1]
	spatial := input.NumElems / (n * c)
	data, err := input.Float32Data()
	if err != nil {
		return nil, err
	}
	out, err := New(input.Shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	od := out.Data.([]float32)
	gammaData := gamma.Data.([]float32)
	betaData := beta.Data.([]float32)
	meanData := mean.Data.([]float32)
	varData := variance.Data.([]float32)
	for f := 0; f < c; f++ {
		invStd := float32(1 / math.Sqrt(float64(varData[f])+eps))
		for b := 0; b < n; b++ {
			base := (b*c + f) * spatial
			for s := 0; s < spatial; s++ {
				od[base+s] = gammaData[f]*(data[base+s]-meanData[f])*invStd + betaData[f]
			}
		}
	}
	return out, nil
}
