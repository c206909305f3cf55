package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-basset/tensor"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
}

// SGD is stochastic gradient descent with optional momentum, weight
// decay and Nesterov acceleration.
type SGD struct {
	params      []*tensor.Tensor
	lr          float64
	momentum    float64
	weightDecay float64
	nesterov    bool
	velocities  map[*tensor.Tensor][]float32
}

// SGDConfig configures NewSGD. The zero value of every field except LR
// is valid.
type SGDConfig struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
	Nesterov    bool
}

func NewSGD(params []*tensor.Tensor, config SGDConfig) (*SGD, error) {
	if config.LR <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LR)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires a momentum factor")
	}
	return &SGD{
		params:      params,
		lr:          config.LR,
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		nesterov:    config.Nesterov,
		velocities:  make(map[*tensor.Tensor][]float32),
	}, nil
}

func (o *SGD) Step() error {
	for _, p := range o.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		gd, err := grad.Float32Data()
		if err != nil {
			return err
		}
		pd, err := p.Float32Data()
		if err != nil {
			return err
		}
		v := o.velocities[p]
		if o.momentum != 0 && v == nil {
			v = make([]float32, len(pd))
			o.velocities[p] = v
		}
		lr := float32(o.lr)
		mu := float32(o.momentum)
		wd := float32(o.weightDecay)
		for i := range pd {
			g := gd[i] + wd*pd[i]
			if o.momentum != 0 {
				v[i] = mu*v[i] + g
				if o.nesterov {
					g += mu * v[i]
				} else {
					g = v[i]
				}
			}
			pd[i] -= lr * g
		}
	}
	return nil
}

func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

func (o *SGD) GetLR() float64   { return o.lr }
func (o *SGD) SetLR(lr float64) { o.lr = lr }

// Adam implements the Adam optimizer with bias-corrected first and
// second moment estimates.
type Adam struct {
	params      []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int
	m           map[*tensor.Tensor][]float32
	v           map[*tensor.Tensor][]float32
}

// AdamConfig configures NewAdam. Zero Beta1/Beta2/Eps fall back to the
// usual defaults 0.9, 0.999 and 1e-8.
type AdamConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
}

func NewAdam(params []*tensor.Tensor, config AdamConfig) (*Adam, error) {
	if config.LR <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LR)
	}
	if config.Beta1 == 0 {
		config.Beta1 = 0.9
	}
	if config.Beta2 == 0 {
		config.Beta2 = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		params:      params,
		lr:          config.LR,
		beta1:       config.Beta1,
		beta2:       config.Beta2,
		eps:         config.Eps,
		weightDecay: config.WeightDecay,
		m:           make(map[*tensor.Tensor][]float32),
		v:           make(map[*tensor.Tensor][]float32),
	}, nil
}

func (o *Adam) Step() error {
	o.step++
	bc1 := 1 - math.Pow(o.beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.beta2, float64(o.step))
	for _, p := range o.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		gd, err := grad.Float32Data()
		if err != nil {
			return err
		}
		pd, err := p.Float32Data()
		if err != nil {
			return err
		}
		m := o.m[p]
		v := o.v[p]
		if m == nil {
			m = make([]float32, len(pd))
			v = make([]float32, len(pd))
			o.m[p] = m
			o.v[p] = v
		}
		for i := range pd {
			g := float64(gd[i]) + o.weightDecay*float64(pd[i])
			m[i] = float32(o.beta1*float64(m[i]) + (1-o.beta1)*g)
			v[i] = float32(o.beta2*float64(v[i]) + (1-o.beta2)*g*g)
			mHat := float64(m[i]) / bc1
			vHat := float64(v[i]) / bc2
			pd[i] -= float32(o.lr * mHat / (math.Sqrt(vHat) + o.eps))
		}
	}
	return nil
}

func (o *Adam) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

func (o *Adam) GetLR() float64   { return o.lr }
func (o *Adam) SetLR(lr float64) { o.lr = lr }
