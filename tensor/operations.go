package tensor

import (
	"fmt"
	"math"
)

// broadcastShapes returns the shape two operands broadcast to, aligning
// trailing dimensions; a dimension broadcasts when the sizes match or
// one of them is 1.
func broadcastShapes(a, b []int) ([]int, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		da, db := 1, 1
		if i >= n-len(a) {
			da = a[i-(n-len(a))]
		}
		if i >= n-len(b) {
			db = b[i-(n-len(b))]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", a, b)
		}
	}
	return out, nil
}

// broadcastStrides returns strides for reading a tensor of shape src as
// if it had the broadcast shape dst: broadcast dimensions get stride 0.
func broadcastStrides(src, srcStrides, dst []int) []int {
	out := make([]int, len(dst))
	offset := len(dst) - len(src)
	for i := range dst {
		if i < offset {
			out[i] = 0
			continue
		}
		if src[i-offset] == 1 && dst[i] != 1 {
			out[i] = 0
		} else {
			out[i] = srcStrides[i-offset]
		}
	}
	return out
}

func binaryOp(a, b *Tensor, f func(x, y float32) float32) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("binary ops require Float32 operands, got %v and %v", a.DType, b.DType)
	}
	shape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, err
	}
	out, err := New(shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	ad := a.Data.([]float32)
	bd := b.Data.([]float32)
	od := out.Data.([]float32)

	if sameShape(a.Shape, b.Shape) {
		for i := range od {
			od[i] = f(ad[i], bd[i])
		}
		return out, nil
	}

	as := broadcastStrides(a.Shape, a.Strides, shape)
	bs := broadcastStrides(b.Shape, b.Strides, shape)
	idx := make([]int, len(shape))
	for i := 0; i < out.NumElems; i++ {
		ai, bi := 0, 0
		for d := range shape {
			ai += idx[d] * as[d]
			bi += idx[d] * bs[d]
		}
		od[i] = f(ad[ai], bd[bi])
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

// Add returns a + b with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	return binaryOp(a, b, func(x, y float32) float32 { return x + y })
}

// Sub returns a - b with broadcasting.
func Sub(a, b *Tensor) (*Tensor, error) {
	return binaryOp(a, b, func(x, y float32) float32 { return x - y })
}

// Mul returns the elementwise product a * b with broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	return binaryOp(a, b, func(x, y float32) float32 { return x * y })
}

// Div returns a / b with broadcasting.
func Div(a, b *Tensor) (*Tensor, error) {
	return binaryOp(a, b, func(x, y float32) float32 { return x / y })
}

func unaryOp(t *Tensor, f func(x float32) float32) (*Tensor, error) {
	data, err := t.Float32Data()
	if err != nil {
		return nil, err
	}
	out, err := New(t.Shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	od := out.Data.([]float32)
	for i := range data {
		od[i] = f(data[i])
	}
	return out, nil
}

// Scale returns t multiplied by a scalar.
func Scale(t *Tensor, factor float32) (*Tensor, error) {
	return unaryOp(t, func(x float32) float32 { return x * factor })
}

// AddScalar returns t with a scalar added to every element.
func AddScalar(t *Tensor, value float32) (*Tensor, error) {
	return unaryOp(t, func(x float32) float32 { return x + value })
}

// ReLU returns max(0, x) elementwise.
func ReLU(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(x float32) float32 {
		if x > 0 {
			return x
		}
		return 0
	})
}

// Sigmoid returns 1/(1+exp(-x)) elementwise.
func Sigmoid(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(x float32) float32 {
		return float32(1.0 / (1.0 + math.Exp(-float64(x))))
	})
}

// Exp returns e^x elementwise.
func Exp(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(x float32) float32 { return float32(math.Exp(float64(x))) })
}

// Log returns the elementwise natural logarithm.
func Log(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(x float32) float32 { return float32(math.Log(float64(x))) })
}

// Sqrt returns the elementwise square root.
func Sqrt(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(x float32) float32 { return float32(math.Sqrt(float64(x))) })
}

// Sum reduces the tensor to a single-element tensor holding the sum of
// all elements.
func Sum(t *Tensor) (*Tensor, error) {
	data, err := t.Float32Data()
	if err != nil {
		return nil, err
	}
	total := float64(0)
	for _, v := range data {
		total += float64(v)
	}
	return FromScalar(float32(total)), nil
}

// Mean reduces the tensor to a single-element tensor holding the mean
// of all elements.
func Mean(t *Tensor) (*Tensor, error) {
	s, err := Sum(t)
	if err != nil {
		return nil, err
	}
	return Scale(s, 1/float32(t.NumElems))
}

// reduceToShape sums grad down to shape, undoing broadcasting. It is
// the adjoint of broadcasting a tensor of the given shape up to
// grad.Shape.
func reduceToShape(grad *Tensor, shape []int) (*Tensor, error) {
	if sameShape(grad.Shape, shape) {
		return grad, nil
	}
	out, err := New(shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	gs := broadcastStrides(shape, out.Strides, grad.Shape)
	gd := grad.Data.([]float32)
	od := out.Data.([]float32)
	idx := make([]int, len(grad.Shape))
	for i := 0; i < grad.NumElems; i++ {
		oi := 0
		for d := range grad.Shape {
			oi += idx[d] * gs[d]
		}
		od[oi] += gd[i]
		for d := len(grad.Shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < grad.Shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}
