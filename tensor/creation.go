package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// FromFloat32 creates a Float32 tensor from data, which must contain
// exactly as many elements as shape describes. The slice is copied.
func FromFloat32(data []float32, shape []int) (*Tensor, error) {
	t, err := New(shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	if len(data) != t.NumElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, t.NumElems)
	}
	copy(t.Data.([]float32), data)
	return t, nil
}

// FromInt32 creates an Int32 tensor from data. The slice is copied.
func FromInt32(data []int32, shape []int) (*Tensor, error) {
	t, err := New(shape, Int32, CPU)
	if err != nil {
		return nil, err
	}
	if len(data) != t.NumElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, t.NumElems)
	}
	copy(t.Data.([]int32), data)
	return t, nil
}

// FromScalar wraps a single value in a [1] tensor.
func FromScalar(value float32) *Tensor {
	t, _ := FromFloat32([]float32{value}, []int{1})
	return t
}

// Zeros creates a Float32 tensor filled with zeros.
func Zeros(shape []int) (*Tensor, error) {
	return New(shape, Float32, CPU)
}

// Ones creates a Float32 tensor filled with ones.
func Ones(shape []int) (*Tensor, error) {
	return Full(shape, 1)
}

// Full creates a Float32 tensor with every element set to value.
func Full(shape []int, value float32) (*Tensor, error) {
	t, err := New(shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = value
	}
	return t, nil
}

// Uniform creates a Float32 tensor with elements drawn uniformly from
// [low, high) using rng.
func Uniform(shape []int, low, high float32, rng *rand.Rand) (*Tensor, error) {
	t, err := New(shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	span := high - low
	for i := range data {
		data[i] = low + rng.Float32()*span
	}
	return t, nil
}

// Normal creates a Float32 tensor with elements drawn from a normal
// distribution with the given mean and standard deviation.
func Normal(shape []int, mean, stddev float32, rng *rand.Rand) (*Tensor, error) {
	t, err := New(shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = mean + float32(rng.NormFloat64())*stddev
	}
	return t, nil
}

// XavierUniform creates a Float32 tensor initialized with the Glorot
// uniform scheme for the given fan-in and fan-out.
func XavierUniform(shape []int, fanIn, fanOut int, rng *rand.Rand) (*Tensor, error) {
	if fanIn <= 0 || fanOut <= 0 {
		return nil, fmt.Errorf("fanIn and fanOut must be positive, got %d and %d", fanIn, fanOut)
	}
	bound := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
	return Uniform(shape, -bound, bound, rng)
}
