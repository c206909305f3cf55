package tensor

import (
	"fmt"
	"math"
)

// Float32Data returns the underlying storage of a Float32 tensor.
// The returned slice aliases the tensor's memory.
func (t *Tensor) Float32Data() ([]float32, error) {
	data, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor is %v, not Float32", t.DType)
	}
	return data, nil
}

// Int32Data returns the underlying storage of an Int32 tensor.
func (t *Tensor) Int32Data() ([]int32, error) {
	data, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor is %v, not Int32", t.DType)
	}
	return data, nil
}

// Item returns the value of a single-element Float32 tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a single-element tensor, shape is %v", t.Shape)
	}
	data, err := t.Float32Data()
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// At returns the element at the given multi-dimensional index.
func (t *Tensor) At(indices ...int) (float32, error) {
	offset, err := t.offsetOf(indices)
	if err != nil {
		return 0, err
	}
	data, err := t.Float32Data()
	if err != nil {
		return 0, err
	}
	return data[offset], nil
}

// SetAt stores value at the given multi-dimensional index.
func (t *Tensor) SetAt(value float32, indices ...int) error {
	offset, err := t.offsetOf(indices)
	if err != nil {
		return err
	}
	data, err := t.Float32Data()
	if err != nil {
		return err
	}
	data[offset] = value
	return nil
}

func (t *Tensor) offsetOf(indices []int) (int, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range for dimension %d (size %d)", idx, i, t.Shape[i])
		}
		offset += idx * t.Strides[i]
	}
	return offset, nil
}

// Dim returns the number of dimensions.
func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Numel returns the total number of elements.
func (t *Tensor) Numel() int {
	return t.NumElems
}

// Clone returns a deep copy of the tensor's shape and data. Autograd
// state is not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	out, err := New(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}
	switch t.DType {
	case Float32:
		copy(out.Data.([]float32), t.Data.([]float32))
	case Int32:
		copy(out.Data.([]int32), t.Data.([]int32))
	}
	return out, nil
}

// Reshape returns a view-copy of the tensor with a new shape. One
// dimension may be -1, in which case it is inferred from the element
// count. This is the raw, graph-free reshape; use ReshapeAutograd when
// gradients must flow through.
func (t *Tensor) Reshape(shape []int) (*Tensor, error) {
	resolved, err := resolveShape(shape, t.NumElems)
	if err != nil {
		return nil, err
	}
	out, err := New(resolved, t.DType, t.Device)
	if err != nil {
		return nil, err
	}
	switch t.DType {
	case Float32:
		copy(out.Data.([]float32), t.Data.([]float32))
	case Int32:
		copy(out.Data.([]int32), t.Data.([]int32))
	}
	return out, nil
}

// resolveShape fills in a single -1 dimension given the total element
// count and validates that the shape matches it.
func resolveShape(shape []int, numElems int) ([]int, error) {
	resolved := append([]int{}, shape...)
	inferred := -1
	known := 1
	for i, dim := range resolved {
		switch {
		case dim == -1:
			if inferred != -1 {
				return nil, fmt.Errorf("only one dimension may be -1, shape %v", shape)
			}
			inferred = i
		case dim <= 0:
			return nil, fmt.Errorf("shape dimension %d must be positive or -1, got %d", i, dim)
		default:
			known *= dim
		}
	}
	if inferred >= 0 {
		if known == 0 || numElems%known != 0 {
			return nil, fmt.Errorf("cannot infer dimension %d of shape %v for %d elements", inferred, shape, numElems)
		}
		resolved[inferred] = numElems / known
	} else if known != numElems {
		return nil, fmt.Errorf("shape %v has %d elements, tensor has %d", shape, known, numElems)
	}
	return resolved, nil
}

// Equal reports whether two tensors have the same shape and elements
// within tolerance.
func (t *Tensor) Equal(other *Tensor, tolerance float64) (bool, error) {
	if !sameShape(t.Shape, other.Shape) {
		return false, nil
	}
	a, err := t.Float32Data()
	if err != nil {
		return false, err
	}
	b, err := other.Float32Data()
	if err != nil {
		return false, err
	}
	for i := range a {
		if math.Abs(float64(a[i])-float64(b[i])) > tolerance {
			return false, nil
		}
	}
	return true, nil
}
