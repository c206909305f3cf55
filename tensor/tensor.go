package tensor

import (
	"fmt"
)

// DType represents the element type of a tensor.
type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return fmt.Sprintf("DType(%d)", int(d))
	}
}

// DeviceType identifies where a tensor's storage lives. Only CPU is
// backed by an implementation; requesting GPU returns an error so that
// callers written against the device API fail loudly instead of
// silently computing on the wrong device.
type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return fmt.Sprintf("DeviceType(%d)", int(d))
	}
}

// Operation is a node in the autograd graph. Inputs returns the tensors
// the forward pass consumed, in a fixed order; Backward maps the
// gradient of the output to one gradient per input (nil for inputs that
// do not require a gradient).
type Operation interface {
	Inputs() []*Tensor
	Backward(gradOutput *Tensor) ([]*Tensor, error)
}

// Tensor is a dense n-dimensional array with optional autograd state.
type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Device   DeviceType
	Data     interface{}
	NumElems int

	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

// New creates a tensor of the given shape filled with zeros.
func New(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if device != CPU {
		return nil, fmt.Errorf("device %v is not available", device)
	}
	n := numElements(shape)
	t := &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  computeStrides(shape),
		DType:    dtype,
		Device:   device,
		NumElems: n,
	}
	switch dtype {
	case Float32:
		t.Data = make([]float32, n)
	case Int32:
		t.Data = make([]int32, n)
	default:
		return nil, fmt.Errorf("unsupported dtype: %v", dtype)
	}
	return t, nil
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("shape cannot be empty")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("shape dimension %d must be positive, got %d", i, dim)
		}
	}
	return nil
}

func numElements(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

// computeStrides returns row-major strides for shape.
func computeStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RequiresGrad reports whether gradients are tracked for this tensor.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad turns gradient tracking on or off.
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil if none exists.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// Creator returns the operation that produced this tensor, or nil for
// leaf tensors.
func (t *Tensor) Creator() Operation {
	return t.creator
}

func (t *Tensor) setCreator(op Operation) {
	t.creator = op
	t.requiresGrad = true
}

// anyRequiresGrad reports whether at least one of the tensors tracks
// gradients. nil entries are ignored.
func anyRequiresGrad(tensors ...*Tensor) bool {
	for _, t := range tensors {
		if t != nil && t.requiresGrad {
			return true
		}
	}
	return false
}

// ToDevice moves the tensor to the given device. Moving to CPU is a
// no-op for CPU tensors; any other target reports that the device is
// unavailable.
func (t *Tensor) ToDevice(device DeviceType) (*Tensor, error) {
	if device == t.Device {
		return t, nil
	}
	return nil, fmt.Errorf("cannot move tensor to %v: device not available", device)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%v, device=%v)", t.Shape, t.DType, t.Device)
}
