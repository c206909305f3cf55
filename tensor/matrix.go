package tensor

import (
	"fmt"
)

// MatMul multiplies two 2-D tensors: [m, k] x [k, n] -> [m, n].
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2-D tensors, got %v and %v", a.Shape, b.Shape)
	}
	m, k := a.Shape[0], a.Shape[1]
	k2, n := b.Shape[0], b.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("MatMul inner dimensions do not match: %v x %v", a.Shape, b.Shape)
	}
	ad, err := a.Float32Data()
	if err != nil {
		return nil, err
	}
	bd, err := b.Float32Data()
	if err != nil {
		return nil, err
	}
	out, err := New([]int{m, n}, Float32, CPU)
	if err != nil {
		return nil, err
	}
	matmulF32(ad, bd, out.Data.([]float32), m, k, n)
	return out, nil
}

// matmulF32 computes c = a x b for row-major matrices a [m,k], b [k,n],
// c [m,n]. It accumulates into c, which must be zeroed by the caller.
func matmulF32(a, b, c []float32, m, k, n int) {
	for i := 0; i < m; i++ {
		arow := a[i*k : (i+1)*k]
		crow := c[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := arow[p]
			if av == 0 {
				continue
			}
			brow := b[p*n : (p+1)*n]
			for j := 0; j < n; j++ {
				crow[j] += av * brow[j]
			}
		}
	}
}

// matmulTransAF32 computes c = aᵀ x b for a [k,m], b [k,n], c [m,n],
// accumulating into c.
func matmulTransAF32(a, b, c []float32, m, k, n int) {
	for p := 0; p < k; p++ {
		arow := a[p*m : (p+1)*m]
		brow := b[p*n : (p+1)*n]
		for i := 0; i < m; i++ {
			av := arow[i]
			if av == 0 {
				continue
			}
			crow := c[i*n : (i+1)*n]
			for j := 0; j < n; j++ {
				crow[j] += av * brow[j]
			}
		}
	}
}

// matmulTransBF32 computes c = a x bᵀ for a [m,k], b [n,k], c [m,n],
// accumulating into c.
func matmulTransBF32(a, b, c []float32, m, k, n int) {
	for i := 0; i < m; i++ {
		arow := a[i*k : (i+1)*k]
		crow := c[i*n : (i+1)*n]
		for j := 0; j < n; j++ {
			brow := b[j*k : (j+1)*k]
			sum := float32(0)
			for p := 0; p < k; p++ {
				sum += arow[p] * brow[p]
			}
			crow[j] += sum
		}
	}
}

// Transpose returns the transpose of a 2-D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Transpose requires a 2-D tensor, got %v", t.Shape)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	data, err := t.Float32Data()
	if err != nil {
		return nil, err
	}
	out, err := New([]int{cols, rows}, Float32, CPU)
	if err != nil {
		return nil, err
	}
	od := out.Data.([]float32)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			od[j*rows+i] = data[i*cols+j]
		}
	}
	return out, nil
}

// Flatten reshapes [n, d1, d2, ...] into [n, d1*d2*...]. Tensors that
// are already 1-D become [1, n].
func Flatten(t *Tensor) (*Tensor, error) {
	if len(t.Shape) == 1 {
		return t.Reshape([]int{1, t.Shape[0]})
	}
	return t.Reshape([]int{t.Shape[0], t.NumElems / t.Shape[0]})
}
