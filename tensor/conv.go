package tensor

import (
	"fmt"
)

// convOutputSize returns the spatial output size for one dimension.
func convOutputSize(in, kernel, stride, pad int) int {
	return (in+2*pad-kernel)/stride + 1
}

// Unfold extracts sliding kernel-sized patches from a [n, c, h, w]
// tensor into a [n, c*kh*kw, l] tensor, where l is the number of patch
// positions. Patch columns are ordered channel-major, then kernel row,
// then kernel column, matching the layout Conv2DAutograd multiplies
// flattened weights against. Out-of-bounds positions introduced by
// padding read as zero.
func Unfold(t *Tensor, kernelH, kernelW, strideH, strideW, padH, padW int) (*Tensor, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("Unfold requires a 4-D tensor, got %v", t.Shape)
	}
	if kernelH <= 0 || kernelW <= 0 || strideH <= 0 || strideW <= 0 {
		return nil, fmt.Errorf("kernel and stride must be positive")
	}
	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	outH := convOutputSize(h, kernelH, strideH, padH)
	outW := convOutputSize(w, kernelW, strideW, padW)
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("kernel (%d,%d) with padding (%d,%d) does not fit input %v", kernelH, kernelW, padH, padW, t.Shape)
	}
	l := outH * outW
	patch := c * kernelH * kernelW

	data, err := t.Float32Data()
	if err != nil {
		return nil, err
	}
	out, err := New([]int{n, patch, l}, Float32, CPU)
	if err != nil {
		return nil, err
	}
	od := out.Data.([]float32)

	for b := 0; b < n; b++ {
		src := data[b*c*h*w:]
		dst := od[b*patch*l:]
		for ch := 0; ch < c; ch++ {
			for ki := 0; ki < kernelH; ki++ {
				for kj := 0; kj < kernelW; kj++ {
					row := (ch*kernelH+ki)*kernelW + kj
					for oi := 0; oi < outH; oi++ {
						ih := oi*strideH - padH + ki
						if ih < 0 || ih >= h {
							continue
						}
						for oj := 0; oj < outW; oj++ {
							iw := oj*strideW - padW + kj
							if iw < 0 || iw >= w {
								continue
							}
							dst[row*l+oi*outW+oj] = src[(ch*h+ih)*w+iw]
						}
					}
				}
			}
		}
	}
	return out, nil
}

// Fold is the adjoint of Unfold: it accumulates a [n, c*kh*kw, l]
// column tensor back into a [n, c, outH, outW] tensor, summing values
// of overlapping patch positions.
func Fold(t *Tensor, outH, outW, kernelH, kernelW, strideH, strideW, padH, padW int) (*Tensor, error) {
	if len(t.Shape) != 3 {
		return nil, fmt.Errorf("Fold requires a 3-D tensor, got %v", t.Shape)
	}
	patch := kernelH * kernelW
	if t.Shape[1]%patch != 0 {
		return nil, fmt.Errorf("dimension 1 of %v is not divisible by kernel size %dx%d", t.Shape, kernelH, kernelW)
	}
	n, c := t.Shape[0], t.Shape[1]/patch
	posH := convOutputSize(outH, kernelH, strideH, padH)
	posW := convOutputSize(outW, kernelW, strideW, padW)
	if posH*posW != t.Shape[2] {
		return nil, fmt.Errorf("dimension 2 of %v does not match %d patch positions", t.Shape, posH*posW)
	}
	l := t.Shape[2]

	data, err := t.Float32Data()
	if err != nil {
		return nil, err
	}
	out, err := New([]int{n, c, outH, outW}, Float32, CPU)
	if err != nil {
		return nil, err
	}
	od := out.Data.([]float32)

	for b := 0; b < n; b++ {
		src := data[b*c*patch*l:]
		dst := od[b*c*outH*outW:]
		for ch := 0; ch < c; ch++ {
			for ki := 0; ki < kernelH; ki++ {
				for kj := 0; kj < kernelW; kj++ {
					row := (ch*kernelH+ki)*kernelW + kj
					for oi := 0; oi < posH; oi++ {
						ih := oi*strideH - padH + ki
						if ih < 0 || ih >= outH {
							continue
						}
						for oj := 0; oj < posW; oj++ {
							iw := oj*strideW - padW + kj
							if iw < 0 || iw >= outW {
								continue
							}
							dst[(ch*outH+ih)*outW+iw] += src[row*l+oi*posW+oj]
						}
					}
				}
			}
		}
	}
	return out, nil
}
