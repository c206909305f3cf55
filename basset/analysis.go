package basset

import (
	"fmt"

	"github.com/tsawler/go-basset/tensor"
)

// kernelActivations cross-correlates the first-layer kernels with a
// batch of sequences, without bias or normalization, returning raw
// activations [n, filters, positions] along with the unfolded input
// patches [n, patch, positions].
func (m *Model) kernelActivations(seqs *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if len(seqs.Shape) != 4 || seqs.Shape[1] != 1 || seqs.Shape[3] != NumBases {
		return nil, nil, fmt.Errorf("expected [n 1 seqLen %d] sequences, got %v", NumBases, seqs.Shape)
	}
	cols, err := tensor.Unfold(seqs, conv1Height, NumBases, 1, 1, conv1Height/2, 0)
	if err != nil {
		return nil, nil, err
	}
	wFlat, err := m.conv1.Weight().Reshape([]int{conv1Filters, conv1Height * NumBases})
	if err != nil {
		return nil, nil, err
	}
	n := seqs.Shape[0]
	patch := cols.Shape[1]
	positions := cols.Shape[2]

	acts, err := tensor.New([]int{n, conv1Filters, positions}, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, nil, err
	}
	ad := acts.Data.([]float32)
	cd := cols.Data.([]float32)
	wd := wFlat.Data.([]float32)
	for b := 0; b < n; b++ {
		cb := cd[b*patch*positions : (b+1)*patch*positions]
		ab := ad[b*conv1Filters*positions : (b+1)*conv1Filters*positions]
		for f := 0; f < conv1Filters; f++ {
			wrow := wd[f*patch : (f+1)*patch]
			arow := ab[f*positions : (f+1)*positions]
			for p := 0; p < patch; p++ {
				wv := wrow[p]
				if wv == 0 {
					continue
				}
				crow := cb[p*positions : (p+1)*positions]
				for pos := 0; pos < positions; pos++ {
					arow[pos] += wv * crow[pos]
				}
			}
		}
	}
	return acts, cols, nil
}

// KernelMaxActivations returns, for each first-layer filter, its
// maximum activation over every sequence and position in the batch,
// as a [filters] tensor.
func (m *Model) KernelMaxActivations(seqs *tensor.Tensor) (*tensor.Tensor, error) {
	acts, _, err := m.kernelActivations(seqs)
	if err != nil {
		return nil, err
	}
	n := acts.Shape[0]
	positions := acts.Shape[2]
	ad := acts.Data.([]float32)

	out, err := tensor.New([]int{conv1Filters}, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	od := out.Data.([]float32)
	for f := 0; f < conv1Filters; f++ {
		best := ad[f*positions]
		for b := 0; b < n; b++ {
			row := ad[(b*conv1Filters+f)*positions : (b*conv1Filters+f+1)*positions]
			for _, v := range row {
				if v > best {
					best = v
				}
			}
		}
		od[f] = best
	}
	return out, nil
}

// ActivationCounts accumulates, for each filter, the one-hot input
// windows that activate it above half its maximum activation. The
// result is a [filters, kernelHeight, bases] nucleotide count profile
// suitable for motif inspection.
func (m *Model) ActivationCounts(seqs, maxActivations *tensor.Tensor) (*tensor.Tensor, error) {
	if len(maxActivations.Shape) != 1 || maxActivations.Shape[0] != conv1Filters {
		return nil, fmt.Errorf("expected [%d] max activations, got %v", conv1Filters, maxActivations.Shape)
	}
	acts, cols, err := m.kernelActivations(seqs)
	if err != nil {
		return nil, err
	}
	maxData, err := maxActivations.Float32Data()
	if err != nil {
		return nil, err
	}
	n := acts.Shape[0]
	positions := acts.Shape[2]
	patch := cols.Shape[1]
	ad := acts.Data.([]float32)
	cd := cols.Data.([]float32)

	counts, err := tensor.New([]int{conv1Filters, conv1Height, NumBases}, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	od := counts.Data.([]float32)
	for b := 0; b < n; b++ {
		cb := cd[b*patch*positions : (b+1)*patch*positions]
		for f := 0; f < conv1Filters; f++ {
			threshold := maxData[f] / 2
			arow := ad[(b*conv1Filters+f)*positions : (b*conv1Filters+f+1)*positions]
			dst := od[f*patch : (f+1)*patch]
			for pos, v := range arow {
				if v <= threshold {
					continue
				}
				// the patch column is the window that produced v
				for p := 0; p < patch; p++ {
					dst[p] += cb[p*positions+pos]
				}
			}
		}
	}
	return counts, nil
}
