// Package dataset reads one-hot encoded DNA sequence data and
// per-sequence accessibility targets from Basset-style HDF5 files.
package dataset

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/hdf5"

	"github.com/tsawler/go-basset/tensor"
)

// Split selects which pair of HDF5 datasets to read.
type Split string

const (
	Train Split = "train"
	Valid Split = "valid"
	Test  Split = "test"
)

// AlphabetSize is the number of DNA bases in the one-hot encoding.
const AlphabetSize = 4

// datasetNames maps a split to its (input, target) dataset names.
func datasetNames(split Split) (string, string, error) {
	switch split {
	case Train:
		return "train_in", "train_out", nil
	case Valid:
		return "valid_in", "valid_out", nil
	case Test:
		return "test_in", "test_out", nil
	default:
		return "", "", fmt.Errorf("unknown split %q (want train, valid or test)", split)
	}
}

// BassetDataset is random access over one split of a Basset HDF5 file.
// Inputs are stored as [n, 4, 1, seqLen] one-hot arrays; Get returns
// them transposed to [1, seqLen, 4]. It implements training.Dataset.
type BassetDataset struct {
	file    *hdf5.File
	inputs  *hdf5.Dataset
	targets *hdf5.Dataset

	numSamples int
	seqLen     int
	numTargets int
}

// Open opens one split of the file at path. The caller owns the
// returned dataset and must Close it.
func Open(path string, split Split) (*BassetDataset, error) {
	inName, outName, err := datasetNames(split)
	if err != nil {
		return nil, err
	}
	file, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	d := &BassetDataset{file: file}
	if d.inputs, err = file.OpenDataset(inName); err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "opening dataset %s", inName)
	}
	if d.targets, err = file.OpenDataset(outName); err != nil {
		d.inputs.Close()
		file.Close()
		return nil, errors.Wrapf(err, "opening dataset %s", outName)
	}
	if err := d.readExtents(inName, outName); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *BassetDataset) readExtents(inName, outName string) error {
	inSpace := d.inputs.Space()
	defer inSpace.Close()
	inDims, _, err := inSpace.SimpleExtentDims()
	if err != nil {
		return errors.Wrapf(err, "reading extent of %s", inName)
	}
	if len(inDims) != 4 || inDims[1] != AlphabetSize || inDims[2] != 1 {
		return fmt.Errorf("%s has dimensions %v, want [n %d 1 seqLen]", inName, inDims, AlphabetSize)
	}

	outSpace := d.targets.Space()
	defer outSpace.Close()
	outDims, _, err := outSpace.SimpleExtentDims()
	if err != nil {
		return errors.Wrapf(err, "reading extent of %s", outName)
	}
	if len(outDims) != 2 {
		return fmt.Errorf("%s has dimensions %v, want [n targets]", outName, outDims)
	}
	if inDims[0] != outDims[0] {
		return fmt.Errorf("input rows %d do not match target rows %d", inDims[0], outDims[0])
	}

	d.numSamples = int(inDims[0])
	d.seqLen = int(inDims[3])
	d.numTargets = int(outDims[1])
	return nil
}

// Len returns the number of sequences in the split.
func (d *BassetDataset) Len() int { return d.numSamples }

// SeqLen returns the sequence length, taken from the last input
// dimension.
func (d *BassetDataset) SeqLen() int { return d.seqLen }

// NumTargets returns the number of accessibility targets per sequence.
func (d *BassetDataset) NumTargets() int { return d.numTargets }

// Get reads sequence index as a [1, seqLen, 4] float32 tensor and its
// targets as a [numTargets] float32 tensor. Stored half-precision
// values are widened by the HDF5 library on read.
func (d *BassetDataset) Get(index int) (*tensor.Tensor, *tensor.Tensor, error) {
	if index < 0 || index >= d.numSamples {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", index, d.numSamples)
	}

	raw := make([]float32, AlphabetSize*d.seqLen)
	if err := d.readRow(d.inputs, index, []uint{1, AlphabetSize, 1, uint(d.seqLen)}, &raw); err != nil {
		return nil, nil, errors.Wrapf(err, "reading sequence %d", index)
	}
	seq, err := tensor.FromFloat32(transposeOneHot(raw, d.seqLen), []int{1, d.seqLen, AlphabetSize})
	if err != nil {
		return nil, nil, err
	}

	targets := make([]float32, d.numTargets)
	if err := d.readRow(d.targets, index, []uint{1, uint(d.numTargets)}, &targets); err != nil {
		return nil, nil, errors.Wrapf(err, "reading targets %d", index)
	}
	label, err := tensor.FromFloat32(targets, []int{d.numTargets})
	if err != nil {
		return nil, nil, err
	}
	return seq, label, nil
}

// readRow selects row index of src with a hyperslab and reads it into
// buf.
func (d *BassetDataset) readRow(src *hdf5.Dataset, index int, count []uint, buf interface{}) error {
	filespace := src.Space()
	defer filespace.Close()
	offset := make([]uint, len(count))
	offset[0] = uint(index)
	if err := filespace.SelectHyperslab(offset, nil, count, nil); err != nil {
		return err
	}
	memspace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return err
	}
	defer memspace.Close()
	return src.ReadSubset(buf, memspace, filespace)
}

// transposeOneHot rearranges a stored [4, 1, seqLen] one-hot block
// into [seqLen, 4] order: position-major, base-minor.
func transposeOneHot(raw []float32, seqLen int) []float32 {
	out := make([]float32, len(raw))
	for base := 0; base < AlphabetSize; base++ {
		for pos := 0; pos < seqLen; pos++ {
			out[pos*AlphabetSize+base] = raw[base*seqLen+pos]
		}
	}
	return out
}

// TargetLabels reads the target_labels dataset when the file carries
// one.
func (d *BassetDataset) TargetLabels() ([]string, error) {
	return d.readStrings("target_labels", d.numTargets)
}

// Headers reads the per-sample identifiers of the test split. Only
// test files carry a test_headers dataset.
func (d *BassetDataset) Headers() ([]string, error) {
	return d.readStrings("test_headers", d.numSamples)
}

func (d *BassetDataset) readStrings(name string, n int) ([]string, error) {
	ds, err := d.file.OpenDataset(name)
	if err != nil {
		return nil, errors.Wrapf(err, "file has no %s dataset", name)
	}
	defer ds.Close()
	out := make([]string, n)
	if err := ds.Read(&out); err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	return out, nil
}

// Close releases the underlying HDF5 handles.
func (d *BassetDataset) Close() error {
	var first error
	if d.inputs != nil {
		if err := d.inputs.Close(); err != nil && first == nil {
			first = err
		}
	}
	if d.targets != nil {
		if err := d.targets.Close(); err != nil && first == nil {
			first = err
		}
	}
	if d.file != nil {
		if err := d.file.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
