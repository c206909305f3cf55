// Package training provides data loading, losses, optimizers and loop
// drivers for training models on batched tensor data.
package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-basset/tensor"
)

// Dataset is a random-access source of (sample, label) tensor pairs.
type Dataset interface {
	Len() int
	Get(index int) (data *tensor.Tensor, label *tensor.Tensor, err error)
}

// Batch is one stacked mini-batch. Data and Labels gain a leading
// batch dimension over the per-sample shapes.
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
	Size   int
}

// DataLoader iterates a Dataset in mini-batches, optionally shuffling
// the sample order on every Reset.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	dropLast  bool
	rng       *rand.Rand

	mu       sync.Mutex
	indices  []int
	position int
}

// NewDataLoader creates a loader over dataset. rng is only consulted
// when shuffle is true; it may be nil otherwise.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*DataLoader, error) {
	if dataset == nil || dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("shuffling requires a random source")
	}
	dl := &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
		indices:   make([]int, dataset.Len()),
	}
	for i := range dl.indices {
		dl.indices[i] = i
	}
	dl.reshuffle()
	return dl, nil
}

// SetDropLast discards a trailing partial batch when enabled.
func (dl *DataLoader) SetDropLast(drop bool) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.dropLast = drop
}

func (dl *DataLoader) reshuffle() {
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Reset rewinds the loader and reshuffles when shuffling is enabled.
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.position = 0
	dl.reshuffle()
}

// HasNext reports whether another batch is available.
func (dl *DataLoader) HasNext() bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	remaining := len(dl.indices) - dl.position
	if dl.dropLast {
		return remaining >= dl.batchSize
	}
	return remaining > 0
}

// Next returns the next batch.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	remaining := len(dl.indices) - dl.position
	if remaining <= 0 || (dl.dropLast && remaining < dl.batchSize) {
		return nil, fmt.Errorf("data loader is exhausted; call Reset")
	}
	count := dl.batchSize
	if count > remaining {
		count = remaining
	}
	batch, err := dl.loadBatch(dl.indices[dl.position : dl.position+count])
	if err != nil {
		return nil, err
	}
	dl.position += count
	return batch, nil
}

// NumBatches returns the number of batches one pass produces.
func (dl *DataLoader) NumBatches() int {
	n := len(dl.indices)
	if dl.dropLast {
		return n / dl.batchSize
	}
	return (n + dl.batchSize - 1) / dl.batchSize
}

// NumSamples returns the dataset size.
func (dl *DataLoader) NumSamples() int { return len(dl.indices) }

// BatchSize returns the configured batch size.
func (dl *DataLoader) BatchSize() int { return dl.batchSize }

// loadBatch stacks the given samples along a new leading dimension.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	first, firstLabel, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("loading sample %d: %w", indices[0], err)
	}
	data, err := tensor.New(append([]int{len(indices)}, first.Shape...), tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	labels, err := tensor.New(append([]int{len(indices)}, firstLabel.Shape...), tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	if err := copySample(data, 0, first); err != nil {
		return nil, err
	}
	if err := copySample(labels, 0, firstLabel); err != nil {
		return nil, err
	}
	for i, idx := range indices[1:] {
		sample, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("loading sample %d: %w", idx, err)
		}
		if err := copySample(data, i+1, sample); err != nil {
			return nil, err
		}
		if err := copySample(labels, i+1, label); err != nil {
			return nil, err
		}
	}
	return &Batch{Data: data, Labels: labels, Size: len(indices)}, nil
}

func copySample(dst *tensor.Tensor, slot int, src *tensor.Tensor) error {
	srcData, err := src.Float32Data()
	if err != nil {
		return err
	}
	stride := dst.NumElems / dst.Shape[0]
	if len(srcData) != stride {
		return fmt.Errorf("sample has %d elements, batch slot holds %d", len(srcData), stride)
	}
	dstData := dst.Data.([]float32)
	copy(dstData[slot*stride:(slot+1)*stride], srcData)
	return nil
}

// SimpleDataset is an in-memory Dataset over parallel tensor slices.
type SimpleDataset struct {
	samples []*tensor.Tensor
	labels  []*tensor.Tensor
}

// NewSimpleDataset pairs samples with labels. The slices must have the
// same length.
func NewSimpleDataset(samples, labels []*tensor.Tensor) (*SimpleDataset, error) {
	if len(samples) != len(labels) {
		return nil, fmt.Errorf("sample and label counts differ: %d vs %d", len(samples), len(labels))
	}
	return &SimpleDataset{samples: samples, labels: labels}, nil
}

func (d *SimpleDataset) Len() int { return len(d.samples) }

func (d *SimpleDataset) Get(index int) (*tensor.Tensor, *tensor.Tensor, error) {
	if index < 0 || index >= len(d.samples) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", index, len(d.samples))
	}
	return d.samples[index], d.labels[index], nil
}
