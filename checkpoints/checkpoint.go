// Package checkpoints saves and restores model weights and training
// state, as JSON or as an ONNX model file.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/go-basset/basset"
	"github.com/tsawler/go-basset/nn"
)

// Format selects the serialization format.
type Format int

const (
	FormatJSON Format = iota
	FormatONNX
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatONNX:
		return "onnx"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// WeightTensor is one named tensor's shape and data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures where a run left off.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	BestValidAUC float64 `json:"best_valid_auc"`
	LearningRate float64 `json:"learning_rate"`
}

// Metadata describes the checkpoint itself.
type Metadata struct {
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Checkpoint is a complete snapshot: every parameter and running
// statistic plus training state.
type Checkpoint struct {
	Weights       []WeightTensor `json:"weights"`
	TrainingState TrainingState  `json:"training_state"`
	Metadata      Metadata       `json:"metadata"`
}

// FromModel snapshots a model's parameters and batch norm buffers.
// Data slices are copied, so later training does not mutate the
// checkpoint.
func FromModel(model *basset.Model, state TrainingState, description string) *Checkpoint {
	c := &Checkpoint{
		TrainingState: state,
		Metadata: Metadata{
			Version:     "1.0",
			CreatedAt:   time.Now().UTC(),
			Description: description,
		},
	}
	for _, np := range model.NamedParameters() {
		c.Weights = append(c.Weights, snapshotParam(np))
	}
	for _, np := range model.NamedBuffers() {
		c.Weights = append(c.Weights, snapshotParam(np))
	}
	return c
}

func snapshotParam(np nn.NamedParam) WeightTensor {
	data, _ := np.Tensor.Float32Data()
	return WeightTensor{
		Name:  np.Name,
		Shape: append([]int{}, np.Tensor.Shape...),
		Data:  append([]float32{}, data...),
	}
}

// Apply copies the checkpoint's weights into model, matching tensors
// by name. Every model tensor must be present with the right shape.
func (c *Checkpoint) Apply(model *basset.Model) error {
	byName := make(map[string]WeightTensor, len(c.Weights))
	for _, w := range c.Weights {
		byName[w.Name] = w
	}
	targets := append(model.NamedParameters(), model.NamedBuffers()...)
	for _, np := range targets {
		w, ok := byName[np.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing tensor %s", np.Name)
		}
		if len(w.Shape) != len(np.Tensor.Shape) {
			return fmt.Errorf("tensor %s has shape %v, model expects %v", np.Name, w.Shape, np.Tensor.Shape)
		}
		for i := range w.Shape {
			if w.Shape[i] != np.Tensor.Shape[i] {
				return fmt.Errorf("tensor %s has shape %v, model expects %v", np.Name, w.Shape, np.Tensor.Shape)
			}
		}
		dst, err := np.Tensor.Float32Data()
		if err != nil {
			return err
		}
		if len(w.Data) != len(dst) {
			return fmt.Errorf("tensor %s has %d values, model expects %d", np.Name, len(w.Data), len(dst))
		}
		copy(dst, w.Data)
	}
	return nil
}

// Saver writes and reads checkpoints in a fixed format.
type Saver struct {
	format Format
}

func NewSaver(format Format) (*Saver, error) {
	switch format {
	case FormatJSON, FormatONNX:
		return &Saver{format: format}, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint format %v", format)
	}
}

// Save writes the checkpoint to path.
func (s *Saver) Save(c *Checkpoint, path string) error {
	var data []byte
	var err error
	switch s.format {
	case FormatJSON:
		if data, err = json.MarshalIndent(c, "", "  "); err != nil {
			return errors.Wrap(err, "encoding checkpoint")
		}
	case FormatONNX:
		if data, err = encodeONNX(c); err != nil {
			return errors.Wrap(err, "encoding ONNX model")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// Load reads a checkpoint from path.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	switch s.format {
	case FormatONNX:
		c, err := decodeONNX(data)
		if err != nil {
			return nil, errors.Wrap(err, "decoding ONNX model")
		}
		return c, nil
	default:
		var c Checkpoint
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, errors.Wrap(err, "decoding checkpoint")
		}
		return &c, nil
	}
}
