package checkpoints

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/tsawler/go-basset/basset"
	"github.com/tsawler/go-basset/nn"
)

func sampleCheckpoint() *Checkpoint {
	return &Checkpoint{
		Weights: []WeightTensor{
			{Name: "fc.weight", Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}},
			{Name: "fc.bias", Shape: []int{3}, Data: []float32{-1, 0, 0.5}},
		},
		TrainingState: TrainingState{Epoch: 7, BestValidAUC: 0.8125, LearningRate: 0.001},
		Metadata:      Metadata{Version: "1.0", CreatedAt: time.Now().UTC()},
	}
}

func checkRoundTrip(t *testing.T, format Format) {
	t.Helper()
	saver, err := NewSaver(format)
	if err != nil {
		t.Fatalf("failed to create saver: %v", err)
	}
	original := sampleCheckpoint()
	path := filepath.Join(t.TempDir(), "model."+format.String())
	if err := saver.Save(original, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := saver.Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if len(loaded.Weights) != len(original.Weights) {
		t.Fatalf("expected %d tensors, got %d", len(original.Weights), len(loaded.Weights))
	}
	for i, w := range original.Weights {
		got := loaded.Weights[i]
		if got.Name != w.Name {
			t.Errorf("tensor %d: expected name %s, got %s", i, w.Name, got.Name)
		}
		if len(got.Shape) != len(w.Shape) {
			t.Fatalf("tensor %s: shape %v vs %v", w.Name, got.Shape, w.Shape)
		}
		for j := range w.Shape {
			if got.Shape[j] != w.Shape[j] {
				t.Errorf("tensor %s: shape %v vs %v", w.Name, got.Shape, w.Shape)
			}
		}
		for j := range w.Data {
			if got.Data[j] != w.Data[j] {
				t.Errorf("tensor %s element %d: expected %g, got %g", w.Name, j, w.Data[j], got.Data[j])
			}
		}
	}
	if loaded.TrainingState != original.TrainingState {
		t.Errorf("training state %+v does not match %+v", loaded.TrainingState, original.TrainingState)
	}
}

func TestJSONRoundTrip(t *testing.T) { checkRoundTrip(t, FormatJSON) }

func TestONNXRoundTrip(t *testing.T) { checkRoundTrip(t, FormatONNX) }

func TestSaverValidation(t *testing.T) {
	if _, err := NewSaver(Format(99)); err == nil {
		t.Error("expected error for unknown format")
	}
	saver, _ := NewSaver(FormatJSON)
	if _, err := saver.Load("/nonexistent/checkpoint.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestONNXRejectsGarbage(t *testing.T) {
	if _, err := decodeONNX([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("expected error for malformed data")
	}
}

func TestModelSnapshotAndRestore(t *testing.T) {
	nn.SetRandomSeed(31)
	model, err := basset.New()
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	ckpt := FromModel(model, TrainingState{Epoch: 3, BestValidAUC: 0.75, LearningRate: 0.01}, "mid-run snapshot")

	// parameters plus running stats
	if len(ckpt.Weights) != 32 {
		t.Fatalf("expected 32 tensors, got %d", len(ckpt.Weights))
	}

	// perturb the model, then restore
	wd, _ := model.Conv1Weight().Float32Data()
	before := wd[0]
	wd[0] = before + 42

	if err := ckpt.Apply(model); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	wd, _ = model.Conv1Weight().Float32Data()
	if math.Abs(float64(wd[0]-before)) > 1e-7 {
		t.Errorf("expected restored value %g, got %g", before, wd[0])
	}

	t.Run("missing tensor", func(t *testing.T) {
		broken := &Checkpoint{Weights: ckpt.Weights[1:]}
		if err := broken.Apply(model); err == nil {
			t.Error("expected error for missing tensor")
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		broken := FromModel(model, TrainingState{}, "")
		broken.Weights[0].Shape = []int{1, 2}
		broken.Weights[0].Data = []float32{0, 0}
		if err := broken.Apply(model); err == nil {
			t.Error("expected error for shape mismatch")
		}
	})
}
