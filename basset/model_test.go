package basset

import (
	"testing"

	"github.com/tsawler/go-basset/nn"
	"github.com/tsawler/go-basset/tensor"
	"github.com/tsawler/go-basset/training"
)

func TestModelForward(t *testing.T) {
	nn.SetRandomSeed(21)
	model, err := New()
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}

	t.Run("input validation", func(t *testing.T) {
		bad, _ := tensor.Zeros([]int{2, 1, 500, NumBases})
		if _, err := model.Forward(bad); err == nil {
			t.Error("expected error for wrong sequence length")
		}
		bad2, _ := tensor.Zeros([]int{2, SeqLen, NumBases})
		if _, err := model.Forward(bad2); err == nil {
			t.Error("expected error for 3-D input")
		}
	})

	t.Run("logit shape", func(t *testing.T) {
		input, _ := tensor.Zeros([]int{2, 1, SeqLen, NumBases})
		out, err := model.Forward(input)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		if out.Shape[0] != 2 || out.Shape[1] != NumCellTypes {
			t.Errorf("expected [2 %d] logits, got %v", NumCellTypes, out.Shape)
		}
	})

	t.Run("parameter inventory", func(t *testing.T) {
		if n := len(model.Parameters()); n != 22 {
			t.Errorf("expected 22 parameter tensors, got %d", n)
		}
		if n := len(model.NamedParameters()); n != 22 {
			t.Errorf("expected 22 named parameters, got %d", n)
		}
		if n := len(model.NamedBuffers()); n != 10 {
			t.Errorf("expected 10 running stat buffers, got %d", n)
		}
	})

	t.Run("mode switch propagates", func(t *testing.T) {
		model.Eval()
		if model.IsTraining() {
			t.Error("model should report eval mode")
		}
		model.Train()
		if !model.IsTraining() {
			t.Error("model should report train mode")
		}
	})
}

func TestModelTrainingStep(t *testing.T) {
	nn.SetRandomSeed(22)
	model, err := New()
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	input, _ := tensor.Zeros([]int{2, 1, SeqLen, NumBases})
	// make the two sequences differ so batch norm sees real variance
	id, _ := input.Float32Data()
	for pos := 0; pos < SeqLen; pos++ {
		id[pos*NumBases] = 1                          // sample 0: all A
		id[SeqLen*NumBases+pos*NumBases+pos%NumBases] = 1 // sample 1: cycling
	}
	targets, _ := tensor.Zeros([]int{2, NumCellTypes})

	logits, err := model.Forward(input)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	criterion := training.NewBCEWithLogitsLoss()
	grad, err := criterion.Backward(logits, targets)
	if err != nil {
		t.Fatalf("loss backward failed: %v", err)
	}
	if err := logits.BackwardWith(grad); err != nil {
		t.Fatalf("model backward failed: %v", err)
	}
	for _, np := range model.NamedParameters() {
		if np.Tensor.Grad() == nil {
			t.Errorf("parameter %s received no gradient", np.Name)
		}
	}
}
