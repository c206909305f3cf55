package nn

import (
	"math"
	"testing"

	"github.com/tsawler/go-basset/tensor"
)

func TestLinear(t *testing.T) {
	SetRandomSeed(42)

	t.Run("output shape", func(t *testing.T) {
		layer, err := NewLinear(3, 2)
		if err != nil {
			t.Fatalf("failed to create layer: %v", err)
		}
		input, _ := tensor.Zeros([]int{5, 3})
		out, err := layer.Forward(input)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		if out.Shape[0] != 5 || out.Shape[1] != 2 {
			t.Errorf("expected shape [5 2], got %v", out.Shape)
		}
	})

	t.Run("known weights", func(t *testing.T) {
		layer, _ := NewLinear(2, 1)
		copy(layer.Weight().Data.([]float32), []float32{2, 3})
		copy(layer.Bias().Data.([]float32), []float32{1})
		input, _ := tensor.FromFloat32([]float32{4, 5}, []int{1, 2})
		out, err := layer.Forward(input)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		// 4*2 + 5*3 + 1 = 24
		if v, _ := out.Item(); v != 24 {
			t.Errorf("expected 24, got %g", v)
		}
	})

	t.Run("feature mismatch", func(t *testing.T) {
		layer, _ := NewLinear(3, 2)
		input, _ := tensor.Zeros([]int{1, 4})
		if _, err := layer.Forward(input); err == nil {
			t.Error("expected error for feature mismatch")
		}
	})

	t.Run("gradient flows to parameters", func(t *testing.T) {
		layer, _ := NewLinear(2, 1)
		input, _ := tensor.FromFloat32([]float32{1, 2}, []int{1, 2})
		out, _ := layer.Forward(input)
		if err := out.Backward(); err != nil {
			t.Fatalf("backward failed: %v", err)
		}
		if layer.Weight().Grad() == nil || layer.Bias().Grad() == nil {
			t.Fatal("parameters did not receive gradients")
		}
		wg, _ := layer.Weight().Grad().Float32Data()
		if wg[0] != 1 || wg[1] != 2 {
			t.Errorf("weight gradient should equal the input, got %v", wg)
		}
	})
}

func TestConv2DLayer(t *testing.T) {
	SetRandomSeed(42)
	layer, err := NewConv2D(4, 8, 3, 1, 1, 0)
	if err != nil {
		t.Fatalf("failed to create layer: %v", err)
	}
	input, _ := tensor.Zeros([]int{2, 4, 10, 1})
	out, err := layer.Forward(input)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	// padding 1 on a kernel of height 3 preserves the spatial size
	want := []int{2, 8, 10, 1}
	for i := range want {
		if out.Shape[i] != want[i] {
			t.Fatalf("expected shape %v, got %v", want, out.Shape)
		}
	}
}

func TestDropoutModes(t *testing.T) {
	layer, err := NewDropout(0.5)
	if err != nil {
		t.Fatalf("failed to create layer: %v", err)
	}
	input, _ := tensor.Full([]int{100}, 1)

	layer.Eval()
	out, err := layer.Forward(input)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if out != input {
		t.Error("eval mode dropout should be the identity")
	}

	layer.Train()
	out, err = layer.Forward(input)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	data, _ := out.Float32Data()
	dropped := 0
	for _, v := range data {
		if v == 0 {
			dropped++
		}
	}
	if dropped == 0 || dropped == len(data) {
		t.Errorf("training dropout dropped %d of %d elements", dropped, len(data))
	}

	if _, err := NewDropout(1.5); err == nil {
		t.Error("expected error for invalid probability")
	}
}

func TestBatchNorm1D(t *testing.T) {
	layer, err := NewBatchNorm1D(2)
	if err != nil {
		t.Fatalf("failed to create layer: %v", err)
	}

	input, _ := tensor.FromFloat32([]float32{
		1, 10,
		3, 30,
	}, []int{2, 2})

	t.Run("training normalizes with batch stats", func(t *testing.T) {
		out, err := layer.Forward(input)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		data, _ := out.Float32Data()
		// per-feature mean is removed, so columns are symmetric
		if math.Abs(float64(data[0]+data[2])) > 1e-4 {
			t.Errorf("feature 0 should be centered, got %g and %g", data[0], data[2])
		}
	})

	t.Run("running stats updated", func(t *testing.T) {
		rm, _ := layer.RunningMean().Float32Data()
		// momentum 0.1, batch mean of feature 0 is 2: 0.9*0 + 0.1*2
		if math.Abs(float64(rm[0])-0.2) > 1e-5 {
			t.Errorf("expected running mean 0.2, got %g", rm[0])
		}
	})

	t.Run("eval uses running stats", func(t *testing.T) {
		layer.Eval()
		single, _ := tensor.FromFloat32([]float32{1, 1}, []int{1, 2})
		if _, err := layer.Forward(single); err != nil {
			t.Fatalf("eval forward failed on batch of one: %v", err)
		}
	})

	t.Run("dimension validation", func(t *testing.T) {
		bad, _ := tensor.Zeros([]int{2, 2, 2, 2})
		if _, err := layer.Forward(bad); err == nil {
			t.Error("expected error for 4-D input to 1-D batch norm")
		}
	})
}

func TestSequential(t *testing.T) {
	SetRandomSeed(42)
	l1, _ := NewLinear(4, 3)
	l2, _ := NewLinear(3, 2)
	model := NewSequential(l1, NewReLU(), l2)

	t.Run("forward chains layers", func(t *testing.T) {
		input, _ := tensor.Zeros([]int{2, 4})
		out, err := model.Forward(input)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		if out.Shape[0] != 2 || out.Shape[1] != 2 {
			t.Errorf("expected shape [2 2], got %v", out.Shape)
		}
	})

	t.Run("parameters collected", func(t *testing.T) {
		if n := len(model.Parameters()); n != 4 {
			t.Errorf("expected 4 parameter tensors, got %d", n)
		}
	})

	t.Run("mode propagates", func(t *testing.T) {
		model.Eval()
		if l1.IsTraining() || l2.IsTraining() {
			t.Error("eval should propagate to children")
		}
		model.Train()
		if !l1.IsTraining() {
			t.Error("train should propagate to children")
		}
	})
}

func TestFlatten(t *testing.T) {
	layer := NewFlatten()
	input, _ := tensor.Zeros([]int{2, 3, 4, 5})
	out, err := layer.Forward(input)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if out.Shape[0] != 2 || out.Shape[1] != 60 {
		t.Errorf("expected shape [2 60], got %v", out.Shape)
	}
}
