package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func checkGrad(t *testing.T, name string, got *Tensor, want []float32) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s: gradient is nil", name)
	}
	data, err := got.Float32Data()
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if len(data) != len(want) {
		t.Fatalf("%s: expected %d elements, got %d", name, len(want), len(data))
	}
	for i := range want {
		if math.Abs(float64(data[i])-float64(want[i])) > 1e-5 {
			t.Errorf("%s element %d: expected %g, got %g", name, i, want[i], data[i])
		}
	}
}

func TestBackwardRequiresScalar(t *testing.T) {
	x, _ := FromFloat32([]float32{1, 2}, []int{2})
	x.SetRequiresGrad(true)
	y, _ := AddAutograd(x, x)
	if err := y.Backward(); err == nil {
		t.Error("expected error calling Backward on a non-scalar tensor")
	}
	grad, _ := Ones([]int{2})
	if err := y.BackwardWith(grad); err != nil {
		t.Fatalf("BackwardWith failed: %v", err)
	}
	checkGrad(t, "x", x.Grad(), []float32{2, 2})
}

func TestAddBroadcastBackward(t *testing.T) {
	a, _ := FromFloat32([]float32{1, 2, 3, 4, 5, 6}, []int{2, 3})
	b, _ := FromFloat32([]float32{10, 20, 30}, []int{3})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	out, err := AddAutograd(a, b)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	grad, _ := Ones([]int{2, 3})
	if err := out.BackwardWith(grad); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	checkGrad(t, "a", a.Grad(), []float32{1, 1, 1, 1, 1, 1})
	// the broadcast dimension sums: each bias element feeds two rows
	checkGrad(t, "b", b.Grad(), []float32{2, 2, 2})
}

func TestMulSelfAccumulates(t *testing.T) {
	x := FromScalar(3)
	x.SetRequiresGrad(true)
	y, _ := MulAutograd(x, x)
	if err := y.Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	// d(x*x)/dx = 2x = 6
	checkGrad(t, "x", x.Grad(), []float32{6})
}

func TestMatMulBackward(t *testing.T) {
	a, _ := FromFloat32([]float32{1, 2, 3, 4}, []int{2, 2})
	b, _ := FromFloat32([]float32{5, 6, 7, 8}, []int{2, 2})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	out, _ := MatMulAutograd(a, b)
	grad, _ := Ones([]int{2, 2})
	if err := out.BackwardWith(grad); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	// dA = 1 x bᵀ: rows are [5+6, 7+8]
	checkGrad(t, "a", a.Grad(), []float32{11, 15, 11, 15})
	// dB = aᵀ x 1: rows are column sums of a
	checkGrad(t, "b", b.Grad(), []float32{4, 4, 6, 6})
}

func TestReLUBackward(t *testing.T) {
	x, _ := FromFloat32([]float32{-1, 2, 0, 3}, []int{4})
	x.SetRequiresGrad(true)
	y, _ := ReLUAutograd(x)
	grad, _ := FromFloat32([]float32{10, 10, 10, 10}, []int{4})
	if err := y.BackwardWith(grad); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	checkGrad(t, "x", x.Grad(), []float32{0, 10, 0, 10})
}

func TestSigmoidBackward(t *testing.T) {
	x, _ := FromFloat32([]float32{0}, []int{1})
	x.SetRequiresGrad(true)
	y, _ := SigmoidAutograd(x)
	if err := y.Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	// sigmoid'(0) = 0.25
	checkGrad(t, "x", x.Grad(), []float32{0.25})
}

func TestReshapeBackward(t *testing.T) {
	x, _ := FromFloat32([]float32{1, 2, 3, 4}, []int{2, 2})
	x.SetRequiresGrad(true)
	y, _ := ReshapeAutograd(x, []int{4})
	grad, _ := FromFloat32([]float32{1, 2, 3, 4}, []int{4})
	if err := y.BackwardWith(grad); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	g := x.Grad()
	if g.Shape[0] != 2 || g.Shape[1] != 2 {
		t.Errorf("gradient should have the input shape, got %v", g.Shape)
	}
	checkGrad(t, "x", g, []float32{1, 2, 3, 4})
}

func TestConv2DForwardBackward(t *testing.T) {
	// 1x3 input, 1x3 kernel of ones, padding (0,1): sliding sums
	x, _ := FromFloat32([]float32{1, 2, 3}, []int{1, 1, 1, 3})
	w, _ := FromFloat32([]float32{1, 1, 1}, []int{1, 1, 1, 3})
	bias, _ := Zeros([]int{1})
	x.SetRequiresGrad(true)
	w.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)

	out, err := Conv2DAutograd(x, w, bias, 1, 1, 0, 1)
	if err != nil {
		t.Fatalf("conv failed: %v", err)
	}
	if out.Shape[2] != 1 || out.Shape[3] != 3 {
		t.Fatalf("unexpected output shape %v", out.Shape)
	}
	data, _ := out.Float32Data()
	for i, want := range []float32{3, 6, 5} {
		if data[i] != want {
			t.Errorf("output %d: expected %g, got %g", i, want, data[i])
		}
	}

	grad, _ := Ones(out.Shape)
	if err := out.BackwardWith(grad); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	// dW sums the input under each kernel offset across positions
	checkGrad(t, "weight", w.Grad(), []float32{3, 6, 5})
	// each input element is covered by the patches that overlap it
	checkGrad(t, "input", x.Grad(), []float32{2, 3, 2})
	checkGrad(t, "bias", bias.Grad(), []float32{3})
}

func TestConv2DShapeValidation(t *testing.T) {
	x, _ := Zeros([]int{1, 2, 4, 4})
	w, _ := Zeros([]int{3, 1, 2, 2})
	if _, err := Conv2DAutograd(x, w, nil, 1, 1, 0, 0); err == nil {
		t.Error("expected error for channel mismatch")
	}
}

func TestMaxPool2DForwardBackward(t *testing.T) {
	x, _ := FromFloat32([]float32{
		1, 5, 2, 0,
		3, 4, 8, 6,
	}, []int{1, 1, 2, 4})
	x.SetRequiresGrad(true)

	out, err := MaxPool2DAutograd(x, 2, 2)
	if err != nil {
		t.Fatalf("maxpool failed: %v", err)
	}
	data, _ := out.Float32Data()
	if data[0] != 5 || data[1] != 8 {
		t.Errorf("expected [5 8], got %v", data)
	}

	grad, _ := FromFloat32([]float32{10, 20}, []int{1, 1, 1, 2})
	if err := out.BackwardWith(grad); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	checkGrad(t, "input", x.Grad(), []float32{
		0, 10, 0, 0,
		0, 0, 20, 0,
	})
}

func TestBatchNormForwardBackward(t *testing.T) {
	x, _ := FromFloat32([]float32{1, 2, 3, 4}, []int{4, 1})
	gamma, _ := Ones([]int{1})
	beta, _ := Zeros([]int{1})
	x.SetRequiresGrad(true)
	gamma.SetRequiresGrad(true)
	beta.SetRequiresGrad(true)

	out, mean, variance, err := BatchNormAutograd(x, gamma, beta, 0)
	if err != nil {
		t.Fatalf("batch norm failed: %v", err)
	}
	if v, _ := mean.Item(); math.Abs(float64(v)-2.5) > 1e-6 {
		t.Errorf("expected batch mean 2.5, got %g", v)
	}
	if v, _ := variance.Item(); math.Abs(float64(v)-1.25) > 1e-6 {
		t.Errorf("expected biased variance 1.25, got %g", v)
	}
	data, _ := out.Float32Data()
	// normalized output has zero mean and unit variance
	sum := float32(0)
	for _, v := range data {
		sum += v
	}
	if math.Abs(float64(sum)) > 1e-5 {
		t.Errorf("normalized output should sum to 0, got %g", sum)
	}

	grad, _ := Ones([]int{4, 1})
	if err := out.BackwardWith(grad); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	// a constant output gradient has zero projection onto xhat
	checkGrad(t, "gamma", gamma.Grad(), []float32{0})
	checkGrad(t, "beta", beta.Grad(), []float32{4})
	checkGrad(t, "x", x.Grad(), []float32{0, 0, 0, 0})
}

func TestBatchNormRejectsSingleElement(t *testing.T) {
	x, _ := Zeros([]int{1, 1})
	gamma, _ := Ones([]int{1})
	beta, _ := Zeros([]int{1})
	if _, _, _, err := BatchNormAutograd(x, gamma, beta, 1e-5); err == nil {
		t.Error("expected error for a single element per feature")
	}
}

func TestDropout(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	t.Run("p zero is identity", func(t *testing.T) {
		x, _ := FromFloat32([]float32{1, 2, 3}, []int{3})
		x.SetRequiresGrad(true)
		out, err := DropoutAutograd(x, 0, rng)
		if err != nil {
			t.Fatalf("dropout failed: %v", err)
		}
		data, _ := out.Float32Data()
		for i, want := range []float32{1, 2, 3} {
			if data[i] != want {
				t.Errorf("element %d: expected %g, got %g", i, want, data[i])
			}
		}
	})

	t.Run("survivors scaled", func(t *testing.T) {
		x, _ := Full([]int{1000}, 1)
		out, err := DropoutAutograd(x, 0.5, rng)
		if err != nil {
			t.Fatalf("dropout failed: %v", err)
		}
		data, _ := out.Float32Data()
		zeros := 0
		for _, v := range data {
			if v == 0 {
				zeros++
			} else if v != 2 {
				t.Fatalf("survivor should be scaled to 2, got %g", v)
			}
		}
		if zeros < 400 || zeros > 600 {
			t.Errorf("roughly half the elements should drop, got %d of 1000", zeros)
		}
	})

	t.Run("invalid probability", func(t *testing.T) {
		x, _ := Zeros([]int{2})
		if _, err := DropoutAutograd(x, 1, rng); err == nil {
			t.Error("expected error for p = 1")
		}
	})
}
