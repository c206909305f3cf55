package training

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/tsawler/go-basset/nn"
	"github.com/tsawler/go-basset/tensor"
)

// separableDataset builds samples in [0,1)^2 labeled 1 when the first
// coordinate exceeds the second, which a linear model can learn.
func separableDataset(t *testing.T, n int, seed int64) *SimpleDataset {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	samples := make([]*tensor.Tensor, n)
	labels := make([]*tensor.Tensor, n)
	for i := 0; i < n; i++ {
		a, b := rng.Float32(), rng.Float32()
		label := float32(0)
		if a > b {
			label = 1
		}
		s, err := tensor.FromFloat32([]float32{a, b}, []int{2})
		if err != nil {
			t.Fatalf("failed to build sample: %v", err)
		}
		l, err := tensor.FromFloat32([]float32{label}, []int{1})
		if err != nil {
			t.Fatalf("failed to build label: %v", err)
		}
		samples[i] = s
		labels[i] = l
	}
	ds, err := NewSimpleDataset(samples, labels)
	if err != nil {
		t.Fatalf("failed to build dataset: %v", err)
	}
	return ds
}

func TestTrainLoop(t *testing.T) {
	nn.SetRandomSeed(11)
	ds := separableDataset(t, 64, 3)
	model, err := nn.NewLinear(2, 1)
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	opt, err := NewSGD(model.Parameters(), SGDConfig{LR: 0.5})
	if err != nil {
		t.Fatalf("failed to build optimizer: %v", err)
	}
	criterion := NewBCEWithLogitsLoss()
	loader, err := NewDataLoader(ds, 16, true, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("failed to build loader: %v", err)
	}

	firstAUC, firstLoss, err := TrainLoop(model, loader, tensor.CPU, opt, criterion)
	if err != nil {
		t.Fatalf("train loop failed: %v", err)
	}
	if firstAUC < 0 || firstAUC > 1 {
		t.Errorf("score must be in [0, 1], got %g", firstAUC)
	}
	if math.IsNaN(firstLoss) {
		t.Fatal("loss is NaN")
	}

	var lastAUC, lastLoss float64
	for i := 0; i < 60; i++ {
		lastAUC, lastLoss, err = TrainLoop(model, loader, tensor.CPU, opt, criterion)
		if err != nil {
			t.Fatalf("train loop failed at epoch %d: %v", i, err)
		}
	}
	if lastLoss >= firstLoss {
		t.Errorf("loss should decrease: first %g, last %g", firstLoss, lastLoss)
	}
	if lastAUC < 0.8 {
		t.Errorf("model should separate the classes, AUC %g", lastAUC)
	}
}

func TestTrainLoopSingleBatch(t *testing.T) {
	nn.SetRandomSeed(12)
	ds := separableDataset(t, 8, 4)
	model, _ := nn.NewLinear(2, 1)
	opt, _ := NewSGD(model.Parameters(), SGDConfig{LR: 0.1})
	criterion := NewBCEWithLogitsLoss()
	// batch size larger than the dataset: exactly one batch per pass
	loader, _ := NewDataLoader(ds, 64, false, nil)

	score, loss, err := TrainLoop(model, loader, tensor.CPU, opt, criterion)
	if err != nil {
		t.Fatalf("train loop failed: %v", err)
	}
	if score < 0 || score > 1 {
		t.Errorf("score must be in [0, 1], got %g", score)
	}
	if loss <= 0 {
		t.Errorf("expected positive loss, got %g", loss)
	}
}

func TestValidLoop(t *testing.T) {
	nn.SetRandomSeed(13)
	n := 32
	ds := separableDataset(t, n, 5)
	model, _ := nn.NewLinear(2, 1)
	opt, _ := NewSGD(model.Parameters(), SGDConfig{LR: 0.1})
	criterion := NewBCEWithLogitsLoss()
	loader, _ := NewDataLoader(ds, n, false, nil)

	t.Run("parameters unchanged", func(t *testing.T) {
		before := append([]float32{}, model.Weight().Data.([]float32)...)
		if _, _, err := ValidLoop(model, loader, tensor.CPU, opt, criterion); err != nil {
			t.Fatalf("valid loop failed: %v", err)
		}
		after, _ := model.Weight().Float32Data()
		for i := range before {
			if before[i] != after[i] {
				t.Fatal("validation must not update parameters")
			}
		}
	})

	t.Run("loss is batch-size weighted", func(t *testing.T) {
		_, total, err := ValidLoop(model, loader, tensor.CPU, opt, criterion)
		if err != nil {
			t.Fatalf("valid loop failed: %v", err)
		}
		loader.Reset()
		batch, err := loader.Next()
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		model.Eval()
		logits, err := model.Forward(batch.Data)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		mean, err := criterion.Forward(logits, batch.Labels)
		if err != nil {
			t.Fatalf("loss failed: %v", err)
		}
		// one batch: the returned total is the mean loss times the size
		if math.Abs(total-mean*float64(n)) > 1e-6 {
			t.Errorf("expected %g, got %g", mean*float64(n), total)
		}
	})

	t.Run("deterministic across passes", func(t *testing.T) {
		s1, l1, err := ValidLoop(model, loader, tensor.CPU, opt, criterion)
		if err != nil {
			t.Fatalf("valid loop failed: %v", err)
		}
		s2, l2, err := ValidLoop(model, loader, tensor.CPU, opt, criterion)
		if err != nil {
			t.Fatalf("valid loop failed: %v", err)
		}
		if s1 != s2 || l1 != l2 {
			t.Errorf("repeated validation differs: (%g, %g) vs (%g, %g)", s1, l1, s2, l2)
		}
	})
}

func TestLoopDeviceUnavailable(t *testing.T) {
	nn.SetRandomSeed(14)
	ds := separableDataset(t, 8, 6)
	model, _ := nn.NewLinear(2, 1)
	opt, _ := NewSGD(model.Parameters(), SGDConfig{LR: 0.1})
	loader, _ := NewDataLoader(ds, 8, false, nil)
	if _, _, err := TrainLoop(model, loader, tensor.GPU, opt, NewBCEWithLogitsLoss()); err == nil {
		t.Error("expected error for unavailable device")
	}
}

func TestTrainer(t *testing.T) {
	nn.SetRandomSeed(15)
	trainDS := separableDataset(t, 48, 7)
	validDS := separableDataset(t, 24, 8)
	model, _ := nn.NewLinear(2, 1)
	opt, _ := NewSGD(model.Parameters(), SGDConfig{LR: 0.5})
	criterion := NewBCEWithLogitsLoss()
	trainLoader, _ := NewDataLoader(trainDS, 16, true, rand.New(rand.NewSource(2)))
	validLoader, _ := NewDataLoader(validDS, 24, false, nil)

	sched, _ := NewStepLR(opt, 2, 0.5)
	trainer, err := NewTrainer(model, opt, criterion, Config{Epochs: 4, Device: tensor.CPU, Verbose: true})
	if err != nil {
		t.Fatalf("failed to create trainer: %v", err)
	}
	var buf bytes.Buffer
	trainer.SetOutput(&buf)
	trainer.WithScheduler(sched)

	result, err := trainer.Train(trainLoader, validLoader)
	if err != nil {
		t.Fatalf("training failed: %v", err)
	}
	if len(result.Epochs) != 4 {
		t.Fatalf("expected 4 epoch records, got %d", len(result.Epochs))
	}
	if result.BestEpoch < 1 || result.BestEpoch > 4 {
		t.Errorf("unexpected best epoch %d", result.BestEpoch)
	}
	if result.MeanValidAUC < 0 || result.MeanValidAUC > 1 {
		t.Errorf("mean validation AUC out of range: %g", result.MeanValidAUC)
	}
	// stepSize 2, gamma 0.5 over 4 epochs: 0.5 -> 0.125
	if math.Abs(opt.GetLR()-0.125) > 1e-9 {
		t.Errorf("expected final lr 0.125, got %g", opt.GetLR())
	}
	if buf.Len() == 0 {
		t.Error("verbose training should emit progress output")
	}

	t.Run("config validation", func(t *testing.T) {
		if _, err := NewTrainer(model, opt, criterion, Config{}); err == nil {
			t.Error("expected error for zero epochs")
		}
		if _, err := NewTrainer(model, opt, criterion, Config{Epochs: 1, EarlyStopping: true}); err == nil {
			t.Error("expected error for early stopping without patience")
		}
		bad, _ := NewTrainer(model, opt, criterion, Config{Epochs: 1, EarlyStopping: true, Patience: 1})
		if _, err := bad.Train(trainLoader, nil); err == nil {
			t.Error("expected error for early stopping without validation data")
		}
	})
}
