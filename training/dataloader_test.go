package training

import (
	"math/rand"
	"testing"

	"github.com/tsawler/go-basset/tensor"
)

func makeDataset(t *testing.T, n int) *SimpleDataset {
	t.Helper()
	samples := make([]*tensor.Tensor, n)
	labels := make([]*tensor.Tensor, n)
	for i := 0; i < n; i++ {
		s, err := tensor.FromFloat32([]float32{float32(i), float32(i) + 0.5}, []int{2})
		if err != nil {
			t.Fatalf("failed to build sample: %v", err)
		}
		l, err := tensor.FromFloat32([]float32{float32(i % 2)}, []int{1})
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

func TestDataLoaderBatching(t *testing.T) {
	ds := makeDataset(t, 10)

	t.Run("even batches", func(t *testing.T) {
		dl, err := NewDataLoader(ds, 5, false, nil)
		if err != nil {
			t.Fatalf("failed to create loader: %v", err)
		}
		if dl.NumBatches() != 2 {
			t.Errorf("expected 2 batches, got %d", dl.NumBatches())
		}
		count := 0
		for dl.HasNext() {
			batch, err := dl.Next()
			if err != nil {
				t.Fatalf("next failed: %v", err)
			}
			if batch.Size != 5 {
				t.Errorf("expected batch size 5, got %d", batch.Size)
			}
			if batch.Data.Shape[0] != 5 || batch.Data.Shape[1] != 2 {
				t.Errorf("unexpected data shape %v", batch.Data.Shape)
			}
			count++
		}
		if count != 2 {
			t.Errorf("expected 2 iterations, got %d", count)
		}
		if _, err := dl.Next(); err == nil {
			t.Error("expected error after exhaustion")
		}
	})

	t.Run("trailing partial batch", func(t *testing.T) {
		dl, _ := NewDataLoader(ds, 4, false, nil)
		if dl.NumBatches() != 3 {
			t.Errorf("expected 3 batches, got %d", dl.NumBatches())
		}
		sizes := []int{}
		for dl.HasNext() {
			batch, err := dl.Next()
			if err != nil {
				t.Fatalf("next failed: %v", err)
			}
			sizes = append(sizes, batch.Size)
		}
		if len(sizes) != 3 || sizes[2] != 2 {
			t.Errorf("expected a final batch of 2, got %v", sizes)
		}
	})

	t.Run("drop last", func(t *testing.T) {
		dl, _ := NewDataLoader(ds, 4, false, nil)
		dl.SetDropLast(true)
		if dl.NumBatches() != 2 {
			t.Errorf("expected 2 batches with drop last, got %d", dl.NumBatches())
		}
		count := 0
		for dl.HasNext() {
			if _, err := dl.Next(); err != nil {
				t.Fatalf("next failed: %v", err)
			}
			count++
		}
		if count != 2 {
			t.Errorf("expected 2 batches, got %d", count)
		}
	})

	t.Run("single batch covers the dataset", func(t *testing.T) {
		dl, _ := NewDataLoader(ds, 100, false, nil)
		batch, err := dl.Next()
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if batch.Size != 10 {
			t.Errorf("expected full dataset in one batch, got %d", batch.Size)
		}
		if dl.HasNext() {
			t.Error("loader should be exhausted after one oversized batch")
		}
	})
}

func TestDataLoaderValuesPreserved(t *testing.T) {
	ds := makeDataset(t, 4)
	dl, _ := NewDataLoader(ds, 4, false, nil)
	batch, err := dl.Next()
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	data, _ := batch.Data.Float32Data()
	// sample i contributes [i, i+0.5] in order
	for i := 0; i < 4; i++ {
		if data[i*2] != float32(i) || data[i*2+1] != float32(i)+0.5 {
			t.Errorf("sample %d corrupted: %v", i, data[i*2:i*2+2])
		}
	}
	labels, _ := batch.Labels.Float32Data()
	for i := 0; i < 4; i++ {
		if labels[i] != float32(i%2) {
			t.Errorf("label %d corrupted: %g", i, labels[i])
		}
	}
}

func TestDataLoaderShuffle(t *testing.T) {
	ds := makeDataset(t, 32)

	t.Run("requires rng", func(t *testing.T) {
		if _, err := NewDataLoader(ds, 4, true, nil); err == nil {
			t.Error("expected error for shuffle without rng")
		}
	})

	t.Run("deterministic with seed", func(t *testing.T) {
		collect := func(seed int64) []float32 {
			dl, err := NewDataLoader(ds, 8, true, rand.New(rand.NewSource(seed)))
			if err != nil {
				t.Fatalf("failed to create loader: %v", err)
			}
			var out []float32
			for dl.HasNext() {
				batch, err := dl.Next()
				if err != nil {
					t.Fatalf("next failed: %v", err)
				}
				data, _ := batch.Data.Float32Data()
				out = append(out, data...)
			}
			return out
		}
		a := collect(99)
		b := collect(99)
		for i := range a {
			if a[i] != b[i] {
				t.Fatal("same seed should give the same order")
			}
		}
	})

	t.Run("reset reshuffles", func(t *testing.T) {
		dl, _ := NewDataLoader(ds, 32, true, rand.New(rand.NewSource(5)))
		first, _ := dl.Next()
		fd, _ := first.Data.Float32Data()
		snapshot := append([]float32{}, fd...)
		dl.Reset()
		second, _ := dl.Next()
		sd, _ := second.Data.Float32Data()
		same := true
		for i := range snapshot {
			if snapshot[i] != sd[i] {
				same = false
				break
			}
		}
		if same {
			t.Error("reset should reshuffle the sample order")
		}
	})
}

func TestDataLoaderValidation(t *testing.T) {
	ds := makeDataset(t, 4)
	if _, err := NewDataLoader(ds, 0, false, nil); err == nil {
		t.Error("expected error for zero batch size")
	}
	if _, err := NewDataLoader(nil, 4, false, nil); err == nil {
		t.Error("expected error for nil dataset")
	}
	if _, err := NewSimpleDataset(make([]*tensor.Tensor, 2), make([]*tensor.Tensor, 3)); err == nil {
		t.Error("expected error for mismatched slice lengths")
	}
}
