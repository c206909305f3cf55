package metrics

import (
	"math/rand"
)

// SimulateUninformative draws n labels uniformly from {0, 1} and pairs
// each with a score drawn uniformly from [0, 1), independent of the
// label. The resulting ROC curve hugs the diagonal.
func SimulateUninformative(n int, rng *rand.Rand) (yTrue []int, scores []float64) {
	yTrue = make([]int, n)
	scores = make([]float64, n)
	for i := 0; i < n; i++ {
		yTrue[i] = rng.Intn(2)
		scores[i] = rng.Float64()
	}
	return yTrue, scores
}

// SimulateSeparable draws n labels uniformly from {0, 1} and pairs
// negatives with scores in [0, 0.5) and positives with scores in
// [0.5, 1). The classes are perfectly separated at 0.5.
func SimulateSeparable(n int, rng *rand.Rand) (yTrue []int, scores []float64) {
	yTrue = make([]int, n)
	scores = make([]float64, n)
	for i := 0; i < n; i++ {
		yTrue[i] = rng.Intn(2)
		scores[i] = (rng.Float64() + float64(yTrue[i])) / 2
	}
	return yTrue, scores
}
