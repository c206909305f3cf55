// Package metrics implements binary classification metrics with a
// fixed-grid ROC sweep.
package metrics

import (
	"fmt"
)

// NumThresholds is the number of decision thresholds in an ROC sweep:
// 0, 0.05, ..., 0.95. The right endpoint 1.0 is excluded.
const NumThresholds = 20

// Counts is a binary confusion matrix.
type Counts struct {
	TP int
	FP int
	TN int
	FN int
}

// Confusion tallies the confusion matrix for 0/1 labels and
// predictions.
func Confusion(yTrue, yPred []int) (Counts, error) {
	if len(yTrue) != len(yPred) {
		return Counts{}, fmt.Errorf("label and prediction lengths differ: %d vs %d", len(yTrue), len(yPred))
	}
	var c Counts
	for i := range yTrue {
		switch {
		case yTrue[i] == 1 && yPred[i] == 1:
			c.TP++
		case yTrue[i] == 1:
			c.FN++
		case yPred[i] == 1:
			c.FP++
		default:
			c.TN++
		}
	}
	return c, nil
}

// Rates returns the false positive rate and true positive rate. A rate
// whose denominator is zero is reported as 0.
func (c Counts) Rates() (fpr, tpr float64) {
	if negatives := c.FP + c.TN; negatives > 0 {
		fpr = float64(c.FP) / float64(negatives)
	}
	if positives := c.TP + c.FN; positives > 0 {
		tpr = float64(c.TP) / float64(positives)
	}
	return fpr, tpr
}

// FPRTPR computes the false positive and true positive rates for 0/1
// labels and predictions.
func FPRTPR(yTrue, yPred []int) (fpr, tpr float64, err error) {
	c, err := Confusion(yTrue, yPred)
	if err != nil {
		return 0, 0, err
	}
	fpr, tpr = c.Rates()
	return fpr, tpr, nil
}

// Point is one threshold's position on an ROC curve.
type Point struct {
	Threshold float64
	FPR       float64
	TPR       float64
}

// ROCCurve sweeps NumThresholds decision thresholds over the scores.
// At threshold k a score is predicted positive when it is strictly
// greater than k. Points are returned in threshold order.
func ROCCurve(yTrue []int, scores []float64) ([]Point, error) {
	if len(yTrue) != len(scores) {
		return nil, fmt.Errorf("label and score lengths differ: %d vs %d", len(yTrue), len(scores))
	}
	points := make([]Point, NumThresholds)
	yPred := make([]int, len(scores))
	for i := 0; i < NumThresholds; i++ {
		k := float64(i) / NumThresholds
		for j, s := range scores {
			if s > k {
				yPred[j] = 1
			} else {
				yPred[j] = 0
			}
		}
		fpr, tpr, err := FPRTPR(yTrue, yPred)
		if err != nil {
			return nil, err
		}
		points[i] = Point{Threshold: k, FPR: fpr, TPR: tpr}
	}
	return points, nil
}

// AUC integrates the ROC curve with the trapezoidal rule in threshold
// order. The curve runs from high FPR to low, so the absolute value of
// the signed area is returned.
func AUC(yTrue []int, scores []float64) (float64, error) {
	points, err := ROCCurve(yTrue, scores)
	if err != nil {
		return 0, err
	}
	return TrapezoidArea(points), nil
}

// TrapezoidArea returns the absolute trapezoidal integral of TPR over
// FPR for points in sweep order.
func TrapezoidArea(points []Point) float64 {
	area := 0.0
	for i := 1; i < len(points); i++ {
		dx := points[i].FPR - points[i-1].FPR
		area += dx * (points[i].TPR + points[i-1].TPR) / 2
	}
	if area < 0 {
		return -area
	}
	return area
}
