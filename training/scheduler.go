package training

import (
	"fmt"
)

// StepLR decays the optimizer's learning rate by gamma every stepSize
// epochs. Call Step once per epoch, after the epoch completes.
type StepLR struct {
	optimizer Optimizer
	stepSize  int
	gamma     float64
	epoch     int
}

func NewStepLR(optimizer Optimizer, stepSize int, gamma float64) (*StepLR, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %d", stepSize)
	}
	if gamma <= 0 || gamma > 1 {
		return nil, fmt.Errorf("gamma must be in (0, 1], got %g", gamma)
	}
	return &StepLR{optimizer: optimizer, stepSize: stepSize, gamma: gamma}, nil
}

// Step advances the epoch counter and decays the learning rate on
// stepSize boundaries.
func (s *StepLR) Step() {
	s.epoch++
	if s.epoch%s.stepSize == 0 {
		s.optimizer.SetLR(s.optimizer.GetLR() * s.gamma)
	}
}

// Epoch returns the number of completed epochs.
func (s *StepLR) Epoch() int { return s.epoch }
