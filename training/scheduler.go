package training

import (
	"math"

	"github.com/pkg/errors"
)

// LRScheduler defines the interface for learning rate scheduling strategies
type LRScheduler interface {
	// GetLR returns the learning rate after epoch completed epochs. It is a
	// pure function of its arguments.
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) (*StepLRScheduler, error) {
	if stepSize <= 0 {
		return nil, errors.Errorf("step size must be positive, got %d", stepSize)
	}
	if gamma <= 0 {
		return nil, errors.Errorf("gamma must be positive, got %g", gamma)
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}, nil
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// NoOpScheduler maintains constant learning rate (default behavior)
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}

// lrSetter is the part of an optimizer a schedule drives.
type lrSetter interface {
	LR() float64
	SetLR(lr float64)
}

// Schedule applies an LRScheduler to an optimizer one epoch at a time.
type Schedule struct {
	scheduler LRScheduler
	opt       lrSetter
	baseLR    float64
	epoch     int
}

// NewSchedule records the optimizer's current rate as the base rate.
func NewSchedule(s LRScheduler, opt lrSetter) *Schedule {
	return &Schedule{scheduler: s, opt: opt, baseLR: opt.LR()}
}

// Step marks one more epoch as finished and updates the optimizer.
func (s *Schedule) Step() float64 {
	s.epoch++
	lr := s.scheduler.GetLR(s.epoch, 0, s.baseLR)
	s.opt.SetLR(lr)
	return lr
}

// Resume continues the schedule after epoch finished epochs and applies
// the rate for that point to the optimizer.
func (s *Schedule) Resume(epoch int) float64 {
	if epoch < 0 {
		epoch = 0
	}
	s.epoch = epoch
	lr := s.scheduler.GetLR(s.epoch, 0, s.baseLR)
	s.opt.SetLR(lr)
	return lr
}

// Epoch returns the number of finished epochs the schedule has seen.
func (s *Schedule) Epoch() int {
	return s.epoch
}

// LastLR returns the rate currently in effect.
func (s *Schedule) LastLR() float64 {
	return s.opt.LR()
}

// Name returns the scheduler name.
func (s *Schedule) Name() string {
	return s.scheduler.GetName()
}
