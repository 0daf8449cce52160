// Package optimizer updates layer parameters from their accumulated
// gradients.
package optimizer

import (
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/checkpoints"
)

// Optimizer defines the common interface for all optimizers
type Optimizer interface {
	// Step applies one update using the gradients accumulated since the
	// last ZeroGrad.
	Step() error
	ZeroGrad()

	LR() float64
	SetLR(lr float64)

	// GetState extracts hyperparameters and buffers for checkpointing.
	GetState() *checkpoints.OptimizerState
	// LoadState restores what GetState produced.
	LoadState(state *checkpoints.OptimizerState) error

	GetStepCount() uint64
}
