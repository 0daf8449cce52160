package optimizer

import (
	"github.com/pkg/errors"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/checkpoints"
)

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state == nil {
		return errors.New("nil optimizer state")
	}
	if state.Type != optimizerType {
		return errors.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// floatParam reads a saved parameter, falling back to defaultValue.
func floatParam(params map[string]float64, key string, defaultValue float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return defaultValue
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// restoreBuffer copies a saved buffer after checking its length.
func restoreBuffer(dst []float32, t checkpoints.Tensor, name string) error {
	if len(t.Data) != len(dst) {
		return errors.Errorf("data size mismatch for %s: expected %d elements, got %d", name, len(dst), len(t.Data))
	}
	copy(dst, t.Data)
	return nil
}
