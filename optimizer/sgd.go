package optimizer

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/checkpoints"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/layers"
)

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	Dampening    float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
	}
}

// Validate checks the hyperparameters.
func (c SGDConfig) Validate() error {
	if c.LearningRate < 0 {
		return errors.Errorf("learning rate cannot be negative: %g", c.LearningRate)
	}
	if c.Momentum < 0 {
		return errors.Errorf("momentum cannot be negative: %g", c.Momentum)
	}
	if c.Momentum > 1.0 {
		return errors.Errorf("momentum cannot be greater than 1.0: %g", c.Momentum)
	}
	if c.WeightDecay < 0 {
		return errors.Errorf("weight decay cannot be negative: %g", c.WeightDecay)
	}
	if c.Nesterov && (c.Momentum <= 0 || c.Dampening != 0) {
		return errors.New("nesterov momentum requires a momentum and zero dampening")
	}
	return nil
}

// SGD is stochastic gradient descent with optional momentum, dampening,
// Nesterov momentum and L2 weight decay:
//
//	d = g + wd*p
//	buf = d                          (first step)
//	buf = momentum*buf + (1-damp)*d  (later steps)
//	d = d + momentum*buf  (nesterov) | buf
//	p = p - lr*d
type SGD struct {
	mu        sync.Mutex
	cfg       SGDConfig
	params    []layers.NamedParameter
	velocity  [][]float32
	stepCount uint64
}

// NewSGD creates an optimizer over params.
func NewSGD(params []layers.NamedParameter, cfg SGDConfig) (*SGD, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, errors.New("no parameters to optimize")
	}
	return &SGD{
		cfg:      cfg,
		params:   params,
		velocity: make([][]float32, len(params)),
	}, nil
}

// Step applies one update to every parameter.
func (s *SGD) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lr := float32(s.cfg.LearningRate)
	wd := float32(s.cfg.WeightDecay)
	mom := float32(s.cfg.Momentum)
	damp := 1 - float32(s.cfg.Dampening)

	for i, p := range s.params {
		w := p.Data()
		if len(p.Grad) != len(w) {
			return errors.Errorf("%s: gradient has %d values, parameter %d", p.Name, len(p.Grad), len(w))
		}
		buf := s.velocity[i]
		first := false
		if mom != 0 && buf == nil {
			buf = make([]float32, len(w))
			s.velocity[i] = buf
			first = true
		}

		for j, g := range p.Grad {
			d := g
			if wd != 0 {
				d += wd * w[j]
			}
			if mom != 0 {
				if first {
					buf[j] = d
				} else {
					buf[j] = mom*buf[j] + damp*d
				}
				if s.cfg.Nesterov {
					d += mom * buf[j]
				} else {
					d = buf[j]
				}
			}
			w[j] -= lr * d
		}
	}
	s.stepCount++
	return nil
}

// ZeroGrad clears every parameter gradient.
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// LR returns the current learning rate.
func (s *SGD) LR() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.LearningRate
}

// SetLR updates the learning rate used by subsequent steps.
func (s *SGD) SetLR(lr float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.LearningRate = lr
}

// Config returns the current hyperparameters.
func (s *SGD) Config() SGDConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// GetStepCount returns the number of updates applied.
func (s *SGD) GetStepCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepCount
}

// GetState copies hyperparameters and momentum buffers keyed by parameter
// name.
func (s *SGD) GetState() *checkpoints.OptimizerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]float64{
			"lr":           s.cfg.LearningRate,
			"momentum":     s.cfg.Momentum,
			"dampening":    s.cfg.Dampening,
			"weight_decay": s.cfg.WeightDecay,
			"nesterov":     boolToFloat(s.cfg.Nesterov),
			"step_count":   float64(s.stepCount),
		},
	}
	for i, p := range s.params {
		if s.velocity[i] == nil {
			continue
		}
		if state.Buffers == nil {
			state.Buffers = make(map[string]checkpoints.Tensor)
		}
		data := make([]float32, len(s.velocity[i]))
		copy(data, s.velocity[i])
		state.Buffers[p.Name] = checkpoints.Tensor{Shape: p.Shape(), Data: data}
	}
	return state
}

// LoadState restores the momentum buffers and step count. The SGD settings
// the optimizer was built with are kept.
func (s *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	velocity := make([][]float32, len(s.params))
	for i, p := range s.params {
		t, ok := state.Buffers[p.Name]
		if !ok {
			continue
		}
		velocity[i] = make([]float32, len(p.Data()))
		if err := restoreBuffer(velocity[i], t, p.Name); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.velocity = velocity
	s.stepCount = uint64(floatParam(state.Parameters, "step_count", 0))
	return nil
}
