package layers

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Sequential chains modules; children are addressed by index.
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a sequential container in training mode.
func NewSequential(modules ...Module) *Sequential {
	s := &Sequential{modules: modules, training: true}
	s.Train()
	return s
}

// Add appends a module.
func (s *Sequential) Add(m Module) *Sequential {
	s.modules = append(s.modules, m)
	return s
}

// Len returns the number of children.
func (s *Sequential) Len() int { return len(s.modules) }

// At returns the child at index i.
func (s *Sequential) At(i int) Module { return s.modules[i] }

// Set replaces the child at index i.
func (s *Sequential) Set(i int, m Module) error {
	if i < 0 || i >= len(s.modules) {
		return errors.Errorf("sequential index %d out of range [0, %d)", i, len(s.modules))
	}
	if s.training {
		m.Train()
	} else {
		m.Eval()
	}
	s.modules[i] = m
	return nil
}

// Children returns the child modules in order.
func (s *Sequential) Children() []Module { return s.modules }

// Forward runs every child in order.
func (s *Sequential) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	out := input
	for i, m := range s.modules {
		var err error
		out, err = m.Forward(out)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
	}
	return out, nil
}

// Backward runs every child's Backward in reverse order.
func (s *Sequential) Backward(grad *tensor.Dense) (*tensor.Dense, error) {
	g := grad
	for i := len(s.modules) - 1; i >= 0; i-- {
		var err error
		g, err = s.modules[i].Backward(g)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d backward", i)
		}
	}
	return g, nil
}

// Parameters returns every child parameter in order.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Train sets the container and all children to training mode.
func (s *Sequential) Train() {
	s.training = true
	for _, m := range s.modules {
		m.Train()
	}
}

// Eval sets the container and all children to evaluation mode.
func (s *Sequential) Eval() {
	s.training = false
	for _, m := range s.modules {
		m.Eval()
	}
}

// IsTraining returns true if in training mode
func (s *Sequential) IsTraining() bool { return s.training }

// Spec describes the container; children are listed by Describe.
func (s *Sequential) Spec() LayerSpec {
	var count int64
	for _, m := range s.modules {
		count += m.Spec().ParameterCount
	}
	return LayerSpec{
		Type:           SequentialLayer,
		Parameters:     map[string]interface{}{"children": len(s.modules)},
		ParameterCount: count,
	}
}
