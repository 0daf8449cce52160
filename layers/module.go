// Package layers is a small CPU layer engine. Every layer caches what it
// needs during Forward and turns an output gradient into an input gradient
// in Backward, accumulating parameter gradients along the way.
package layers

import (
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrShapeMismatch is wrapped by every error caused by an unexpected
// tensor shape.
var ErrShapeMismatch = errors.New("shape mismatch")

// ErrNoForward is returned by Backward when no forward pass was cached.
var ErrNoForward = errors.New("backward called before forward")

// globalRng is seeded from the clock until SetRandomSeed is called.
var (
	rngMu     sync.Mutex
	globalRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	rngMu.Lock()
	defer rngMu.Unlock()
	globalRng = rand.New(rand.NewSource(seed))
}

func newRand() *rand.Rand {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rand.New(rand.NewSource(globalRng.Int63()))
}

// Module is implemented by every layer and container.
type Module interface {
	Forward(input *tensor.Dense) (*tensor.Dense, error)
	// Backward consumes the gradient of the loss w.r.t. the last Forward
	// output and returns the gradient w.r.t. its input.
	Backward(grad *tensor.Dense) (*tensor.Dense, error)
	Parameters() []*Parameter
	Train()
	Eval()
	IsTraining() bool
	Spec() LayerSpec
}

// Container is a module made of child modules.
type Container interface {
	Module
	Children() []Module
}

// NamedModule is a child module addressed by name rather than index.
type NamedModule struct {
	Name string
	Module
}

// NamedContainer is a module whose children carry explicit names.
type NamedContainer interface {
	Module
	NamedChildren() []NamedModule
}

// Parameter is a trainable tensor and its accumulated gradient.
type Parameter struct {
	Name  string
	Value *tensor.Dense
	Grad  []float32
}

func newParameter(name string, shape ...int) *Parameter {
	n := numel(shape)
	return &Parameter{
		Name:  name,
		Value: New(shape, make([]float32, n)),
		Grad:  make([]float32, n),
	}
}

// Data returns the backing slice of the parameter value.
func (p *Parameter) Data() []float32 {
	return p.Value.Data().([]float32)
}

// Shape returns the parameter shape.
func (p *Parameter) Shape() []int {
	return []int(p.Value.Shape())
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// NamedParameter pairs a parameter with its dotted path in a module tree.
type NamedParameter struct {
	Name string
	*Parameter
}

// NamedParameters walks m and names every parameter by its position, e.g.
// "features.0.weight".
func NamedParameters(m Module, prefix string) []NamedParameter {
	var out []NamedParameter
	if c, ok := m.(NamedContainer); ok {
		for _, child := range c.NamedChildren() {
			out = append(out, NamedParameters(child.Module, join(prefix, child.Name))...)
		}
		return out
	}
	if c, ok := m.(Container); ok {
		for i, child := range c.Children() {
			out = append(out, NamedParameters(child, join(prefix, strconv.Itoa(i)))...)
		}
		return out
	}
	for _, p := range m.Parameters() {
		out = append(out, NamedParameter{Name: join(prefix, p.Name), Parameter: p})
	}
	return out
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// New wraps data in a float32 dense tensor of the given shape.
func New(shape []int, data []float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// Float32s returns the backing data of t, failing for non-float32 tensors.
func Float32s(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, errors.New("nil tensor")
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected float32 tensor, got %v", t.Dtype())
	}
	return data, nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func checkRank(layer string, t *tensor.Dense, rank int) ([]int, []float32, error) {
	data, err := Float32s(t)
	if err != nil {
		return nil, nil, errors.Wrap(err, layer)
	}
	shape := []int(t.Shape())
	if len(shape) != rank {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "%s expects rank %d input, got %v", layer, rank, shape)
	}
	return shape, data, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// mode is embedded by layers to track train/eval state.
type mode struct {
	eval bool
}

func (m *mode) Train()           { m.eval = false }
func (m *mode) Eval()            { m.eval = true }
func (m *mode) IsTraining() bool { return !m.eval }
