package layers

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ReLU applies max(0, x) element-wise.
type ReLU struct {
	mode
	mask  []bool
	shape []int
}

// NewReLU creates a ReLU activation.
func NewReLU() *ReLU { return &ReLU{} }

// Forward applies the activation.
func (r *ReLU) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	x, err := Float32s(input)
	if err != nil {
		return nil, errors.Wrap(err, "relu")
	}
	y := make([]float32, len(x))
	r.mask = make([]bool, len(x))
	for i, v := range x {
		if v > 0 {
			y[i] = v
			r.mask[i] = true
		}
	}
	r.shape = []int(input.Shape())
	return New(r.shape, y), nil
}

// Backward passes gradient only where the input was positive.
func (r *ReLU) Backward(grad *tensor.Dense) (*tensor.Dense, error) {
	if r.mask == nil {
		return nil, errors.Wrap(ErrNoForward, "relu")
	}
	g, err := Float32s(grad)
	if err != nil {
		return nil, errors.Wrap(err, "relu backward")
	}
	if len(g) != len(r.mask) {
		return nil, errors.Wrapf(ErrShapeMismatch, "relu gradient has %d values, expected %d", len(g), len(r.mask))
	}
	dx := make([]float32, len(g))
	for i, keep := range r.mask {
		if keep {
			dx[i] = g[i]
		}
	}
	return New(r.shape, dx), nil
}

// Parameters returns nil.
func (r *ReLU) Parameters() []*Parameter { return nil }

// Spec describes the layer for summaries.
func (r *ReLU) Spec() LayerSpec { return LayerSpec{Type: ReLULayer} }

// Dropout zeroes elements with probability P while training and scales the
// survivors by 1/(1-P). It is the identity in eval mode.
type Dropout struct {
	mode
	P     float64
	rng   *rand.Rand
	scale []float32
	shape []int
}

// NewDropout creates a dropout layer.
func NewDropout(p float64) *Dropout {
	return &Dropout{P: p, rng: newRand()}
}

// Forward applies the dropout mask in training mode.
func (d *Dropout) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	x, err := Float32s(input)
	if err != nil {
		return nil, errors.Wrap(err, "dropout")
	}
	d.shape = []int(input.Shape())
	y := make([]float32, len(x))
	if !d.IsTraining() || d.P <= 0 {
		copy(y, x)
		d.scale = nil
		return New(d.shape, y), nil
	}

	keep := float32(1 / (1 - d.P))
	if d.P >= 1 {
		keep = 0
	}
	d.scale = make([]float32, len(x))
	for i, v := range x {
		if d.rng.Float64() >= d.P {
			d.scale[i] = keep
			y[i] = v * keep
		}
	}
	return New(d.shape, y), nil
}

// Backward applies the same mask to the gradient.
func (d *Dropout) Backward(grad *tensor.Dense) (*tensor.Dense, error) {
	if d.shape == nil {
		return nil, errors.Wrap(ErrNoForward, "dropout")
	}
	g, err := Float32s(grad)
	if err != nil {
		return nil, errors.Wrap(err, "dropout backward")
	}
	dx := make([]float32, len(g))
	if d.scale == nil {
		copy(dx, g)
		return New(d.shape, dx), nil
	}
	for i, s := range d.scale {
		dx[i] = g[i] * s
	}
	return New(d.shape, dx), nil
}

// Parameters returns nil.
func (d *Dropout) Parameters() []*Parameter { return nil }

// Spec describes the layer for summaries.
func (d *Dropout) Spec() LayerSpec {
	return LayerSpec{Type: DropoutLayer, Parameters: map[string]interface{}{"p": d.P}}
}

// Softmax converts [N, C] logits into row-wise probabilities.
func Softmax(logits *tensor.Dense) (*tensor.Dense, error) {
	shape, x, err := checkRank("softmax", logits, 2)
	if err != nil {
		return nil, err
	}
	n, c := shape[0], shape[1]
	out := make([]float32, len(x))
	for i := 0; i < n; i++ {
		softmaxRow(x[i*c:(i+1)*c], out[i*c:(i+1)*c])
	}
	return New(shape, out), nil
}

func softmaxRow(x, out []float32) {
	maxV := x[0]
	for _, v := range x[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for j, v := range x {
		e := math.Exp(float64(v - maxV))
		out[j] = float32(e)
		sum += e
	}
	for j := range out {
		out[j] = float32(float64(out[j]) / sum)
	}
}

// LogSoftmaxRow writes log(softmax(x)) into out using the log-sum-exp form.
func LogSoftmaxRow(x, out []float32) {
	maxV := x[0]
	for _, v := range x[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v - maxV))
	}
	lse := float64(maxV) + math.Log(sum)
	for j, v := range x {
		out[j] = float32(float64(v) - lse)
	}
}
