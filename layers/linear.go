package layers

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Linear implements a fully connected layer y = xWᵀ + b with W stored as
// [out, in].
type Linear struct {
	mode
	Weight *Parameter
	Bias   *Parameter
	in     int
	out    int

	input []float32
	batch int
}

// NewLinear creates a Linear layer with uniform(-1/sqrt(in), 1/sqrt(in))
// weights and bias.
func NewLinear(in, out int) *Linear {
	l := &Linear{
		Weight: newParameter("weight", out, in),
		Bias:   newParameter("bias", out),
		in:     in,
		out:    out,
	}
	bound := 1 / math.Sqrt(float64(in))
	Uniform(l.Weight, -bound, bound)
	Uniform(l.Bias, -bound, bound)
	return l
}

// InFeatures returns the input width.
func (l *Linear) InFeatures() int { return l.in }

// OutFeatures returns the output width.
func (l *Linear) OutFeatures() int { return l.out }

// Forward performs y = xWᵀ + b for x of shape [N, in].
func (l *Linear) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	shape, x, err := checkRank("linear", input, 2)
	if err != nil {
		return nil, err
	}
	if shape[1] != l.in {
		return nil, errors.Wrapf(ErrShapeMismatch, "linear expects %d input features, got %d", l.in, shape[1])
	}
	n := shape[0]
	w, b := l.Weight.Data(), l.Bias.Data()

	y := make([]float32, n*l.out)
	for i := 0; i < n; i++ {
		copy(y[i*l.out:(i+1)*l.out], b)
	}
	mul(false, true, matrix(n, l.in, x), matrix(l.out, l.in, w), 1, matrix(n, l.out, y))

	l.input, l.batch = x, n
	return New([]int{n, l.out}, y), nil
}

// Backward accumulates dW and db and returns dx.
func (l *Linear) Backward(grad *tensor.Dense) (*tensor.Dense, error) {
	if l.input == nil {
		return nil, errors.Wrap(ErrNoForward, "linear")
	}
	shape, g, err := checkRank("linear backward", grad, 2)
	if err != nil {
		return nil, err
	}
	if !sameShape(shape, []int{l.batch, l.out}) {
		return nil, errors.Wrapf(ErrShapeMismatch, "linear gradient %v, expected [%d %d]", shape, l.batch, l.out)
	}
	n, x, w := l.batch, l.input, l.Weight.Data()
	dw, db := l.Weight.Grad, l.Bias.Grad

	for i := 0; i < n; i++ {
		for o, gv := range g[i*l.out : (i+1)*l.out] {
			db[o] += gv
		}
	}
	mul(true, false, matrix(n, l.out, g), matrix(n, l.in, x), 1, matrix(l.out, l.in, dw))

	dx := make([]float32, n*l.in)
	mul(false, false, matrix(n, l.out, g), matrix(l.out, l.in, w), 0, matrix(n, l.in, dx))

	return New([]int{n, l.in}, dx), nil
}

// Parameters returns weight and bias.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.Weight, l.Bias}
}

// Spec describes the layer for summaries.
func (l *Linear) Spec() LayerSpec {
	return LayerSpec{
		Type: LinearLayer,
		Parameters: map[string]interface{}{
			"in_features":  l.in,
			"out_features": l.out,
		},
		ParameterShapes: [][]int{{l.out, l.in}, {l.out}},
		ParameterCount:  int64(l.out*l.in + l.out),
	}
}
