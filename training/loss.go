package training

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/layers"
)

// Loss interface defines methods that all loss functions must implement
type Loss interface {
	// Forward returns the scalar loss of logits against integer labels and
	// caches what Backward needs.
	Forward(logits *tensor.Dense, labels []int) (float64, error)
	// Backward returns the gradient of the last Forward w.r.t. the logits.
	Backward() (*tensor.Dense, error)
}

// CrossEntropyLoss is the mean negative log-likelihood of the softmax of
// the logits.
type CrossEntropyLoss struct {
	probs  []float32
	labels []int
	n, c   int
}

// NewCrossEntropyLoss creates a cross-entropy loss with mean reduction.
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// Forward computes -1/N * sum_i log softmax(x_i)[y_i].
func (ce *CrossEntropyLoss) Forward(logits *tensor.Dense, labels []int) (float64, error) {
	x, err := layers.Float32s(logits)
	if err != nil {
		return 0, errors.Wrap(err, "cross entropy")
	}
	shape := []int(logits.Shape())
	if len(shape) != 2 {
		return 0, errors.Wrapf(layers.ErrShapeMismatch, "cross entropy expects [N, C] logits, got %v", shape)
	}
	n, c := shape[0], shape[1]
	if len(labels) != n {
		return 0, errors.Wrapf(layers.ErrShapeMismatch, "cross entropy got %d labels for %d rows", len(labels), n)
	}

	logp := make([]float32, c)
	probs := make([]float32, n*c)
	var total float64
	for i, y := range labels {
		if y < 0 || y >= c {
			return 0, errors.Errorf("label %d out of range [0, %d)", y, c)
		}
		layers.LogSoftmaxRow(x[i*c:(i+1)*c], logp)
		total -= float64(logp[y])
		for j, lp := range logp {
			probs[i*c+j] = float32(math.Exp(float64(lp)))
		}
	}

	ce.probs, ce.labels, ce.n, ce.c = probs, labels, n, c
	return total / float64(n), nil
}

// Backward returns (softmax - onehot) / N.
func (ce *CrossEntropyLoss) Backward() (*tensor.Dense, error) {
	if ce.probs == nil {
		return nil, errors.Wrap(layers.ErrNoForward, "cross entropy")
	}
	grad := make([]float32, len(ce.probs))
	scale := 1 / float32(ce.n)
	for i, y := range ce.labels {
		for j := 0; j < ce.c; j++ {
			g := ce.probs[i*ce.c+j]
			if j == y {
				g--
			}
			grad[i*ce.c+j] = g * scale
		}
	}
	return layers.New([]int{ce.n, ce.c}, grad), nil
}
