package layers

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func values(t *testing.T, d *tensor.Dense) []float32 {
	t.Helper()
	v, err := Float32s(d)
	require.NoError(t, err)
	return v
}

func randomData(r *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(r.NormFloat64())
	}
	return out
}

// weightedSum is the scalar loss sum(y * w) whose gradient w.r.t. y is w.
func weightedSum(y, w []float32) float64 {
	var s float64
	for i := range y {
		s += float64(y[i]) * float64(w[i])
	}
	return s
}

// checkGradients compares Backward against central differences for the
// input and every parameter of m.
func checkGradients(t *testing.T, m Module, shape []int) {
	t.Helper()
	r := rand.New(rand.NewSource(3))
	x := randomData(r, numel(shape))

	out, err := m.Forward(New(shape, append([]float32(nil), x...)))
	require.NoError(t, err)
	w := randomData(r, len(values(t, out)))

	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
	dx, err := m.Backward(New([]int(out.Shape()), append([]float32(nil), w...)))
	require.NoError(t, err)
	analytic := values(t, dx)

	loss := func() float64 {
		y, err := m.Forward(New(shape, append([]float32(nil), x...)))
		require.NoError(t, err)
		return weightedSum(values(t, y), w)
	}

	const eps = 1e-2
	for i := range x {
		orig := x[i]
		x[i] = orig + eps
		up := loss()
		x[i] = orig - eps
		down := loss()
		x[i] = orig
		assert.InDelta(t, (up-down)/(2*eps), analytic[i], 2e-2, "input %d", i)
	}

	for _, p := range m.Parameters() {
		data := p.Data()
		for i := range data {
			orig := data[i]
			data[i] = orig + eps
			up := loss()
			data[i] = orig - eps
			down := loss()
			data[i] = orig
			assert.InDelta(t, (up-down)/(2*eps), p.Grad[i], 2e-2, "%s[%d]", p.Name, i)
		}
	}
}

func TestLinearForward(t *testing.T) {
	l := NewLinear(3, 2)
	copy(l.Weight.Data(), []float32{1, 0, -1, 2, 1, 0})
	copy(l.Bias.Data(), []float32{0.5, -1})

	y, err := l.Forward(New([]int{2, 3}, []float32{1, 2, 3, -1, 0, 1}))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, []int(y.Shape()))
	assert.InDeltaSlice(t, []float32{-1.5, 3, -1.5, -3}, values(t, y), 1e-6)

	_, err = l.Forward(New([]int{1, 4}, make([]float32, 4)))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLinearGradients(t *testing.T) {
	SetRandomSeed(1)
	checkGradients(t, NewLinear(4, 3), []int{2, 4})
}

func TestConv2DForward(t *testing.T) {
	c := NewConv2D(1, 1, 3, 1, 1)
	for i := range c.Weight.Data() {
		c.Weight.Data()[i] = 1
	}
	c.Bias.Data()[0] = 0

	y, err := c.Forward(New([]int{1, 1, 3, 3}, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 3, 3}, []int(y.Shape()))
	assert.Equal(t, []float32{4, 6, 4, 6, 9, 6, 4, 6, 4}, values(t, y))

	_, err = c.Forward(New([]int{1, 2, 3, 3}, make([]float32, 18)))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestConv2DGradients(t *testing.T) {
	SetRandomSeed(2)
	checkGradients(t, NewConv2D(2, 3, 3, 1, 1), []int{3, 2, 4, 4})
}

func TestConv2DStride(t *testing.T) {
	c := NewConv2D(1, 2, 2, 2, 0)
	y, err := c.Forward(New([]int{1, 1, 4, 4}, make([]float32, 16)))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 2}, []int(y.Shape()))
}

func TestReLU(t *testing.T) {
	r := NewReLU()
	y, err := r.Forward(New([]int{1, 4}, []float32{-1, 2, 0, 3}))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2, 0, 3}, values(t, y))

	dx, err := r.Backward(New([]int{1, 4}, []float32{1, 1, 1, 1}))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 1}, values(t, dx))

	_, err = NewReLU().Backward(New([]int{1, 1}, []float32{1}))
	assert.ErrorIs(t, err, ErrNoForward)
}

func TestMaxPool2D(t *testing.T) {
	m := NewMaxPool2D(2, 2)
	x := []float32{
		1, 2, 5, 0,
		3, 4, 1, 1,
		0, 0, 7, 8,
		9, 0, 6, 2,
	}
	y, err := m.Forward(New([]int{1, 1, 4, 4}, x))
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5, 9, 8}, values(t, y))

	dx, err := m.Backward(New([]int{1, 1, 2, 2}, []float32{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.Equal(t, []float32{
		0, 0, 2, 0,
		0, 1, 0, 0,
		0, 0, 0, 4,
		3, 0, 0, 0,
	}, values(t, dx))
}

func TestAdaptiveAvgPool2D(t *testing.T) {
	a := NewAdaptiveAvgPool2D(1, 3)
	y, err := a.Forward(New([]int{1, 1, 1, 5}, []float32{1, 2, 3, 4, 5}))
	require.NoError(t, err)
	// windows [0,2) [1,4) [3,5)
	assert.InDeltaSlice(t, []float32{1.5, 3, 4.5}, values(t, y), 1e-6)

	identity := NewAdaptiveAvgPool2D(2, 2)
	y, err = identity.Forward(New([]int{1, 1, 2, 2}, []float32{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, values(t, y))

	checkGradients(t, NewAdaptiveAvgPool2D(2, 3), []int{2, 2, 5, 4})
}

func TestFlatten(t *testing.T) {
	f := NewFlatten()
	y, err := f.Forward(New([]int{2, 2, 1, 2}, []float32{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, []int(y.Shape()))

	dx, err := f.Backward(y)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1, 2}, []int(dx.Shape()))
}

func TestDropout(t *testing.T) {
	SetRandomSeed(5)
	d := NewDropout(0.5)
	x := make([]float32, 10000)
	for i := range x {
		x[i] = 1
	}

	t.Run("Train", func(t *testing.T) {
		d.Train()
		y, err := d.Forward(New([]int{1, len(x)}, x))
		require.NoError(t, err)
		var sum float64
		zeros := 0
		for _, v := range values(t, y) {
			sum += float64(v)
			if v == 0 {
				zeros++
			} else {
				assert.Equal(t, float32(2), v)
			}
		}
		assert.InDelta(t, 1.0, sum/float64(len(x)), 0.05)
		assert.InDelta(t, 5000, zeros, 300)
	})

	t.Run("Eval", func(t *testing.T) {
		d.Eval()
		y, err := d.Forward(New([]int{1, len(x)}, x))
		require.NoError(t, err)
		assert.Equal(t, x, values(t, y))
	})
}

func TestSoftmax(t *testing.T) {
	p, err := Softmax(New([]int{2, 3}, []float32{1, 2, 3, 1000, 1000, 1000}))
	require.NoError(t, err)
	v := values(t, p)
	for i := 0; i < 2; i++ {
		assert.InDelta(t, 1.0, v[i*3]+v[i*3+1]+v[i*3+2], 1e-6)
	}
	assert.InDelta(t, 1.0/3, v[3], 1e-6)
	assert.Greater(t, v[2], v[1])

	out := make([]float32, 3)
	LogSoftmaxRow([]float32{1, 2, 3}, out)
	assert.InDelta(t, math.Log(float64(v[0])), out[0], 1e-5)
}

func TestSequential(t *testing.T) {
	SetRandomSeed(9)
	features := NewSequential(NewConv2D(1, 2, 3, 1, 1), NewReLU(), NewMaxPool2D(2, 2))
	head := NewSequential(NewFlatten(), NewLinear(8, 3))
	model := NewSequential(features, head)

	named := NamedParameters(model, "")
	names := make([]string, len(named))
	for i, p := range named {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"0.0.weight", "0.0.bias", "1.1.weight", "1.1.bias"}, names)
	assert.Len(t, model.Parameters(), 4)

	y, err := model.Forward(New([]int{2, 1, 4, 4}, randomData(rand.New(rand.NewSource(1)), 32)))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, []int(y.Shape()))

	dx, err := model.Backward(New([]int{2, 3}, []float32{1, 0, 0, 0, 1, 0}))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 4, 4}, []int(dx.Shape()))

	model.Eval()
	assert.False(t, model.IsTraining())
	assert.False(t, head.At(1).IsTraining())

	require.NoError(t, head.Set(1, NewLinear(8, 5)))
	assert.False(t, head.At(1).IsTraining())
	assert.Error(t, head.Set(7, NewReLU()))

	spec := Describe(model, "")
	assert.Len(t, spec.Layers, 5)
	assert.Equal(t, int64(2*9+2+8*5+5), spec.TotalParameters)
	summary := spec.Summary()
	assert.True(t, strings.Contains(summary, "1.1"), summary)
	assert.Contains(t, summary, "Conv2d")
}

func TestSetRandomSeed(t *testing.T) {
	SetRandomSeed(3)
	a := NewLinear(4, 2).Weight.Data()
	SetRandomSeed(3)
	b := NewLinear(4, 2).Weight.Data()
	assert.Equal(t, a, b)
}

const unseededEnv = "LAYERS_PRINT_UNSEEDED_WEIGHTS"

func TestUnseededInitDiffersBetweenProcesses(t *testing.T) {
	if os.Getenv(unseededEnv) == "1" {
		fmt.Println(NewLinear(4, 2).Weight.Data())
		return
	}
	weights := func() string {
		cmd := exec.Command(os.Args[0], "-test.run=^TestUnseededInitDiffersBetweenProcesses$")
		cmd.Env = append(os.Environ(), unseededEnv+"=1")
		out, err := cmd.Output()
		require.NoError(t, err)
		return strings.SplitN(string(out), "\n", 2)[0]
	}
	assert.NotEqual(t, weights(), weights())
}
