package layers

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// MaxPool2D takes the maximum over square windows.
type MaxPool2D struct {
	mode
	Kernel int
	Stride int

	argmax []int32
	shape  []int
}

// NewMaxPool2D creates a max-pooling layer.
func NewMaxPool2D(kernel, stride int) *MaxPool2D {
	return &MaxPool2D{Kernel: kernel, Stride: stride}
}

// Forward pools [N, C, H, W] into [N, C, (H-k)/s+1, (W-k)/s+1].
func (m *MaxPool2D) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	shape, x, err := checkRank("maxpool2d", input, 4)
	if err != nil {
		return nil, err
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	oh := (h-m.Kernel)/m.Stride + 1
	ow := (w-m.Kernel)/m.Stride + 1
	if oh <= 0 || ow <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "maxpool2d input %dx%d smaller than kernel %d", h, w, m.Kernel)
	}

	y := make([]float32, n*c*oh*ow)
	m.argmax = make([]int32, len(y))
	parallelFor(n*c, func(_, lo, hi int) {
		for p := lo; p < hi; p++ {
			plane := x[p*h*w : (p+1)*h*w]
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					best := -1
					var bestV float32
					for ky := 0; ky < m.Kernel; ky++ {
						row := (oy*m.Stride + ky) * w
						for kx := 0; kx < m.Kernel; kx++ {
							idx := row + ox*m.Stride + kx
							if best < 0 || plane[idx] > bestV {
								best, bestV = idx, plane[idx]
							}
						}
					}
					o := (p*oh+oy)*ow + ox
					y[o] = bestV
					m.argmax[o] = int32(p*h*w + best)
				}
			}
		}
	})

	m.shape = shape
	return New([]int{n, c, oh, ow}, y), nil
}

// Backward routes each gradient to the position that won the max.
func (m *MaxPool2D) Backward(grad *tensor.Dense) (*tensor.Dense, error) {
	if m.argmax == nil {
		return nil, errors.Wrap(ErrNoForward, "maxpool2d")
	}
	g, err := Float32s(grad)
	if err != nil {
		return nil, errors.Wrap(err, "maxpool2d backward")
	}
	if len(g) != len(m.argmax) {
		return nil, errors.Wrapf(ErrShapeMismatch, "maxpool2d gradient has %d values, expected %d", len(g), len(m.argmax))
	}
	dx := make([]float32, numel(m.shape))
	for o, src := range m.argmax {
		dx[src] += g[o]
	}
	return New(m.shape, dx), nil
}

// Parameters returns nil.
func (m *MaxPool2D) Parameters() []*Parameter { return nil }

// Spec describes the layer for summaries.
func (m *MaxPool2D) Spec() LayerSpec {
	return LayerSpec{Type: MaxPool2DLayer, Parameters: map[string]interface{}{
		"kernel_size": m.Kernel,
		"stride":      m.Stride,
	}}
}

// AdaptiveAvgPool2D averages each input plane down to a fixed output size.
// Window i along an axis of length L covers [floor(i*L/out), ceil((i+1)*L/out)).
type AdaptiveAvgPool2D struct {
	mode
	OutH, OutW int

	shape []int
}

// NewAdaptiveAvgPool2D creates an adaptive average-pooling layer.
func NewAdaptiveAvgPool2D(outH, outW int) *AdaptiveAvgPool2D {
	return &AdaptiveAvgPool2D{OutH: outH, OutW: outW}
}

func adaptiveWindow(i, in, out int) (int, int) {
	start := (i * in) / out
	end := ((i+1)*in + out - 1) / out
	return start, end
}

// Forward pools [N, C, H, W] into [N, C, OutH, OutW].
func (a *AdaptiveAvgPool2D) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	shape, x, err := checkRank("adaptiveavgpool2d", input, 4)
	if err != nil {
		return nil, err
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	y := make([]float32, n*c*a.OutH*a.OutW)
	for p := 0; p < n*c; p++ {
		plane := x[p*h*w : (p+1)*h*w]
		for oy := 0; oy < a.OutH; oy++ {
			y0, y1 := adaptiveWindow(oy, h, a.OutH)
			for ox := 0; ox < a.OutW; ox++ {
				x0, x1 := adaptiveWindow(ox, w, a.OutW)
				var sum float32
				for iy := y0; iy < y1; iy++ {
					for ix := x0; ix < x1; ix++ {
						sum += plane[iy*w+ix]
					}
				}
				y[(p*a.OutH+oy)*a.OutW+ox] = sum / float32((y1-y0)*(x1-x0))
			}
		}
	}
	a.shape = shape
	return New([]int{n, c, a.OutH, a.OutW}, y), nil
}

// Backward spreads each gradient evenly over its window.
func (a *AdaptiveAvgPool2D) Backward(grad *tensor.Dense) (*tensor.Dense, error) {
	if a.shape == nil {
		return nil, errors.Wrap(ErrNoForward, "adaptiveavgpool2d")
	}
	n, c, h, w := a.shape[0], a.shape[1], a.shape[2], a.shape[3]
	g, err := Float32s(grad)
	if err != nil {
		return nil, errors.Wrap(err, "adaptiveavgpool2d backward")
	}
	if len(g) != n*c*a.OutH*a.OutW {
		return nil, errors.Wrapf(ErrShapeMismatch, "adaptiveavgpool2d gradient has %d values", len(g))
	}
	dx := make([]float32, n*c*h*w)
	for p := 0; p < n*c; p++ {
		plane := dx[p*h*w : (p+1)*h*w]
		for oy := 0; oy < a.OutH; oy++ {
			y0, y1 := adaptiveWindow(oy, h, a.OutH)
			for ox := 0; ox < a.OutW; ox++ {
				x0, x1 := adaptiveWindow(ox, w, a.OutW)
				share := g[(p*a.OutH+oy)*a.OutW+ox] / float32((y1-y0)*(x1-x0))
				for iy := y0; iy < y1; iy++ {
					for ix := x0; ix < x1; ix++ {
						plane[iy*w+ix] += share
					}
				}
			}
		}
	}
	return New(a.shape, dx), nil
}

// Parameters returns nil.
func (a *AdaptiveAvgPool2D) Parameters() []*Parameter { return nil }

// Spec describes the layer for summaries.
func (a *AdaptiveAvgPool2D) Spec() LayerSpec {
	return LayerSpec{Type: AdaptiveAvgPool2DLayer, Parameters: map[string]interface{}{
		"output_size": []int{a.OutH, a.OutW},
	}}
}

// Flatten reshapes [N, ...] into [N, prod(...)].
type Flatten struct {
	mode
	shape []int
}

// NewFlatten creates a flatten layer.
func NewFlatten() *Flatten { return &Flatten{} }

// Forward copies the input into an [N, rest] tensor.
func (f *Flatten) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	x, err := Float32s(input)
	if err != nil {
		return nil, errors.Wrap(err, "flatten")
	}
	f.shape = []int(input.Shape())
	if len(f.shape) < 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "flatten expects a batch dimension, got %v", f.shape)
	}
	y := make([]float32, len(x))
	copy(y, x)
	return New([]int{f.shape[0], len(x) / f.shape[0]}, y), nil
}

// Backward restores the input shape.
func (f *Flatten) Backward(grad *tensor.Dense) (*tensor.Dense, error) {
	if f.shape == nil {
		return nil, errors.Wrap(ErrNoForward, "flatten")
	}
	g, err := Float32s(grad)
	if err != nil {
		return nil, errors.Wrap(err, "flatten backward")
	}
	dx := make([]float32, len(g))
	copy(dx, g)
	return New(f.shape, dx), nil
}

// Parameters returns nil.
func (f *Flatten) Parameters() []*Parameter { return nil }

// Spec describes the layer for summaries.
func (f *Flatten) Spec() LayerSpec { return LayerSpec{Type: FlattenLayer} }
