package layers

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Conv2D is a 2-D convolution over [N, C, H, W] inputs with square kernels.
// The weight is stored as [out, in, k, k].
type Conv2D struct {
	mode
	Weight  *Parameter
	Bias    *Parameter
	in      int
	out     int
	kernel  int
	stride  int
	padding int

	input []float32
	shape []int
}

// NewConv2D creates a convolution with PyTorch's default uniform init.
func NewConv2D(in, out, kernel, stride, padding int) *Conv2D {
	c := &Conv2D{
		Weight:  newParameter("weight", out, in, kernel, kernel),
		Bias:    newParameter("bias", out),
		in:      in,
		out:     out,
		kernel:  kernel,
		stride:  stride,
		padding: padding,
	}
	fanIn := in * kernel * kernel
	bound := 1 / math.Sqrt(float64(fanIn))
	Uniform(c.Weight, -bound, bound)
	Uniform(c.Bias, -bound, bound)
	return c
}

// OutChannels returns the number of filters.
func (c *Conv2D) OutChannels() int { return c.out }

// KernelSize returns the kernel edge length.
func (c *Conv2D) KernelSize() int { return c.kernel }

func (c *Conv2D) outSize(h, w int) (int, int) {
	oh := (h+2*c.padding-c.kernel)/c.stride + 1
	ow := (w+2*c.padding-c.kernel)/c.stride + 1
	return oh, ow
}

// Forward convolves every sample of the batch in parallel.
func (c *Conv2D) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	shape, x, err := checkRank("conv2d", input, 4)
	if err != nil {
		return nil, err
	}
	n, ch, h, w := shape[0], shape[1], shape[2], shape[3]
	if ch != c.in {
		return nil, errors.Wrapf(ErrShapeMismatch, "conv2d expects %d channels, got %d", c.in, ch)
	}
	oh, ow := c.outSize(h, w)
	if oh <= 0 || ow <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "conv2d input %dx%d too small for kernel %d", h, w, c.kernel)
	}

	rows, cols := c.in*c.kernel*c.kernel, oh*ow
	inSize, outSize := ch*h*w, c.out*cols
	weight, bias := c.Weight.Data(), c.Bias.Data()
	y := make([]float32, n*outSize)

	parallelFor(n, func(_, lo, hi int) {
		col := make([]float32, rows*cols)
		for s := lo; s < hi; s++ {
			c.im2col(x[s*inSize:(s+1)*inSize], h, w, oh, ow, col)
			ys := y[s*outSize : (s+1)*outSize]
			mul(false, false, matrix(c.out, rows, weight), matrix(rows, cols, col), 0, matrix(c.out, cols, ys))
			for o := 0; o < c.out; o++ {
				b := bias[o]
				row := ys[o*cols : (o+1)*cols]
				for j := range row {
					row[j] += b
				}
			}
		}
	})

	c.input, c.shape = x, shape
	return New([]int{n, c.out, oh, ow}, y), nil
}

// Backward recomputes the column buffers per sample rather than caching
// them, accumulating per-chunk weight gradients that are summed at the end.
func (c *Conv2D) Backward(grad *tensor.Dense) (*tensor.Dense, error) {
	if c.input == nil {
		return nil, errors.Wrap(ErrNoForward, "conv2d")
	}
	n, h, w := c.shape[0], c.shape[2], c.shape[3]
	oh, ow := c.outSize(h, w)
	gshape, g, err := checkRank("conv2d backward", grad, 4)
	if err != nil {
		return nil, err
	}
	if !sameShape(gshape, []int{n, c.out, oh, ow}) {
		return nil, errors.Wrapf(ErrShapeMismatch, "conv2d gradient %v, expected [%d %d %d %d]", gshape, n, c.out, oh, ow)
	}

	rows, cols := c.in*c.kernel*c.kernel, oh*ow
	inSize, outSize := c.in*h*w, c.out*cols
	weight := c.Weight.Data()
	dx := make([]float32, n*inSize)

	chunks := numChunks(n)
	dws := make([][]float32, chunks)
	dbs := make([][]float32, chunks)
	parallelFor(n, func(chunk, lo, hi int) {
		col := make([]float32, rows*cols)
		dcol := make([]float32, rows*cols)
		dw := make([]float32, len(weight))
		db := make([]float32, c.out)
		for s := lo; s < hi; s++ {
			gs := g[s*outSize : (s+1)*outSize]
			c.im2col(c.input[s*inSize:(s+1)*inSize], h, w, oh, ow, col)
			mul(false, true, matrix(c.out, cols, gs), matrix(rows, cols, col), 1, matrix(c.out, rows, dw))
			for o := 0; o < c.out; o++ {
				for _, v := range gs[o*cols : (o+1)*cols] {
					db[o] += v
				}
			}
			mul(true, false, matrix(c.out, rows, weight), matrix(c.out, cols, gs), 0, matrix(rows, cols, dcol))
			c.col2im(dcol, h, w, oh, ow, dx[s*inSize:(s+1)*inSize])
		}
		dws[chunk], dbs[chunk] = dw, db
	})

	for i := range dws {
		for j, v := range dws[i] {
			c.Weight.Grad[j] += v
		}
		for j, v := range dbs[i] {
			c.Bias.Grad[j] += v
		}
	}
	return New(c.shape, dx), nil
}

// im2col unrolls one [C, H, W] sample into [C*k*k, oh*ow].
func (c *Conv2D) im2col(x []float32, h, w, oh, ow int, col []float32) {
	k := c.kernel
	cols := oh * ow
	for ch := 0; ch < c.in; ch++ {
		plane := x[ch*h*w : (ch+1)*h*w]
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := col[((ch*k+ki)*k+kj)*cols:]
				for y := 0; y < oh; y++ {
					iy := y*c.stride - c.padding + ki
					dst := row[y*ow : (y+1)*ow]
					if iy < 0 || iy >= h {
						for i := range dst {
							dst[i] = 0
						}
						continue
					}
					src := plane[iy*w : (iy+1)*w]
					for xo := 0; xo < ow; xo++ {
						ix := xo*c.stride - c.padding + kj
						if ix < 0 || ix >= w {
							dst[xo] = 0
						} else {
							dst[xo] = src[ix]
						}
					}
				}
			}
		}
	}
}

// col2im scatters a [C*k*k, oh*ow] gradient back onto [C, H, W].
func (c *Conv2D) col2im(col []float32, h, w, oh, ow int, dx []float32) {
	k := c.kernel
	cols := oh * ow
	for ch := 0; ch < c.in; ch++ {
		plane := dx[ch*h*w : (ch+1)*h*w]
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := col[((ch*k+ki)*k+kj)*cols:]
				for y := 0; y < oh; y++ {
					iy := y*c.stride - c.padding + ki
					if iy < 0 || iy >= h {
						continue
					}
					for xo := 0; xo < ow; xo++ {
						ix := xo*c.stride - c.padding + kj
						if ix >= 0 && ix < w {
							plane[iy*w+ix] += row[y*ow+xo]
						}
					}
				}
			}
		}
	}
}

// Parameters returns weight and bias.
func (c *Conv2D) Parameters() []*Parameter {
	return []*Parameter{c.Weight, c.Bias}
}

// Spec describes the layer for summaries.
func (c *Conv2D) Spec() LayerSpec {
	return LayerSpec{
		Type: Conv2DLayer,
		Parameters: map[string]interface{}{
			"in_channels":  c.in,
			"out_channels": c.out,
			"kernel_size":  c.kernel,
			"stride":       c.stride,
			"padding":      c.padding,
		},
		ParameterShapes: [][]int{{c.out, c.in, c.kernel, c.kernel}, {c.out}},
		ParameterCount:  int64(c.out*c.in*c.kernel*c.kernel + c.out),
	}
}
