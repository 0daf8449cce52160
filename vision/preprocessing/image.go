package preprocessing

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// DecodeOptions controls how image files are decoded.
type DecodeOptions struct {
	// AllowTruncated lets a JPEG whose entropy-coded data ends early decode
	// anyway; the missing tail is filled with zero coefficients.
	AllowTruncated bool
}

var jpegEOI = []byte{0xFF, 0xD9}

// Decode reads a whole image from r. Any format registered with the image
// package is accepted (JPEG, PNG, GIF, BMP, WebP).
func Decode(r io.Reader, opts DecodeOptions) (image.Image, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err == nil {
		return img, nil
	}
	if !opts.AllowTruncated || !isJPEG(raw) {
		if format == "" {
			return nil, errors.Wrap(err, "decode image")
		}
		return nil, errors.Wrapf(err, "decode %s", format)
	}

	padded, perr := padTruncatedJPEG(raw)
	if perr != nil {
		return nil, errors.Wrap(err, "decode truncated jpeg")
	}
	img, rerr := jpeg.Decode(bytes.NewReader(padded))
	if rerr != nil {
		return nil, errors.Wrap(err, "decode truncated jpeg")
	}
	return img, nil
}

// DecodeFile opens path and decodes it with Decode.
func DecodeFile(path string, opts DecodeOptions) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	img, err := Decode(f, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "image %s", path)
	}
	return img, nil
}

func isJPEG(raw []byte) bool {
	return len(raw) > 2 && raw[0] == 0xFF && raw[1] == 0xD8
}

// padTruncatedJPEG appends enough zero bytes to cover one byte per pixel
// followed by an end-of-image marker.
func padTruncatedJPEG(raw []byte) ([]byte, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	pad := cfg.Width * cfg.Height
	out := make([]byte, 0, len(raw)+pad+len(jpegEOI))
	out = append(out, raw...)
	out = append(out, make([]byte, pad)...)
	out = append(out, jpegEOI...)
	return out, nil
}

// ImageProcessor resizes decoded images and converts them to CHW float32
// tensors. It holds no per-call state and is safe for concurrent use.
type ImageProcessor struct {
	targetSize int
	norm       Normalization
}

// NewImageProcessor creates a new image processor with the specified target size
func NewImageProcessor(targetSize int, norm Normalization) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
		norm:       norm,
	}
}

// TargetSize returns the square edge length images are resized to.
func (p *ImageProcessor) TargetSize() int {
	return p.targetSize
}

// Normalization returns the per-channel normalization applied after scaling.
func (p *ImageProcessor) Normalization() Normalization {
	return p.norm
}

// Apply resizes img to targetSize x targetSize with bilinear filtering,
// scales to [0, 1] and normalizes each channel. The result is CHW.
func (p *ImageProcessor) Apply(img image.Image) ([]float32, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.Errorf("empty image bounds %v", bounds)
	}

	dst := image.NewRGBA(image.Rect(0, 0, p.targetSize, p.targetSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)

	plane := p.targetSize * p.targetSize
	data := make([]float32, 3*plane)
	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			c := dst.RGBAAt(x, y)
			idx := y*p.targetSize + x
			data[idx] = p.norm.apply(0, toUnit(c.R, c.A))
			data[plane+idx] = p.norm.apply(1, toUnit(c.G, c.A))
			data[2*plane+idx] = p.norm.apply(2, toUnit(c.B, c.A))
		}
	}
	return data, nil
}

// Shape returns the CHW shape produced by Apply.
func (p *ImageProcessor) Shape() []int {
	return []int{3, p.targetSize, p.targetSize}
}

// toUnit undoes alpha premultiplication, then scales to [0, 1].
func toUnit(v, a uint8) float32 {
	if a == 0 || a == 0xFF {
		return float32(v) / 255.0
	}
	u := float32(v) / float32(a)
	if u > 1 {
		u = 1
	}
	return u
}

// PreprocessFiles decodes and transforms every path concurrently using at
// most maxWorkers goroutines. Results keep the input order.
func PreprocessFiles(paths []string, t Transform, opts DecodeOptions, maxWorkers int) ([][]float32, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([][]float32, len(paths))
	var g errgroup.Group
	g.SetLimit(maxWorkers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			img, err := DecodeFile(path, opts)
			if err != nil {
				return err
			}
			data, err := t.Apply(img)
			if err != nil {
				return errors.Wrapf(err, "transform %s", path)
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
