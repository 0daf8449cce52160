package preprocessing

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func noisyImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(7)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			seed = seed*1664525 + 1013904223
			img.SetRGBA(x, y, color.RGBA{uint8(seed >> 24), uint8(seed >> 16), uint8(seed >> 8), 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestComposeShapeAndNormalization(t *testing.T) {
	tr, err := Compose(8, ImageNet)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 8, 8}, tr.Shape())

	out, err := tr.Apply(solidImage(20, 12, color.RGBA{255, 255, 255, 255}))
	require.NoError(t, err)
	require.Len(t, out, 3*8*8)

	for c := 0; c < 3; c++ {
		want := (1 - ImageNet.Mean[c]) / ImageNet.Std[c]
		for i := 0; i < 64; i++ {
			assert.InDelta(t, want, out[c*64+i], 1e-4)
		}
	}
}

func TestComposeUnitRange(t *testing.T) {
	tr, err := Compose(4, UnitRange)
	require.NoError(t, err)

	out, err := tr.Apply(solidImage(4, 4, color.RGBA{0, 255, 0, 255}))
	require.NoError(t, err)
	assert.InDelta(t, -1.0, out[0], 1e-5)
	assert.InDelta(t, 1.0, out[16], 1e-5)
	assert.InDelta(t, -1.0, out[32], 1e-5)
}

func TestComposeRejectsBadArguments(t *testing.T) {
	_, err := Compose(0, ImageNet)
	assert.Error(t, err)

	_, err = Compose(4, Normalization{Name: "broken"})
	assert.Error(t, err)
}

func TestParseNormalization(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "imagenet", false},
		{"ImageNet", "imagenet", false},
		{"unit-range", "unit-range", false},
		{"none", "none", false},
		{"zscore", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseNormalization(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Name)
		})
	}
}

func TestDecodeFormats(t *testing.T) {
	img := solidImage(10, 6, color.RGBA{10, 20, 30, 255})

	t.Run("png", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		got, err := Decode(&buf, DecodeOptions{})
		require.NoError(t, err)
		assert.Equal(t, 10, got.Bounds().Dx())
		assert.Equal(t, 6, got.Bounds().Dy())
	})

	t.Run("jpeg", func(t *testing.T) {
		got, err := Decode(bytes.NewReader(encodeJPEG(t, img)), DecodeOptions{})
		require.NoError(t, err)
		assert.Equal(t, 10, got.Bounds().Dx())
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Decode(bytes.NewReader([]byte("not an image")), DecodeOptions{AllowTruncated: true})
		assert.Error(t, err)
	})
}

func TestDecodeTruncatedJPEG(t *testing.T) {
	full := encodeJPEG(t, noisyImage(64, 64))
	cut := full[:len(full)*2/3]

	_, err := Decode(bytes.NewReader(cut), DecodeOptions{})
	require.Error(t, err)

	img, err := Decode(bytes.NewReader(cut), DecodeOptions{AllowTruncated: true})
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
}

func TestDecodeFileMissing(t *testing.T) {
	_, err := DecodeFile(filepath.Join(t.TempDir(), "missing.jpg"), DecodeOptions{})
	assert.Error(t, err)
}

func TestPreprocessFiles(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, c := range []color.RGBA{{255, 0, 0, 255}, {0, 0, 255, 255}, {0, 255, 0, 255}} {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, solidImage(5, 5, c)))
		p := filepath.Join(dir, string(rune('a'+i))+".png")
		require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
		paths = append(paths, p)
	}

	tr, err := Compose(2, Identity)
	require.NoError(t, err)

	out, err := PreprocessFiles(paths, tr, DecodeOptions{}, 2)
	require.NoError(t, err)
	require.Len(t, out, 3)

	// order follows the input: red, blue, green
	assert.InDelta(t, 1.0, out[0][0], 1e-5)
	assert.InDelta(t, 1.0, out[1][8], 1e-5)
	assert.InDelta(t, 1.0, out[2][4], 1e-5)

	for _, sample := range out {
		for _, v := range sample {
			assert.False(t, math.IsNaN(float64(v)))
		}
	}

	_, err = PreprocessFiles(append(paths, filepath.Join(dir, "nope.png")), tr, DecodeOptions{}, 0)
	assert.Error(t, err)
}
