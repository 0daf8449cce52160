// Package fixtures writes small labelled image trees for tests.
package fixtures

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// ClassColors gives every class a distinct solid colour so labels can be
// recovered from pixels.
var ClassColors = []color.RGBA{
	{220, 30, 30, 255},
	{30, 30, 220, 255},
	{30, 220, 30, 255},
	{200, 200, 40, 255},
}

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// WriteImage encodes img to path; the extension picks PNG or JPEG.
func WriteImage(t testing.TB, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch filepath.Ext(path) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ImageTree creates root/<class>/img_<i>.png for every class in order,
// with counts[i] images in class i. It returns root.
func ImageTree(t testing.TB, root string, classes []string, counts []int) string {
	t.Helper()
	for ci, class := range classes {
		for i := 0; i < counts[ci]; i++ {
			p := filepath.Join(root, class, fmt.Sprintf("img_%03d.png", i))
			WriteImage(t, p, Solid(6, 6, ClassColors[ci%len(ClassColors)]))
		}
	}
	return root
}
