package preprocessing

import (
	"image"
	"strings"

	"github.com/pkg/errors"
)

// Transform turns a decoded image into a CHW float32 sample.
type Transform interface {
	Apply(img image.Image) ([]float32, error)
	Shape() []int
}

// Normalization holds per-channel mean and standard deviation applied as
// (x - mean) / std after scaling pixels to [0, 1].
type Normalization struct {
	Name string
	Mean [3]float32
	Std  [3]float32
}

var (
	// ImageNet is the channel statistics of the ImageNet training set.
	ImageNet = Normalization{
		Name: "imagenet",
		Mean: [3]float32{0.485, 0.456, 0.406},
		Std:  [3]float32{0.229, 0.224, 0.225},
	}
	// UnitRange maps [0, 1] to [-1, 1].
	UnitRange = Normalization{
		Name: "unit-range",
		Mean: [3]float32{0.5, 0.5, 0.5},
		Std:  [3]float32{0.5, 0.5, 0.5},
	}
	// Identity leaves values in [0, 1].
	Identity = Normalization{
		Name: "none",
		Mean: [3]float32{0, 0, 0},
		Std:  [3]float32{1, 1, 1},
	}
)

// ParseNormalization resolves a preset name. The empty name selects ImageNet.
func ParseNormalization(name string) (Normalization, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "imagenet":
		return ImageNet, nil
	case "unit-range", "unit", "half":
		return UnitRange, nil
	case "none", "identity":
		return Identity, nil
	}
	return Normalization{}, errors.Errorf("unknown normalization preset %q", name)
}

func (n Normalization) apply(channel int, v float32) float32 {
	return (v - n.Mean[channel]) / n.Std[channel]
}

// Compose is the standard evaluation pipeline: resize to size x size,
// convert to a tensor, normalize.
func Compose(size int, norm Normalization) (Transform, error) {
	if size <= 0 {
		return nil, errors.Errorf("image size must be positive, got %d", size)
	}
	for c := 0; c < 3; c++ {
		if norm.Std[c] == 0 {
			return nil, errors.Errorf("normalization %q has zero std for channel %d", norm.Name, c)
		}
	}
	return NewImageProcessor(size, norm), nil
}
