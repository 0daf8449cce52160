package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/preprocessing"
)

var (
	// ErrNoClasses is returned when the root holds no class subdirectories.
	ErrNoClasses = errors.New("no class directories found")
	// ErrNoSamples is returned when class directories hold no usable images.
	ErrNoSamples = errors.New("no images found")
)

// DefaultExtensions are the file suffixes accepted when Options.Extensions
// is empty. Matching is case-insensitive.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp", ".gif"}

// Options configures an ImageFolder.
type Options struct {
	// IncludePaths makes GetItem report the source file of every sample.
	IncludePaths bool
	Extensions   []string
	Decode       preprocessing.DecodeOptions
}

// Sample is one discovered file and its class index.
type Sample struct {
	Path  string
	Label int
}

// Item is a decoded, transformed sample.
type Item struct {
	Path  string
	Image []float32
	Label int
}

// ImageFolder is a dataset loaded from a directory structure where each
// subdirectory represents a class. Class indices follow the sorted
// subdirectory names.
type ImageFolder struct {
	root       string
	samples    []Sample
	classNames []string
	classToIdx map[string]int
	transform  preprocessing.Transform
	opts       Options
}

// NewImageFolder scans root and builds the sample list. Files are not
// decoded until GetItem.
func NewImageFolder(root string, transform preprocessing.Transform, opts Options) (*ImageFolder, error) {
	if transform == nil {
		return nil, errors.New("dataset transform is nil")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset root %s", root)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("dataset root %s is not a directory", root)
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "list classes in %s", root)
	}

	d := &ImageFolder{
		root:       root,
		classToIdx: make(map[string]int),
		transform:  transform,
		opts:       opts,
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		d.classToIdx[e.Name()] = len(d.classNames)
		d.classNames = append(d.classNames, e.Name())
	}
	if len(d.classNames) == 0 {
		return nil, errors.Wrap(ErrNoClasses, root)
	}

	for idx, className := range d.classNames {
		classDir := filepath.Join(root, className)
		err := filepath.WalkDir(classDir, func(path string, de os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if de.IsDir() || !d.accepts(de.Name()) {
				return nil
			}
			d.samples = append(d.samples, Sample{Path: path, Label: idx})
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "scan class %s", className)
		}
	}
	if len(d.samples) == 0 {
		return nil, errors.Wrap(ErrNoSamples, root)
	}

	return d, nil
}

func (d *ImageFolder) accepts(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range d.opts.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Len returns the number of items in the dataset
func (d *ImageFolder) Len() int {
	return len(d.samples)
}

// Root returns the scanned directory.
func (d *ImageFolder) Root() string {
	return d.root
}

// Samples returns the discovered (path, label) pairs in index order.
func (d *ImageFolder) Samples() []Sample {
	return d.samples
}

// IncludePaths reports whether items carry their source path.
func (d *ImageFolder) IncludePaths() bool {
	return d.opts.IncludePaths
}

// Transform returns the per-sample transform.
func (d *ImageFolder) Transform() preprocessing.Transform {
	return d.transform
}

// SampleShape is the CHW shape of every transformed image.
func (d *ImageFolder) SampleShape() []int {
	return d.transform.Shape()
}

// GetItem decodes and transforms the sample at index.
func (d *ImageFolder) GetItem(index int) (Item, error) {
	if index < 0 || index >= len(d.samples) {
		return Item{}, errors.Errorf("index %d out of range [0, %d)", index, len(d.samples))
	}
	s := d.samples[index]

	img, err := preprocessing.DecodeFile(s.Path, d.opts.Decode)
	if err != nil {
		return Item{}, err
	}
	data, err := d.transform.Apply(img)
	if err != nil {
		return Item{}, errors.Wrapf(err, "transform %s", s.Path)
	}

	item := Item{Image: data, Label: s.Label}
	if d.opts.IncludePaths {
		item.Path = s.Path
	}
	return item, nil
}

// Label returns the class index of the sample at index without decoding it.
func (d *ImageFolder) Label(index int) int {
	return d.samples[index].Label
}

// NumClasses returns the number of classes
func (d *ImageFolder) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names
func (d *ImageFolder) ClassNames() []string {
	return d.classNames
}

// ClassToIdx maps a class directory name to its index.
func (d *ImageFolder) ClassToIdx() map[string]int {
	return d.classToIdx
}

// ClassDistribution returns the distribution of samples per class
func (d *ImageFolder) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, s := range d.samples {
		dist[d.classNames[s.Label]]++
	}
	return dist
}

// Subset creates a view holding only the samples at indices.
func (d *ImageFolder) Subset(indices []int) *ImageFolder {
	subset := *d
	subset.samples = make([]Sample, len(indices))
	for i, idx := range indices {
		subset.samples[i] = d.samples[idx]
	}
	return &subset
}

// String returns a string representation of the dataset
func (d *ImageFolder) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ImageFolder(%s): %d samples, %d classes\n", d.root, len(d.samples), len(d.classNames)))

	dist := d.ClassDistribution()
	for _, className := range d.classNames {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", className, dist[className]))
	}
	return sb.String()
}
