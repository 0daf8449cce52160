package dataloader

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/dataset"
)

// Dataset is what the loader reads samples from.
type Dataset interface {
	Len() int
	GetItem(index int) (dataset.Item, error)
	SampleShape() []int
}

// Batch is one mini-batch. Images has shape [N, C, H, W]. Paths is filled
// only when the dataset reports paths.
type Batch struct {
	Paths  []string
	Images *tensor.Dense
	Labels []int
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Labels)
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize  int
	Shuffle    bool
	NumWorkers int // parallel decodes per batch
	// CacheSize > 0 keeps that many decoded samples in an LRU cache.
	CacheSize int
	// Seed fixes the shuffle order; zero seeds from the clock.
	Seed int64
}

// DataLoader yields batches over a dataset in index order, reshuffled at
// every Reset when Shuffle is set. The final batch may be smaller.
type DataLoader struct {
	dataset Dataset
	cfg     Config
	shape   []int
	rng     *rand.Rand

	mu       sync.Mutex
	indices  []int
	position int

	cache *CacheManager
}

// NewDataLoader creates a new data loader
func NewDataLoader(ds Dataset, cfg Config) (*DataLoader, error) {
	if ds == nil {
		return nil, errors.New("dataloader: nil dataset")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("dataloader: batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	dl := &DataLoader{
		dataset: ds,
		cfg:     cfg,
		shape:   ds.SampleShape(),
		rng:     rand.New(rand.NewSource(seed)),
		indices: make([]int, ds.Len()),
	}
	for i := range dl.indices {
		dl.indices[i] = i
	}
	if cfg.CacheSize > 0 {
		dl.cache = NewCacheManager(cfg.CacheSize)
	}
	dl.Reset()
	return dl, nil
}

// Len returns the number of batches per epoch.
func (dl *DataLoader) Len() int {
	n := len(dl.indices)
	return (n + dl.cfg.BatchSize - 1) / dl.cfg.BatchSize
}

// NumSamples returns the dataset size.
func (dl *DataLoader) NumSamples() int {
	return len(dl.indices)
}

// BatchSize returns the configured batch size.
func (dl *DataLoader) BatchSize() int {
	return dl.cfg.BatchSize
}

// Reset rewinds to the first batch and reshuffles if enabled.
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	if dl.cfg.Shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch, or io.EOF once the epoch is exhausted.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, io.EOF
	}
	n := dl.cfg.BatchSize
	if remaining < n {
		n = remaining
	}
	batchIdx := dl.indices[dl.position : dl.position+n]

	items := make([]dataset.Item, n)
	var g errgroup.Group
	g.SetLimit(dl.cfg.NumWorkers)
	for i, idx := range batchIdx {
		i, idx := i, idx
		g.Go(func() error {
			item, err := dl.load(idx)
			if err != nil {
				return errors.Wrapf(err, "sample %d", idx)
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	dl.position += n

	return dl.collate(items)
}

func (dl *DataLoader) load(idx int) (dataset.Item, error) {
	if dl.cache != nil {
		if item, ok := dl.cache.Get(idx); ok {
			return item, nil
		}
	}
	item, err := dl.dataset.GetItem(idx)
	if err != nil {
		return dataset.Item{}, err
	}
	if dl.cache != nil {
		dl.cache.Put(idx, item)
	}
	return item, nil
}

func (dl *DataLoader) collate(items []dataset.Item) (*Batch, error) {
	per := 1
	for _, d := range dl.shape {
		per *= d
	}

	data := make([]float32, len(items)*per)
	b := &Batch{Labels: make([]int, len(items))}
	for i, item := range items {
		if len(item.Image) != per {
			return nil, errors.Errorf("sample has %d values, expected %d for shape %v", len(item.Image), per, dl.shape)
		}
		copy(data[i*per:], item.Image)
		b.Labels[i] = item.Label
		if item.Path != "" {
			b.Paths = append(b.Paths, item.Path)
		}
	}
	if len(b.Paths) != 0 && len(b.Paths) != len(items) {
		return nil, errors.New("batch mixes samples with and without paths")
	}

	shape := append([]int{len(items)}, dl.shape...)
	b.Images = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	return b, nil
}

// Progress returns the current progress through the dataset
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}

// Stats returns cache statistics, or an empty string without a cache.
func (dl *DataLoader) Stats() string {
	if dl.cache == nil {
		return ""
	}
	return dl.cache.Stats().String()
}
