package dataloader

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/internal/fixtures"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/dataset"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/preprocessing"
)

// fakeDataset encodes the index in the single pixel value.
type fakeDataset struct {
	n       int
	paths   bool
	failAt  int
	getHits int
}

func (f *fakeDataset) Len() int           { return f.n }
func (f *fakeDataset) SampleShape() []int { return []int{1, 1, 2} }
func (f *fakeDataset) GetItem(i int) (dataset.Item, error) {
	f.getHits++
	if f.failAt >= 0 && i == f.failAt {
		return dataset.Item{}, errors.New("boom")
	}
	item := dataset.Item{Image: []float32{float32(i), -float32(i)}, Label: i % 2}
	if f.paths {
		item.Path = fmt.Sprintf("dir/%d.jpg", i)
	}
	return item, nil
}

func drain(t *testing.T, dl *DataLoader) []*Batch {
	t.Helper()
	var out []*Batch
	for {
		b, err := dl.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, b)
	}
}

func TestDataLoaderBatching(t *testing.T) {
	ds := &fakeDataset{n: 7, failAt: -1}
	dl, err := NewDataLoader(ds, Config{BatchSize: 3, NumWorkers: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, dl.Len())
	assert.Equal(t, 7, dl.NumSamples())

	batches := drain(t, dl)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{3, 1, 1, 2}, []int(batches[0].Images.Shape()))
	assert.Equal(t, []int{1, 1, 1, 2}, []int(batches[2].Images.Shape()))

	data := batches[1].Images.Data().([]float32)
	assert.Equal(t, []float32{3, -3, 4, -4, 5, -5}, data)
	assert.Equal(t, []int{1, 0, 1}, batches[1].Labels)
	assert.Nil(t, batches[1].Paths)

	cur, total := dl.Progress()
	assert.Equal(t, 7, cur)
	assert.Equal(t, 7, total)

	dl.Reset()
	assert.Len(t, drain(t, dl), 3)
}

func TestDataLoaderShuffleCoversEverySample(t *testing.T) {
	ds := &fakeDataset{n: 20, failAt: -1}
	dl, err := NewDataLoader(ds, Config{BatchSize: 6, Shuffle: true, Seed: 42})
	require.NoError(t, err)

	var first []int
	for _, b := range drain(t, dl) {
		data := b.Images.Data().([]float32)
		for i := 0; i < b.Size(); i++ {
			first = append(first, int(data[2*i]))
		}
	}
	sorted := append([]int(nil), first...)
	sort.Ints(sorted)
	for i := range sorted {
		assert.Equal(t, i, sorted[i])
	}

	identity := true
	for i, v := range first {
		if v != i {
			identity = false
		}
	}
	assert.False(t, identity, "shuffled order should differ from index order")
}

func TestDataLoaderPaths(t *testing.T) {
	dl, err := NewDataLoader(&fakeDataset{n: 4, paths: true, failAt: -1}, Config{BatchSize: 4})
	require.NoError(t, err)

	b, err := dl.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"dir/0.jpg", "dir/1.jpg", "dir/2.jpg", "dir/3.jpg"}, b.Paths)
}

func TestDataLoaderPropagatesErrors(t *testing.T) {
	dl, err := NewDataLoader(&fakeDataset{n: 4, failAt: 2}, Config{BatchSize: 2})
	require.NoError(t, err)

	_, err = dl.Next()
	require.NoError(t, err)
	_, err = dl.Next()
	assert.Error(t, err)
}

func TestDataLoaderConfigValidation(t *testing.T) {
	_, err := NewDataLoader(&fakeDataset{n: 1, failAt: -1}, Config{})
	assert.Error(t, err)
	_, err = NewDataLoader(nil, Config{BatchSize: 1})
	assert.Error(t, err)
}

func TestDataLoaderCache(t *testing.T) {
	ds := &fakeDataset{n: 4, failAt: -1}
	dl, err := NewDataLoader(ds, Config{BatchSize: 2, CacheSize: 10})
	require.NoError(t, err)

	drain(t, dl)
	dl.Reset()
	drain(t, dl)
	assert.Equal(t, 4, ds.getHits)
	assert.Contains(t, dl.Stats(), "Hits: 4")
}

func TestDataLoaderOverImageFolder(t *testing.T) {
	root := fixtures.ImageTree(t, t.TempDir(), []string{"live", "spoof"}, []int{3, 2})
	tr, err := preprocessing.Compose(8, preprocessing.ImageNet)
	require.NoError(t, err)
	ds, err := dataset.NewImageFolder(root, tr, dataset.Options{IncludePaths: true})
	require.NoError(t, err)

	dl, err := NewDataLoader(ds, Config{BatchSize: 2, NumWorkers: 3})
	require.NoError(t, err)

	seen := 0
	for _, b := range drain(t, dl) {
		shape := b.Images.Shape()
		assert.Equal(t, []int{b.Size(), 3, 8, 8}, []int(shape))
		for i, p := range b.Paths {
			class := filepath.Base(filepath.Dir(p))
			assert.Equal(t, ds.ClassToIdx()[class], b.Labels[i])
		}
		seen += b.Size()
	}
	assert.Equal(t, 5, seen)
}
