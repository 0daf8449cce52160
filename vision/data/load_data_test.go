package data

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/internal/fixtures"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/preprocessing"
)

func splitTree(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	classes := []string{"live", "spoof"}
	cfg := DefaultConfig()
	cfg.TrainPath = fixtures.ImageTree(t, filepath.Join(root, "train"), classes, []int{4, 3})
	cfg.ValPath = fixtures.ImageTree(t, filepath.Join(root, "val"), classes, []int{2, 1})
	cfg.TestPath = fixtures.ImageTree(t, filepath.Join(root, "test"), classes, []int{1, 2})
	cfg.ImageSize = 8
	cfg.BatchSize = 2
	cfg.Seed = 1
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 224, cfg.ImageSize)
	assert.Equal(t, preprocessing.ImageNet, cfg.Normalization)
	assert.True(t, cfg.Shuffle.Train)
	assert.False(t, cfg.Shuffle.Val)
	assert.False(t, cfg.Shuffle.Test)
	assert.True(t, cfg.SortVideos)
}

func TestLoaders(t *testing.T) {
	ld, err := New(splitTree(t))
	require.NoError(t, err)

	train, err := ld.TrainLoader()
	require.NoError(t, err)
	assert.Equal(t, 7, train.NumSamples())
	assert.Equal(t, 4, train.Len())

	val, err := ld.ValLoader()
	require.NoError(t, err)
	b, err := val.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 8, 8}, []int(b.Images.Shape()))
	assert.Nil(t, b.Paths)

	test, err := ld.TestLoader()
	require.NoError(t, err)
	total := 0
	for {
		b, err := test.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Len(t, b.Paths, b.Size())
		for i, p := range b.Paths {
			want := 0
			if filepath.Base(filepath.Dir(p)) == "spoof" {
				want = 1
			}
			assert.Equal(t, want, b.Labels[i])
		}
		total += b.Size()
	}
	assert.Equal(t, 3, total)
}

func TestLoaderLimit(t *testing.T) {
	cfg := splitTree(t)
	cfg.Limit = 3
	ld, err := New(cfg)
	require.NoError(t, err)

	train, err := ld.TrainLoader()
	require.NoError(t, err)
	assert.Equal(t, 3, train.NumSamples())
}

func TestLoaderErrors(t *testing.T) {
	cfg := splitTree(t)
	cfg.ValPath = t.TempDir()
	ld, err := New(cfg)
	require.NoError(t, err)

	_, err = ld.ValLoader()
	assert.Error(t, err)

	cfg.TestPath = ""
	ld, err = New(cfg)
	require.NoError(t, err)
	_, err = ld.TestLoader()
	assert.Error(t, err)

	cfg.BatchSize = 0
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestVideoLoader(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.mp4", "a.mp4", "b.mp4"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	cfg := DefaultConfig()
	cfg.TestVideoPath = dir
	ld, err := New(cfg)
	require.NoError(t, err)

	set, err := ld.TestVideoLoader()
	require.NoError(t, err)
	assert.Equal(t, dir, set.Dir)
	assert.Equal(t, []string{"a.mp4", "b.mp4", "c.mp4"}, set.Files)
	assert.Equal(t, []int{3, 224, 224}, set.Transform.Shape())

	cfg.TestVideoPath = filepath.Join(dir, "missing")
	ld, err = New(cfg)
	require.NoError(t, err)
	_, err = ld.TestVideoLoader()
	assert.Error(t, err)
}
