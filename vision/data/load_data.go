// Package data builds the train, validation and test loaders from three
// labelled image folders and lists the videos of the video test set.
package data

import (
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/dataloader"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/dataset"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/preprocessing"
)

// SplitShuffle selects which splits are reshuffled every epoch.
type SplitShuffle struct {
	Train bool
	Val   bool
	Test  bool
}

// Config describes where the splits live and how they are batched.
type Config struct {
	TrainPath     string
	ValPath       string
	TestPath      string
	TestVideoPath string

	BatchSize     int
	ImageSize     int
	NumWorkers    int
	CacheSize     int
	Normalization preprocessing.Normalization
	Shuffle       SplitShuffle
	SortVideos    bool
	Decode        preprocessing.DecodeOptions
	// Limit caps every split to its first Limit samples when positive.
	Limit int
	Seed  int64
}

// DefaultConfig returns batch size 10, 224x224 ImageNet-normalized inputs,
// shuffling for the training split only and sorted video listings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     10,
		ImageSize:     224,
		NumWorkers:    4,
		Normalization: preprocessing.ImageNet,
		Shuffle:       SplitShuffle{Train: true},
		SortVideos:    true,
	}
}

// VideoSet is the listing of the video test directory.
type VideoSet struct {
	Dir       string
	Files     []string
	Transform preprocessing.Transform
}

// LoadData is the facade over the dataset and loader packages.
type LoadData struct {
	cfg       Config
	transform preprocessing.Transform
}

// New validates cfg and prepares the shared transform.
func New(cfg Config) (*LoadData, error) {
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	tr, err := preprocessing.Compose(cfg.ImageSize, cfg.Normalization)
	if err != nil {
		return nil, err
	}
	return &LoadData{cfg: cfg, transform: tr}, nil
}

// Config returns the configuration the facade was built with.
func (l *LoadData) Config() Config {
	return l.cfg
}

// Transform returns the resize, tensor and normalize pipeline.
func (l *LoadData) Transform() preprocessing.Transform {
	return l.transform
}

// TrainLoader builds a loader over the training folder.
func (l *LoadData) TrainLoader() (*dataloader.DataLoader, error) {
	return l.loader("train", l.cfg.TrainPath, l.cfg.Shuffle.Train, false)
}

// ValLoader builds a loader over the validation folder.
func (l *LoadData) ValLoader() (*dataloader.DataLoader, error) {
	return l.loader("val", l.cfg.ValPath, l.cfg.Shuffle.Val, false)
}

// TestLoader builds a loader over the test folder whose batches carry the
// source path of every sample.
func (l *LoadData) TestLoader() (*dataloader.DataLoader, error) {
	return l.loader("test", l.cfg.TestPath, l.cfg.Shuffle.Test, true)
}

func (l *LoadData) loader(split, root string, shuffle, withPaths bool) (*dataloader.DataLoader, error) {
	if root == "" {
		return nil, errors.Errorf("%s path is not set", split)
	}
	ds, err := dataset.NewImageFolder(root, l.transform, dataset.Options{
		IncludePaths: withPaths,
		Decode:       l.cfg.Decode,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s dataset", split)
	}
	if l.cfg.Limit > 0 && l.cfg.Limit < ds.Len() {
		idx := make([]int, l.cfg.Limit)
		for i := range idx {
			idx[i] = i
		}
		ds = ds.Subset(idx)
	}

	dl, err := dataloader.NewDataLoader(ds, dataloader.Config{
		BatchSize:  l.cfg.BatchSize,
		Shuffle:    shuffle,
		NumWorkers: l.cfg.NumWorkers,
		CacheSize:  l.cfg.CacheSize,
		Seed:       l.cfg.Seed,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s loader", split)
	}
	return dl, nil
}

// TestVideoLoader lists the regular files of the video directory. No video
// content is read.
func (l *LoadData) TestVideoLoader() (*VideoSet, error) {
	if l.cfg.TestVideoPath == "" {
		return nil, errors.New("test video path is not set")
	}
	entries, err := os.ReadDir(l.cfg.TestVideoPath)
	if err != nil {
		return nil, errors.Wrapf(err, "list videos in %s", l.cfg.TestVideoPath)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	if l.cfg.SortVideos {
		sort.Strings(files)
	}
	return &VideoSet{Dir: l.cfg.TestVideoPath, Files: files, Transform: l.transform}, nil
}
