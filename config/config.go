// Package config loads the liveness pipeline settings from a YAML file,
// LIVENESS_* environment variables and command-line flags.
package config

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/checkpoints"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/device"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/optimizer"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/training"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/data"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/preprocessing"
)

// EnvPrefix is prepended to every environment override, e.g.
// LIVENESS_OPTIM_LR.
const EnvPrefix = "LIVENESS"

// Config is the whole tool configuration. Keys mirror the YAML layout, so
// data.batch_size maps to Config.Data.BatchSize.
type Config struct {
	Device      string      `mapstructure:"device" yaml:"device"`
	MetricsFile string      `mapstructure:"metrics_file" yaml:"metrics_file"`
	Data        DataConfig  `mapstructure:"data" yaml:"data"`
	Model       ModelConfig `mapstructure:"model" yaml:"model"`
	Optim       OptimConfig `mapstructure:"optim" yaml:"optim"`
	Train       TrainConfig `mapstructure:"train" yaml:"train"`
	Test        TestConfig  `mapstructure:"test" yaml:"test"`
	Video       VideoConfig `mapstructure:"video" yaml:"video"`
}

// DataConfig locates the image folders and controls decoding and batching.
type DataConfig struct {
	TrainPath      string       `mapstructure:"train_path" yaml:"train_path"`
	ValPath        string       `mapstructure:"val_path" yaml:"val_path"`
	TestPath       string       `mapstructure:"test_path" yaml:"test_path"`
	TestVideoPath  string       `mapstructure:"test_video_path" yaml:"test_video_path"`
	BatchSize      int          `mapstructure:"batch_size" yaml:"batch_size"`
	ImageSize      int          `mapstructure:"image_size" yaml:"image_size"`
	NumWorkers     int          `mapstructure:"num_workers" yaml:"num_workers"`
	CacheSize      int          `mapstructure:"cache_size" yaml:"cache_size"`
	Normalization  string       `mapstructure:"normalization" yaml:"normalization"`
	Shuffle        ShuffleFlags `mapstructure:"shuffle" yaml:"shuffle"`
	SortVideos     bool         `mapstructure:"sort_videos" yaml:"sort_videos"`
	AllowTruncated bool         `mapstructure:"allow_truncated" yaml:"allow_truncated"`
	Limit          int          `mapstructure:"limit" yaml:"limit"`
}

// ShuffleFlags selects which splits are reshuffled every epoch.
type ShuffleFlags struct {
	Train bool `mapstructure:"train" yaml:"train"`
	Val   bool `mapstructure:"val" yaml:"val"`
	Test  bool `mapstructure:"test" yaml:"test"`
}

// ModelConfig sizes the classifier head and names the pretrained backbone.
// PositiveClass is the class index whose probability is the liveness score.
type ModelConfig struct {
	NumClasses     int    `mapstructure:"num_classes" yaml:"num_classes"`
	PretrainedPath string `mapstructure:"pretrained_path" yaml:"pretrained_path"`
	Seed           int64  `mapstructure:"seed" yaml:"seed"`
	PositiveClass  int    `mapstructure:"positive_class" yaml:"positive_class"`
}

// OptimConfig holds the SGD settings.
type OptimConfig struct {
	LR          float64         `mapstructure:"lr" yaml:"lr"`
	WeightDecay float64         `mapstructure:"weight_decay" yaml:"weight_decay"`
	Momentum    float64         `mapstructure:"momentum" yaml:"momentum"`
	Nesterov    bool            `mapstructure:"nesterov" yaml:"nesterov"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
}

// SchedulerConfig configures step decay: the rate is multiplied by Gamma
// every StepSize epochs when Advance is set.
type SchedulerConfig struct {
	Enabled  bool    `mapstructure:"enabled" yaml:"enabled"`
	StepSize int     `mapstructure:"step_size" yaml:"step_size"`
	Gamma    float64 `mapstructure:"gamma" yaml:"gamma"`
	Advance  bool    `mapstructure:"advance" yaml:"advance"`
}

// TrainConfig controls the epoch loop and where checkpoints go. Resume names
// a checkpoint to continue from.
type TrainConfig struct {
	Epochs           int    `mapstructure:"epochs" yaml:"epochs"`
	SavePath         string `mapstructure:"save_path" yaml:"save_path"`
	WeightFile       string `mapstructure:"weight_file" yaml:"weight_file"`
	Resume           string `mapstructure:"resume" yaml:"resume"`
	CheckpointFormat string `mapstructure:"checkpoint_format" yaml:"checkpoint_format"`
	LogPolicy        string `mapstructure:"log_policy" yaml:"log_policy"`
	TrainLogInterval int    `mapstructure:"train_log_interval" yaml:"train_log_interval"`
	EvalLogInterval  int    `mapstructure:"eval_log_interval" yaml:"eval_log_interval"`
}

// TestConfig names the weights to score the test split with.
type TestConfig struct {
	Weights    string `mapstructure:"weights" yaml:"weights"`
	ResultsCSV string `mapstructure:"results_csv" yaml:"results_csv"`
}

// VideoConfig controls frame sampling with ffmpeg for video scoring.
type VideoConfig struct {
	FFmpeg     string  `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	FPS        float64 `mapstructure:"fps" yaml:"fps"`
	MaxFrames  int     `mapstructure:"max_frames" yaml:"max_frames"`
	ResultsCSV string  `mapstructure:"results_csv" yaml:"results_csv"`
}

// Default returns the settings of the reference training run: VGG19 on two
// classes, batch 10 at 224x224, SGD at 0.001 with momentum 0.9.
func Default() Config {
	dd := data.DefaultConfig()
	rd := training.DefaultRunConfig()
	return Config{
		Device: "cpu",
		Data: DataConfig{
			TrainPath:     "data/train",
			ValPath:       "data/val",
			TestPath:      "data/test",
			TestVideoPath: "data/videos",
			BatchSize:     dd.BatchSize,
			ImageSize:     dd.ImageSize,
			NumWorkers:    dd.NumWorkers,
			Normalization: dd.Normalization.Name,
			Shuffle:       ShuffleFlags{Train: dd.Shuffle.Train, Val: dd.Shuffle.Val, Test: dd.Shuffle.Test},
			SortVideos:    dd.SortVideos,
		},
		Model: ModelConfig{
			NumClasses:    rd.NumClasses,
			PositiveClass: rd.PositiveClass,
		},
		Optim: OptimConfig{
			LR:       0.001,
			Momentum: 0.9,
			Scheduler: SchedulerConfig{
				StepSize: rd.Scheduler.StepSize,
				Gamma:    rd.Scheduler.Gamma,
				Advance:  rd.Scheduler.Advance,
			},
		},
		Train: TrainConfig{
			Epochs:           10,
			SavePath:         "weights",
			WeightFile:       "vgg19.pt",
			CheckpointFormat: checkpoints.FormatProto.String(),
			LogPolicy:        rd.LogPolicy.String(),
			TrainLogInterval: rd.TrainLogInterval,
			EvalLogInterval:  rd.EvalLogInterval,
		},
		Test: TestConfig{
			ResultsCSV: "results.csv",
		},
		Video: VideoConfig{
			FFmpeg:     "ffmpeg",
			FPS:        1,
			ResultsCSV: "video_results.csv",
		},
	}
}

// SetDefaults registers every field of Default with v so that environment
// variables and config files can override any of them.
func SetDefaults(v *viper.Viper) error {
	raw, err := yaml.Marshal(Default())
	if err != nil {
		return errors.Wrap(err, "encode defaults")
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return errors.Wrap(err, "decode defaults")
	}
	setTree(v, "", tree)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

func setTree(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			setTree(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Load reads the optional config file named by v, then unmarshals the
// merged settings and validates them.
func Load(v *viper.Viper) (Config, error) {
	if err := SetDefaults(v); err != nil {
		return Config{}, err
	}
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", v.ConfigFileUsed())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if _, err := device.Parse(c.Device); err != nil {
		return err
	}
	if c.Data.BatchSize <= 0 {
		return errors.Errorf("data.batch_size must be positive, got %d", c.Data.BatchSize)
	}
	if c.Data.ImageSize <= 0 {
		return errors.Errorf("data.image_size must be positive, got %d", c.Data.ImageSize)
	}
	if c.Data.NumWorkers <= 0 {
		return errors.Errorf("data.num_workers must be positive, got %d", c.Data.NumWorkers)
	}
	if _, err := preprocessing.ParseNormalization(c.Data.Normalization); err != nil {
		return err
	}
	if _, err := checkpoints.ParseFormat(c.Train.CheckpointFormat); err != nil {
		return err
	}
	if _, err := training.ParseLogPolicy(c.Train.LogPolicy); err != nil {
		return err
	}
	if c.Train.Epochs <= 0 {
		return errors.Errorf("train.epochs must be positive, got %d", c.Train.Epochs)
	}
	if c.Train.WeightFile == "" {
		return errors.New("train.weight_file is empty")
	}
	rc, err := c.RunConfig()
	if err != nil {
		return err
	}
	return rc.Validate()
}

// DataConfig converts the data section for the loading facade.
func (c Config) DataConfig() (data.Config, error) {
	norm, err := preprocessing.ParseNormalization(c.Data.Normalization)
	if err != nil {
		return data.Config{}, err
	}
	return data.Config{
		TrainPath:     c.Data.TrainPath,
		ValPath:       c.Data.ValPath,
		TestPath:      c.Data.TestPath,
		TestVideoPath: c.Data.TestVideoPath,
		BatchSize:     c.Data.BatchSize,
		ImageSize:     c.Data.ImageSize,
		NumWorkers:    c.Data.NumWorkers,
		CacheSize:     c.Data.CacheSize,
		Normalization: norm,
		Shuffle: data.SplitShuffle{
			Train: c.Data.Shuffle.Train,
			Val:   c.Data.Shuffle.Val,
			Test:  c.Data.Shuffle.Test,
		},
		SortVideos: c.Data.SortVideos,
		Decode:     preprocessing.DecodeOptions{AllowTruncated: c.Data.AllowTruncated},
		Limit:      c.Data.Limit,
		Seed:       c.Model.Seed,
	}, nil
}

// RunConfig converts the model, optim and train sections for the
// orchestrator.
func (c Config) RunConfig() (training.RunConfig, error) {
	format, err := checkpoints.ParseFormat(c.Train.CheckpointFormat)
	if err != nil {
		return training.RunConfig{}, err
	}
	policy, err := training.ParseLogPolicy(c.Train.LogPolicy)
	if err != nil {
		return training.RunConfig{}, err
	}

	rc := training.DefaultRunConfig()
	rc.Device = c.Device
	rc.NumClasses = c.Model.NumClasses
	rc.PretrainedPath = c.Model.PretrainedPath
	rc.Seed = c.Model.Seed
	rc.PositiveClass = c.Model.PositiveClass
	rc.Optim = optimizer.SGDConfig{
		LearningRate: c.Optim.LR,
		Momentum:     c.Optim.Momentum,
		WeightDecay:  c.Optim.WeightDecay,
		Nesterov:     c.Optim.Nesterov,
	}
	rc.Scheduler = training.SchedulerConfig{
		Enabled:  c.Optim.Scheduler.Enabled,
		StepSize: c.Optim.Scheduler.StepSize,
		Gamma:    c.Optim.Scheduler.Gamma,
		Advance:  c.Optim.Scheduler.Advance,
	}
	rc.LogPolicy = policy
	rc.TrainLogInterval = c.Train.TrainLogInterval
	rc.EvalLogInterval = c.Train.EvalLogInterval
	rc.CheckpointFormat = format
	rc.MetricsFile = c.MetricsFile
	return rc, nil
}

// Dump writes c as YAML.
func (c Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return errors.Wrap(enc.Close(), "encode config")
}
